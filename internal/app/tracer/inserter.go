package tracer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.TraceInserter = (*RedisInserter)(nil)

const newTraceChannel = "new_trace"

// RedisInserter stores finished traces in the key-value store:
// one hash per trace keyed by node in-message hashes, one sorted set
// per account ordered by logical time, and a pub/sub notification.
type RedisInserter struct {
	client *redis.Client
}

func NewRedisInserter(uri string) (*RedisInserter, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis uri")
	}
	return &RedisInserter{client: redis.NewClient(opts)}, nil
}

func (r *RedisInserter) Close() error {
	return r.client.Close()
}

func nodeField(inMsgHash []byte) string {
	return hex.EncodeToString(inMsgHash)
}

func nodeMember(traceKey string, inMsgHash []byte) string {
	return fmt.Sprintf("%s:%s", traceKey, nodeField(inMsgHash))
}

func nodeRecord(n *core.TraceNode) *core.TraceNodeRecord {
	rec := &core.TraceNodeRecord{
		Transaction: core.TraceTxRecord{
			Account: n.Transaction.Address.String(),
			Hash:    n.Transaction.Hash,
			LT:      n.Transaction.LT,
			RootBOC: n.Transaction.RootBOC,
		},
		Emulated: n.Emulated,
	}
	for _, out := range n.Transaction.OutMsg {
		rec.Transaction.OutMsgs = append(rec.Transaction.OutMsgs, core.TraceMsgRef{Hash: out.Hash})
	}
	return rec
}

// Insert is idempotent per trace id: a previously stored subtree is
// deleted by walking its out-message references before the fresh tree
// goes in. The node, sorted-set and interface writes of the fresh tree
// and the publish go in one MULTI/EXEC transaction; the deletion of the
// prior subtree runs before it as separate commands, outside that
// transaction.
func (r *RedisInserter) Insert(ctx context.Context, t *core.Trace) error {
	if t == nil || t.Root == nil {
		return errors.New("empty trace")
	}

	traceKey := hex.EncodeToString(t.ID)

	if err := r.deleteSubtree(ctx, traceKey, t.Root.InMsgHash); err != nil {
		return errors.Wrap(err, "delete prior subtree")
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		t.Root.Walk(func(n *core.TraceNode) {
			payload, err := msgpack.Marshal(nodeRecord(n))
			if err != nil {
				log.Error().Err(err).Hex("in_msg_hash", n.InMsgHash).Msg("marshal trace node")
				return
			}

			pipe.HSet(ctx, traceKey, nodeField(n.InMsgHash), payload)
			pipe.ZAdd(ctx, n.Transaction.Address.String(), redis.Z{
				Score:  float64(n.Transaction.LT),
				Member: nodeMember(traceKey, n.InMsgHash),
			})
		})

		for rawAddr, kinds := range t.AccountInterfaces {
			names := make([]string, 0, len(kinds))
			for _, k := range kinds {
				names = append(names, string(k))
			}
			payload, err := msgpack.Marshal(names)
			if err != nil {
				return errors.Wrap(err, "marshal account interfaces")
			}
			pipe.HSet(ctx, traceKey, rawAddr, payload)
		}

		pipe.Publish(ctx, newTraceChannel, traceKey)
		return nil
	})

	return errors.Wrap(err, "trace tx pipeline")
}

// deleteSubtree removes a stored tree rooted at the given in-message
// hash, following out-message references recorded in node payloads.
func (r *RedisInserter) deleteSubtree(ctx context.Context, traceKey string, inMsgHash []byte) error {
	data, err := r.client.HGet(ctx, traceKey, nodeField(inMsgHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	var rec core.TraceNodeRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "unmarshal stored trace node")
	}

	for _, out := range rec.Transaction.OutMsgs {
		if err := r.deleteSubtree(ctx, traceKey, out.Hash); err != nil {
			return err
		}
	}

	if err := r.client.HDel(ctx, traceKey, nodeField(inMsgHash)).Err(); err != nil {
		return err
	}
	return errors.Wrap(
		r.client.ZRem(ctx, rec.Transaction.Account, nodeMember(traceKey, inMsgHash)).Err(),
		"zrem trace member")
}
