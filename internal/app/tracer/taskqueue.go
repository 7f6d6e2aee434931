package tracer

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.TransactionEmulator = (*QueueEmulator)(nil)

const (
	defaultEmulatorQueue  = "emulator_task_queue"
	resultChannelPrefix   = "emulator_result_channel_"
	defaultEmulateTimeout = 30 * time.Second
)

// emulateTask is the msgpack payload handed to the emulator workers.
type emulateTask struct {
	ID string `msgpack:"id"`

	Account emulateAccount `msgpack:"account"`

	MsgHash []byte `msgpack:"msg_hash"`
	MsgBOC  []byte `msgpack:"msg_boc"`
}

type emulateAccount struct {
	Address  string `msgpack:"address"`
	Status   string `msgpack:"status"`
	Balance  uint64 `msgpack:"balance"`
	Code     []byte `msgpack:"code"`
	Data     []byte `msgpack:"data"`
	LastTxLT uint64 `msgpack:"last_tx_lt"`
}

type emulateResultMsg struct {
	Hash      []byte `msgpack:"hash"`
	Type      string `msgpack:"type"`
	Src       string `msgpack:"src"`
	Dst       string `msgpack:"dst"`
	Body      []byte `msgpack:"body"`
	CreatedLT uint64 `msgpack:"created_lt"`
}

type emulateResult struct {
	Error string `msgpack:"error"`

	TxHash  []byte             `msgpack:"tx_hash"`
	TxLT    uint64             `msgpack:"tx_lt"`
	RootBOC []byte             `msgpack:"root_boc"`
	OutMsgs []emulateResultMsg `msgpack:"out_msgs"`

	After emulateAccount `msgpack:"after"`
}

// QueueEmulator runs transactions through the external emulator
// workers: the task goes onto a Redis list, the result comes back on a
// per-task pub/sub channel.
type QueueEmulator struct {
	client  *redis.Client
	queue   string
	timeout time.Duration
}

func NewQueueEmulator(uri, queue string) (*QueueEmulator, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis uri")
	}
	if queue == "" {
		queue = defaultEmulatorQueue
	}
	return &QueueEmulator{
		client:  redis.NewClient(opts),
		queue:   queue,
		timeout: defaultEmulateTimeout,
	}, nil
}

func (e *QueueEmulator) Close() error {
	return e.client.Close()
}

func (e *QueueEmulator) Emulate(ctx context.Context, account *core.EmulatedAccount, msg *core.Message) (*core.EmulatedTx, error) {
	taskID := hex.EncodeToString(msg.Hash)

	task := emulateTask{
		ID: taskID,
		Account: emulateAccount{
			Address:  account.Address.String(),
			Status:   string(account.Status),
			Balance:  account.BalanceNano,
			Code:     account.Code,
			Data:     account.Data,
			LastTxLT: account.LastTxLT,
		},
		MsgHash: msg.Hash,
		MsgBOC:  msg.Body,
	}

	payload, err := msgpack.Marshal(&task)
	if err != nil {
		return nil, errors.Wrap(err, "marshal emulate task")
	}

	pubsub := e.client.Subscribe(ctx, resultChannelPrefix+taskID)
	defer func() { _ = pubsub.Close() }()

	if err := e.client.LPush(ctx, e.queue, payload).Err(); err != nil {
		return nil, errors.Wrap(err, "push emulate task")
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	m, err := pubsub.ReceiveMessage(waitCtx)
	if err != nil {
		return nil, errors.Wrapf(err, "wait for emulate result %s", taskID)
	}

	var res emulateResult
	if err := msgpack.Unmarshal([]byte(m.Payload), &res); err != nil {
		return nil, errors.Wrap(err, "unmarshal emulate result")
	}
	if res.Error != "" {
		return nil, errors.Wrapf(core.ErrVM, "emulate %s: %s", taskID, res.Error)
	}

	return mapEmulateResult(account, msg, &res)
}

func mapEmulateResult(account *core.EmulatedAccount, msg *core.Message, res *emulateResult) (*core.EmulatedTx, error) {
	tx := &core.Transaction{
		Hash:      res.TxHash,
		Address:   account.Address,
		InMsgHash: msg.Hash,
		InMsg:     msg,
		LT:        res.TxLT,
		RootBOC:   res.RootBOC,
	}

	for i := range res.OutMsgs {
		rm := &res.OutMsgs[i]

		out := &core.Message{
			Hash:      rm.Hash,
			Type:      core.MessageType(rm.Type),
			Body:      rm.Body,
			CreatedLT: rm.CreatedLT,
			SrcTxLT:   res.TxLT,
			SrcTxHash: res.TxHash,
		}
		if rm.Src != "" {
			src, err := new(addr.Address).FromString(rm.Src)
			if err != nil {
				return nil, errors.Wrapf(err, "parse emulated src address %s", rm.Src)
			}
			out.SrcAddress = *src
		}
		if rm.Dst != "" {
			dst, err := new(addr.Address).FromString(rm.Dst)
			if err != nil {
				return nil, errors.Wrapf(err, "parse emulated dst address %s", rm.Dst)
			}
			out.DstAddress = *dst
		}

		tx.OutMsg = append(tx.OutMsg, out)
	}

	after := &core.EmulatedAccount{
		Address:     account.Address,
		Status:      core.AccountStatus(res.After.Status),
		BalanceNano: res.After.Balance,
		Code:        res.After.Code,
		Data:        res.After.Data,
		LastTxLT:    res.After.LastTxLT,
	}

	return &core.EmulatedTx{Transaction: tx, OutMsgs: tx.OutMsg, After: after}, nil
}
