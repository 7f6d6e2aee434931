package parser

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// ParseBlockData converts a materialized masterchain height into the
// flat record lists handed downstream. Messages observed from both
// their producing and consuming transactions are merged by hash.
func (s *Service) ParseBlockData(ctx context.Context, ds *core.BlockDataState) (*core.ParsedBlock, error) {
	if ds == nil || ds.Master == nil {
		return nil, errors.New("empty block data state")
	}

	ret := &core.ParsedBlock{MCSeqno: ds.Master.ID.SeqNo}

	raws := append([]*core.RawBlock{ds.Master}, ds.ShardBlocks...)

	for _, raw := range raws {
		b := &core.Block{
			BlockID:   raw.ID,
			FileHash:  raw.FileHash,
			RootHash:  raw.RootHash,
			MasterID:  raw.MasterRef,
			ScannedAt: time.Now(),
		}
		if raw.MasterRef != nil {
			b.MasterSeqNo = raw.MasterRef.SeqNo
		}

		for _, rawTx := range raw.Transactions {
			tx, err := mapTransaction(raw.ID, rawTx)
			if err != nil {
				return nil, errors.Wrapf(err, "map transaction of block (%d, %x, %d)",
					raw.ID.Workchain, raw.ID.Shard, raw.ID.SeqNo)
			}
			b.Transactions = append(b.Transactions, tx)
			ret.Transactions = append(ret.Transactions, tx)
		}

		for _, rawAcc := range raw.Accounts {
			ret.Accounts = append(ret.Accounts, mapAccount(raw.ID, rawAcc))
		}

		ret.Blocks = append(ret.Blocks, b)
	}

	ret.Messages = uniqMessages(ret.Transactions)

	return ret, nil
}

func addMessage(msg *core.Message, uniq map[string]*core.Message) {
	id := string(msg.Hash)

	if _, ok := uniq[id]; !ok {
		uniq[id] = msg
		return
	}

	if msg.SrcTxLT != 0 {
		uniq[id].SrcTxLT, uniq[id].SrcTxHash = msg.SrcTxLT, msg.SrcTxHash
		uniq[id].SrcShard, uniq[id].SrcSeqNo = msg.SrcShard, msg.SrcSeqNo
	}
	if msg.DstTxLT != 0 {
		uniq[id].DstTxLT, uniq[id].DstTxHash = msg.DstTxLT, msg.DstTxHash
		uniq[id].DstShard, uniq[id].DstSeqNo = msg.DstShard, msg.DstSeqNo
	}
}

func uniqMessages(transactions []*core.Transaction) []*core.Message {
	var ret []*core.Message

	uniq := make(map[string]*core.Message)

	for _, tx := range transactions {
		if tx.InMsg != nil {
			addMessage(tx.InMsg, uniq)
		}
		for _, out := range tx.OutMsg {
			addMessage(out, uniq)
		}
	}

	for _, msg := range uniq {
		ret = append(ret, msg)
	}

	return ret
}
