package parser

import (
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

func mapAccount(id core.BlockID, acc *tlb.Account) *core.AccountState {
	ret := new(core.AccountState)

	ret.BlockWorkchain = id.Workchain
	ret.BlockShard = id.Shard
	ret.BlockSeqNo = id.SeqNo

	ret.Status = core.NonExist
	if acc.State != nil {
		if acc.State.Address != nil {
			ret.Address = *addr.MustFromTonutils(acc.State.Address)
		}
		ret.Status = core.AccountStatus(acc.State.Status)
		ret.Balance = bunbig.FromMathBig(acc.State.Balance.NanoTON())
		ret.StateHash = acc.State.StateHash
	}
	if acc.Data != nil {
		ret.Data = acc.Data.ToBOC()
		ret.DataHash = acc.Data.Hash()
	}
	if acc.Code != nil {
		ret.Code = acc.Code.ToBOC()
		ret.CodeHash = acc.Code.Hash()
	}
	ret.LastTxLT = acc.LastTxLT
	ret.LastTxHash = acc.LastTxHash

	return ret
}

func mapMessageInternal(msg *core.Message, raw *tlb.InternalMessage) {
	msg.Type = core.Internal

	msg.SrcAddress = *addr.MustFromTonutils(raw.SrcAddr)
	msg.DstAddress = *addr.MustFromTonutils(raw.DstAddr)

	msg.Bounce = raw.Bounce
	msg.Bounced = raw.Bounced

	msg.Amount = bunbig.FromMathBig(raw.Amount.NanoTON())

	msg.IHRDisabled = raw.IHRDisabled
	msg.IHRFee = bunbig.FromMathBig(raw.IHRFee.NanoTON())
	msg.FwdFee = bunbig.FromMathBig(raw.FwdFee.NanoTON())

	msg.Body = raw.Body.ToBOC()
	msg.BodyHash = raw.Body.Hash()

	if raw.StateInit != nil && raw.StateInit.Code != nil {
		msg.StateInitCode = raw.StateInit.Code.ToBOC()
	}
	if raw.StateInit != nil && raw.StateInit.Data != nil {
		msg.StateInitData = raw.StateInit.Data.ToBOC()
	}

	msg.CreatedLT = raw.CreatedLT
	msg.CreatedAt = time.Unix(int64(raw.CreatedAt), 0)
}

func mapMessageExternal(msg *core.Message, rawTx *tlb.Transaction, rawMsg tlb.Message) {
	switch raw := rawMsg.Msg.(type) {
	case *tlb.ExternalMessage:
		msg.Type = core.ExternalIn

		msg.DstAddress = *addr.MustFromTonutils(raw.DstAddr)

		if raw.StateInit != nil && raw.StateInit.Code != nil {
			msg.StateInitCode = raw.StateInit.Code.ToBOC()
		}
		if raw.StateInit != nil && raw.StateInit.Data != nil {
			msg.StateInitData = raw.StateInit.Data.ToBOC()
		}

		msg.Body = raw.Body.ToBOC()
		msg.BodyHash = raw.Body.Hash()

		msg.CreatedLT = rawTx.LT
		msg.CreatedAt = time.Unix(int64(rawTx.Now), 0)

	case *tlb.ExternalMessageOut:
		msg.Type = core.ExternalOut

		msg.SrcAddress = *addr.MustFromTonutils(raw.SrcAddr)

		msg.Body = raw.Body.ToBOC()
		msg.BodyHash = raw.Body.Hash()

		msg.CreatedLT = raw.CreatedLT
		msg.CreatedAt = time.Unix(int64(raw.CreatedAt), 0)
	}
}

func parseOperationID(body []byte) (opID uint32, comment string, err error) {
	payload, err := cell.FromBOC(body)
	if err != nil {
		return 0, "", errors.Wrap(err, "msg body from boc")
	}
	slice := payload.BeginParse()

	op, err := slice.LoadUInt(32)
	if err != nil {
		return 0, "", errors.Wrap(err, "load op id uint")
	}

	if opID = uint32(op); opID != 0 {
		return opID, "", nil
	}

	// simple transfer with comment
	if comment, err = slice.LoadStringSnake(); err != nil {
		return 0, "", errors.Wrap(err, "load transfer comment")
	}

	return opID, comment, nil
}

func mapMessage(tx *tlb.Transaction, message tlb.Message) (*core.Message, error) {
	msg := new(core.Message)

	msgCell, err := tlb.ToCell(message.Msg)
	if err != nil {
		return nil, errors.Wrap(err, "cannot convert message to cell")
	}
	msg.Hash = msgCell.Hash()

	switch raw := message.Msg.(type) {
	case *tlb.InternalMessage:
		mapMessageInternal(msg, raw)

	case *tlb.ExternalMessage, *tlb.ExternalMessageOut:
		mapMessageExternal(msg, tx, message)
	}

	if msg.Body == nil {
		return msg, nil
	}

	msg.OperationID, msg.TransferComment, _ = parseOperationID(msg.Body)

	return msg, nil
}

func mapTransactionComputePhase(phase tlb.ComputePhase, tx *core.Transaction) {
	if p, ok := phase.Phase.(tlb.ComputePhaseVM); ok {
		tx.ComputeExitCode = p.Details.ExitCode
	}
}

func mapTransactionDescription(desc any, tx *core.Transaction) {
	if d, ok := desc.(tlb.TransactionDescriptionOrdinary); ok {
		if d.ActionPhase != nil {
			tx.ActionResultCode = d.ActionPhase.ResultCode
		}
		mapTransactionComputePhase(d.ComputePhase, tx)
	}
}

func mapTransaction(id core.BlockID, raw *tlb.Transaction) (*core.Transaction, error) {
	tx := &core.Transaction{
		Hash: raw.Hash,

		Address: *addr.MustFromTonutils(address.NewAddress(0, byte(id.Workchain), raw.AccountAddr)),

		BlockWorkchain: id.Workchain,
		BlockShard:     id.Shard,
		BlockSeqNo:     id.SeqNo,

		PrevTxHash: raw.PrevTxHash,
		PrevTxLT:   raw.PrevTxLT,

		TotalFees: bunbig.FromMathBig(raw.TotalFees.Coins.NanoTON()),

		OrigStatus: core.AccountStatus(raw.OrigStatus),
		EndStatus:  core.AccountStatus(raw.EndStatus),

		LT:        raw.LT,
		CreatedAt: time.Unix(int64(raw.Now), 0),
	}

	if rootCell, err := tlb.ToCell(raw); err == nil {
		tx.RootBOC = rootCell.ToBOC()
	}

	if raw.IO.In != nil && raw.IO.In.Msg != nil {
		in, err := mapMessage(raw, *raw.IO.In)
		if err != nil {
			return nil, errors.Wrap(err, "map incoming message")
		}
		in.DstTxLT, in.DstTxHash = tx.LT, tx.Hash
		in.DstShard, in.DstSeqNo = id.Shard, id.SeqNo
		tx.InMsg, tx.InMsgHash = in, in.Hash
	}

	if raw.IO.Out != nil {
		messages, err := raw.IO.Out.ToSlice()
		if err != nil {
			return nil, errors.Wrap(err, "getting outgoing tx messages")
		}
		for _, m := range messages {
			out, err := mapMessage(raw, m)
			if err != nil {
				return nil, errors.Wrap(err, "map outgoing message")
			}
			out.SrcTxLT, out.SrcTxHash = tx.LT, tx.Hash
			out.SrcShard, out.SrcSeqNo = id.Shard, id.SeqNo
			tx.OutMsg = append(tx.OutMsg, out)
		}
	}

	if raw.Description.Description != nil {
		c, err := tlb.ToCell(raw.Description.Description)
		if err != nil {
			return nil, errors.Wrap(err, "tx description to cell")
		}
		tx.Description = c.ToBOC()
		mapTransactionDescription(raw.Description.Description, tx)
	}

	return tx, nil
}
