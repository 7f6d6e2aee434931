package rndm

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/uptrace/bun/extra/bunbig"

	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var lt uint64 = 1000

func String(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func Bytes(l int) []byte {
	token := make([]byte, l)
	rand.Read(token)
	return token
}

func Address() *addr.Address {
	a, err := new(addr.Address).FromString(fmt.Sprintf("0:%x", Bytes(32)))
	if err != nil {
		panic(err)
	}
	return a
}

func BigInt() *bunbig.Int {
	return bunbig.FromUInt64(rand.Uint64())
}

func LT() uint64 {
	lt += uint64(rand.Intn(100)) + 1
	return lt
}

func BlockID(workchain int32, seqNo uint32) core.BlockID {
	return core.BlockID{
		Workchain: workchain,
		Shard:     int64(-0x8000000000000000),
		SeqNo:     seqNo,
	}
}

func Message(src, dst *addr.Address) *core.Message {
	return &core.Message{
		Hash:       Bytes(32),
		Type:       core.Internal,
		SrcAddress: *src,
		DstAddress: *dst,
		Amount:     BigInt(),
		Body:       Bytes(16),
		BodyHash:   Bytes(32),
		CreatedLT:  LT(),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func ExternalInMessage(dst *addr.Address) *core.Message {
	m := Message(dst, dst)
	m.Type = core.ExternalIn
	m.SrcAddress = addr.Address{}
	return m
}

func Transaction(id core.BlockID, a *addr.Address) *core.Transaction {
	return &core.Transaction{
		Hash:           Bytes(32),
		Address:        *a,
		BlockWorkchain: id.Workchain,
		BlockShard:     id.Shard,
		BlockSeqNo:     id.SeqNo,
		TotalFees:      BigInt(),
		OrigStatus:     core.Active,
		EndStatus:      core.Active,
		LT:             LT(),
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		RootBOC:        Bytes(64),
	}
}

// TransactionWithMessages links an in-message and n out-messages to a
// fresh transaction.
func TransactionWithMessages(id core.BlockID, a *addr.Address, in *core.Message, outs int) *core.Transaction {
	tx := Transaction(id, a)

	if in != nil {
		in.DstTxLT, in.DstTxHash = tx.LT, tx.Hash
		tx.InMsg, tx.InMsgHash = in, in.Hash
	}

	for i := 0; i < outs; i++ {
		out := Message(a, Address())
		out.SrcTxLT, out.SrcTxHash = tx.LT, tx.Hash
		tx.OutMsg = append(tx.OutMsg, out)
	}

	return tx
}

func AccountState(a *addr.Address) *core.AccountState {
	return &core.AccountState{
		Address:    *a,
		Status:     core.Active,
		Balance:    BigInt(),
		LastTxLT:   LT(),
		LastTxHash: Bytes(32),
		Code:       Bytes(32),
		CodeHash:   Bytes(32),
		Data:       Bytes(32),
		DataHash:   Bytes(32),
	}
}

func Block(workchain int32, seqNo uint32, txs int) *core.Block {
	b := &core.Block{
		BlockID:   BlockID(workchain, seqNo),
		FileHash:  Bytes(32),
		RootHash:  Bytes(32),
		ScannedAt: time.Now().UTC().Truncate(time.Second),
	}
	for i := 0; i < txs; i++ {
		b.Transactions = append(b.Transactions,
			TransactionWithMessages(b.BlockID, Address(), ExternalInMessage(Address()), 1))
	}
	return b
}
