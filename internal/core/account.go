package core

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/uptrace/go-clickhouse/ch"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/kdimentionaltree/ton-index-worker/addr"
)

type AccountStatus string

const (
	Uninit   = AccountStatus(tlb.AccountStatusUninit)
	Active   = AccountStatus(tlb.AccountStatusActive)
	Frozen   = AccountStatus(tlb.AccountStatusFrozen)
	NonExist = AccountStatus(tlb.AccountStatusNonExist)
)

type AccountState struct {
	ch.CHModel    `ch:"account_states,partition:status" json:"-"`
	bun.BaseModel `bun:"table:account_states" json:"-"`

	Address addr.Address  `ch:"type:String,pk" bun:"type:bytea,pk,notnull" json:"address"`
	Status  AccountStatus `ch:",lc" bun:"type:account_status,notnull" json:"status"`

	Balance *bunbig.Int `ch:"type:UInt256" bun:"type:numeric" json:"balance"`

	LastTxLT   uint64 `ch:",pk" bun:",pk,notnull" json:"last_tx_lt"`
	LastTxHash []byte `bun:"type:bytea,notnull" json:"last_tx_hash"`

	StateHash []byte `bun:"type:bytea" json:"state_hash,omitempty"` // only if frozen

	Code     []byte `bun:"type:bytea" json:"code,omitempty"`
	CodeHash []byte `bun:"type:bytea" json:"code_hash,omitempty"`
	Data     []byte `bun:"type:bytea" json:"data,omitempty"`
	DataHash []byte `bun:"type:bytea" json:"data_hash,omitempty"`

	BlockWorkchain int32  `json:"block_workchain"`
	BlockShard     int64  `json:"block_shard"`
	BlockSeqNo     uint32 `json:"block_seq_no"`
}
