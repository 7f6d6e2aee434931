package core

import (
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/uptrace/go-clickhouse/ch"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/kdimentionaltree/ton-index-worker/addr"
)

type Transaction struct {
	ch.CHModel    `ch:"transactions,partition:toYYYYMM(created_at)" json:"-"`
	bun.BaseModel `bun:"table:transactions" json:"-"`

	Hash []byte `ch:",pk" bun:"type:bytea,pk,notnull" json:"hash"`

	Address addr.Address `ch:"type:String" bun:"type:bytea,notnull" json:"address"`

	BlockWorkchain int32  `bun:",notnull" json:"block_workchain"`
	BlockShard     int64  `bun:",notnull" json:"block_shard"`
	BlockSeqNo     uint32 `bun:",notnull" json:"block_seq_no"`

	PrevTxHash []byte `bun:"type:bytea" json:"prev_tx_hash,omitempty"`
	PrevTxLT   uint64 `json:"prev_tx_lt,omitempty"`

	InMsgHash []byte     `bun:"type:bytea" json:"in_msg_hash,omitempty"`
	InMsg     *Message   `ch:"-" bun:"rel:belongs-to,join:in_msg_hash=hash" json:"in_msg,omitempty"`
	OutMsg    []*Message `ch:"-" bun:"rel:has-many,join:address=src_address,join:created_lt=src_tx_lt" json:"out_msg,omitempty"`

	TotalFees *bunbig.Int `ch:"type:UInt256" bun:"type:numeric" json:"total_fees"`

	StateUpdate []byte `bun:"type:bytea" json:"state_update,omitempty"`
	Description []byte `bun:"type:bytea" json:"description,omitempty"`

	OrigStatus AccountStatus `ch:",lc" bun:"type:account_status,notnull" json:"orig_status"`
	EndStatus  AccountStatus `ch:",lc" bun:"type:account_status,notnull" json:"end_status"`

	ComputeExitCode  int32 `json:"compute_exit_code"`
	ActionResultCode int32 `json:"action_result_code"`

	LT        uint64    `ch:",pk" bun:",pk,notnull" json:"lt"`
	CreatedAt time.Time `bun:",notnull" json:"created_at"`

	// RootBOC is carried through trace emulation and serialization,
	// never persisted to the databases.
	RootBOC []byte `ch:"-" bun:"-" json:"root_boc,omitempty" msgpack:"root_boc"`
}

type MessageType string

const (
	Internal    = MessageType(tlb.MsgTypeInternal)
	ExternalIn  = MessageType(tlb.MsgTypeExternalIn)
	ExternalOut = MessageType(tlb.MsgTypeExternalOut)
)

type Message struct {
	ch.CHModel    `ch:"messages,partition:type,toYYYYMM(created_at)" json:"-"`
	bun.BaseModel `bun:"table:messages" json:"-"`

	Hash []byte `ch:",pk" bun:"type:bytea,pk,notnull" json:"hash"`

	Type MessageType `ch:",lc" bun:"type:message_type,notnull" json:"type"`

	SrcAddress addr.Address `ch:"type:String" bun:"type:bytea" json:"src_address,omitempty"`
	DstAddress addr.Address `ch:"type:String" bun:"type:bytea" json:"dst_address,omitempty"`

	// SrcTx and DstTx sides are merged by the parser from the producing
	// and consuming transactions.
	SrcTxLT    uint64 `json:"src_tx_lt,omitempty"`
	SrcTxHash  []byte `bun:"type:bytea" json:"src_tx_hash,omitempty"`
	DstTxLT    uint64 `json:"dst_tx_lt,omitempty"`
	DstTxHash  []byte `bun:"type:bytea" json:"dst_tx_hash,omitempty"`
	SrcShard   int64  `json:"src_shard,omitempty"`
	DstShard   int64  `json:"dst_shard,omitempty"`
	SrcSeqNo   uint32 `json:"src_seq_no,omitempty"`
	DstSeqNo   uint32 `json:"dst_seq_no,omitempty"`

	Bounce  bool `bun:",notnull" json:"bounce"`
	Bounced bool `bun:",notnull" json:"bounced"`

	Amount *bunbig.Int `ch:"type:UInt256" bun:"type:numeric" json:"amount,omitempty"`

	IHRDisabled bool        `bun:",notnull" json:"ihr_disabled"`
	IHRFee      *bunbig.Int `ch:"type:UInt256" bun:"type:numeric" json:"ihr_fee,omitempty"`
	FwdFee      *bunbig.Int `ch:"type:UInt256" bun:"type:numeric" json:"fwd_fee,omitempty"`

	Body            []byte `bun:"type:bytea" json:"body,omitempty"`
	BodyHash        []byte `bun:"type:bytea" json:"body_hash,omitempty"`
	OperationID     uint32 `json:"operation_id,omitempty"`
	TransferComment string `json:"transfer_comment,omitempty"`

	StateInitCode []byte `bun:"type:bytea" json:"state_init_code,omitempty"`
	StateInitData []byte `bun:"type:bytea" json:"state_init_data,omitempty"`

	CreatedLT uint64    `ch:",pk" bun:",notnull" json:"created_lt"`
	CreatedAt time.Time `bun:",notnull" json:"created_at"`
}
