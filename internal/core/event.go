package core

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/uptrace/go-clickhouse/ch"

	"github.com/kdimentionaltree/ton-index-worker/addr"
)

// Token events decoded from internal message bodies.

type JettonTransfer struct {
	ch.CHModel    `ch:"jetton_transfers" json:"-"`
	bun.BaseModel `bun:"table:jetton_transfers" json:"-"`

	TxHash  []byte       `ch:",pk" bun:"type:bytea,pk,notnull" json:"tx_hash"`
	TxLT    uint64       `bun:",notnull" json:"tx_lt"`
	Wallet  addr.Address `ch:"type:String" bun:"type:bytea,notnull" json:"wallet"`
	QueryID uint64       `json:"query_id"`

	Amount              *bunbig.Int   `ch:"type:UInt256" bun:"type:numeric" json:"amount"`
	Destination         *addr.Address `ch:"type:String" bun:"type:bytea" json:"destination,omitempty"`
	ResponseDestination *addr.Address `ch:"type:String" bun:"type:bytea" json:"response_destination,omitempty"`

	CustomPayload    []byte      `bun:"type:bytea" json:"custom_payload,omitempty"`
	ForwardTONAmount *bunbig.Int `ch:"type:UInt256" bun:"type:numeric" json:"forward_ton_amount,omitempty"`
	ForwardPayload   []byte      `bun:"type:bytea" json:"forward_payload,omitempty"`
}

type JettonBurn struct {
	ch.CHModel    `ch:"jetton_burns" json:"-"`
	bun.BaseModel `bun:"table:jetton_burns" json:"-"`

	TxHash  []byte       `ch:",pk" bun:"type:bytea,pk,notnull" json:"tx_hash"`
	TxLT    uint64       `bun:",notnull" json:"tx_lt"`
	Wallet  addr.Address `ch:"type:String" bun:"type:bytea,notnull" json:"wallet"`
	QueryID uint64       `json:"query_id"`

	Amount              *bunbig.Int   `ch:"type:UInt256" bun:"type:numeric" json:"amount"`
	ResponseDestination *addr.Address `ch:"type:String" bun:"type:bytea" json:"response_destination,omitempty"`

	CustomPayload []byte `bun:"type:bytea" json:"custom_payload,omitempty"`
}

type NFTTransfer struct {
	ch.CHModel    `ch:"nft_transfers" json:"-"`
	bun.BaseModel `bun:"table:nft_transfers" json:"-"`

	TxHash  []byte       `ch:",pk" bun:"type:bytea,pk,notnull" json:"tx_hash"`
	TxLT    uint64       `bun:",notnull" json:"tx_lt"`
	Item    addr.Address `ch:"type:String" bun:"type:bytea,notnull" json:"item"`
	QueryID uint64       `json:"query_id"`

	OldOwner            *addr.Address `ch:"type:String" bun:"type:bytea" json:"old_owner,omitempty"`
	NewOwner            *addr.Address `ch:"type:String" bun:"type:bytea" json:"new_owner,omitempty"`
	ResponseDestination *addr.Address `ch:"type:String" bun:"type:bytea" json:"response_destination,omitempty"`

	CustomPayload    []byte      `bun:"type:bytea" json:"custom_payload,omitempty"`
	ForwardTONAmount *bunbig.Int `ch:"type:UInt256" bun:"type:numeric" json:"forward_ton_amount,omitempty"`
	ForwardPayload   []byte      `bun:"type:bytea" json:"forward_payload,omitempty"`
}
