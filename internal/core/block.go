package core

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/go-clickhouse/ch"
	"github.com/xssnick/tonutils-go/tlb"
)

type BlockID struct {
	Workchain int32  `ch:",pk" bun:",pk,notnull" json:"workchain"`
	Shard     int64  `ch:",pk" bun:",pk,notnull" json:"shard"`
	SeqNo     uint32 `ch:",pk" bun:",pk,notnull" json:"seq_no"`
}

type Block struct {
	ch.CHModel    `ch:"block_info,partition:workchain" json:"-"`
	bun.BaseModel `bun:"table:block_info" json:"-"`

	BlockID

	FileHash []byte `ch:",pk" bun:"type:bytea,unique,notnull" json:"file_hash"`
	RootHash []byte `ch:",pk" bun:"type:bytea,unique,notnull" json:"root_hash"`

	MasterID *BlockID `ch:"-" bun:"-" json:"master,omitempty"`

	MasterSeqNo uint32 `json:"-"`

	Shards []*Block `ch:"-" bun:"-" json:"shards,omitempty"`

	Transactions []*Transaction `ch:"-" bun:"rel:has-many,join:workchain=block_workchain,join:shard=block_shard,join:seq_no=block_seq_no" json:"transactions,omitempty"`

	ScannedAt time.Time `bun:",notnull" json:"scanned_at"`
}

// RawBlock is one block materialized by the reader: its identity plus
// the decoded transactions and end-of-block account states.
type RawBlock struct {
	ID        BlockID
	FileHash  []byte
	RootHash  []byte
	MasterRef *BlockID

	Transactions []*tlb.Transaction
	Accounts     []*tlb.Account
}

// BlockDataState is everything the reader materializes for one
// masterchain height: the master block, the shard blocks it references
// and the shard diff against the previous height, plus config and
// library snapshots. It lives for the duration of one seqno's pipeline.
type BlockDataState struct {
	Master *RawBlock

	ShardBlocks []*RawBlock
	ShardsDiff  []*RawBlock

	ConfigBOC    []byte
	LibrariesBOC []byte
}

// ParsedBlock is the value record handed from the parser through the
// scheduler to the insert manager.
type ParsedBlock struct {
	MCSeqno uint32 `json:"mc_seqno"`

	Blocks       []*Block        `json:"blocks"` // master first, then shards
	Transactions []*Transaction  `json:"transactions"`
	Messages     []*Message      `json:"messages"`
	Accounts     []*AccountState `json:"accounts"`

	JettonMasters  []*JettonMaster  `json:"jetton_masters,omitempty"`
	JettonWallets  []*JettonWallet  `json:"jetton_wallets,omitempty"`
	NFTCollections []*NFTCollection `json:"nft_collections,omitempty"`
	NFTItems       []*NFTItem       `json:"nft_items,omitempty"`

	JettonTransfers []*JettonTransfer `json:"jetton_transfers,omitempty"`
	JettonBurns     []*JettonBurn     `json:"jetton_burns,omitempty"`
	NFTTransfers    []*NFTTransfer    `json:"nft_transfers,omitempty"`
}

type BlockRepository interface {
	AddBlocks(ctx context.Context, tx bun.Tx, blocks []*Block) error
	GetLastMasterSeqno(ctx context.Context) (uint32, error)
	GetExistingSeqnos(ctx context.Context) ([]uint32, error)
}

func (b *ParsedBlock) QueueWeight() QueueStatus {
	return QueueStatus{
		MCBlocks: 1,
		Blocks:   len(b.Blocks),
		Txs:      len(b.Transactions),
		Msgs:     len(b.Messages),
	}
}
