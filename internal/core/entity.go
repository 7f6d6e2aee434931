package core

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/uptrace/go-clickhouse/ch"

	"github.com/kdimentionaltree/ton-index-worker/addr"
)

// EntityKind tags the four interface-bearing contract variants.
type EntityKind string

const (
	KindJettonMaster  EntityKind = "jetton_master"
	KindJettonWallet  EntityKind = "jetton_wallet"
	KindNFTCollection EntityKind = "nft_collection"
	KindNFTItem       EntityKind = "nft_item"
)

// Entity is an interface-bearing account record keyed by address.
type Entity interface {
	Kind() EntityKind
	EntityAddress() *addr.Address
	LastLT() uint64
	Hashes() (code, data []byte)
}

type JettonMaster struct {
	ch.CHModel    `ch:"jetton_masters" json:"-"`
	bun.BaseModel `bun:"table:jetton_masters" json:"-"`

	Address addr.Address `ch:"type:String,pk" bun:"type:bytea,pk,notnull" json:"address"`

	TotalSupply  *bunbig.Int   `ch:"type:UInt256" bun:"type:numeric" json:"total_supply"`
	Mintable     bool          `bun:",notnull" json:"mintable"`
	AdminAddress *addr.Address `ch:"type:String" bun:"type:bytea" json:"admin_address,omitempty"`

	Content *TokenContent `ch:"type:String" bun:"type:jsonb" json:"content,omitempty"`

	WalletCodeHash []byte `bun:"type:bytea" json:"wallet_code_hash,omitempty"`

	CodeBOC []byte `bun:"type:bytea" json:"code_boc,omitempty"`
	DataBOC []byte `bun:"type:bytea" json:"data_boc,omitempty"`

	LastTxLT uint64 `bun:",notnull" json:"last_tx_lt"`
	DataHash []byte `bun:"type:bytea" json:"data_hash,omitempty"`
	CodeHash []byte `bun:"type:bytea" json:"code_hash,omitempty"`
}

func (m *JettonMaster) Kind() EntityKind             { return KindJettonMaster }
func (m *JettonMaster) EntityAddress() *addr.Address { return &m.Address }
func (m *JettonMaster) LastLT() uint64               { return m.LastTxLT }
func (m *JettonMaster) Hashes() ([]byte, []byte)     { return m.CodeHash, m.DataHash }

type JettonWallet struct {
	ch.CHModel    `ch:"jetton_wallets" json:"-"`
	bun.BaseModel `bun:"table:jetton_wallets" json:"-"`

	Address addr.Address `ch:"type:String,pk" bun:"type:bytea,pk,notnull" json:"address"`

	Balance       *bunbig.Int   `ch:"type:UInt256" bun:"type:numeric" json:"balance"`
	OwnerAddress  *addr.Address `ch:"type:String" bun:"type:bytea" json:"owner_address,omitempty"`
	MasterAddress *addr.Address `ch:"type:String" bun:"type:bytea" json:"master_address,omitempty"`

	CodeHash []byte `bun:"type:bytea" json:"code_hash,omitempty"`
	DataHash []byte `bun:"type:bytea" json:"data_hash,omitempty"`

	LastTxLT uint64 `bun:",notnull" json:"last_tx_lt"`

	// Unverified is set when the referenced master was not indexed yet
	// and the ownership check could not run.
	Unverified bool `bun:",notnull" json:"unverified,omitempty"`
}

func (w *JettonWallet) Kind() EntityKind             { return KindJettonWallet }
func (w *JettonWallet) EntityAddress() *addr.Address { return &w.Address }
func (w *JettonWallet) LastLT() uint64               { return w.LastTxLT }
func (w *JettonWallet) Hashes() ([]byte, []byte)     { return w.CodeHash, w.DataHash }

type NFTCollection struct {
	ch.CHModel    `ch:"nft_collections" json:"-"`
	bun.BaseModel `bun:"table:nft_collections" json:"-"`

	Address addr.Address `ch:"type:String,pk" bun:"type:bytea,pk,notnull" json:"address"`

	NextItemIndex *bunbig.Int   `ch:"type:UInt256" bun:"type:numeric" json:"next_item_index"`
	OwnerAddress  *addr.Address `ch:"type:String" bun:"type:bytea" json:"owner_address,omitempty"`

	Content *TokenContent `ch:"type:String" bun:"type:jsonb" json:"content,omitempty"`

	CodeBOC []byte `bun:"type:bytea" json:"code_boc,omitempty"`
	DataBOC []byte `bun:"type:bytea" json:"data_boc,omitempty"`

	LastTxLT uint64 `bun:",notnull" json:"last_tx_lt"`
	DataHash []byte `bun:"type:bytea" json:"data_hash,omitempty"`
	CodeHash []byte `bun:"type:bytea" json:"code_hash,omitempty"`
}

func (c *NFTCollection) Kind() EntityKind             { return KindNFTCollection }
func (c *NFTCollection) EntityAddress() *addr.Address { return &c.Address }
func (c *NFTCollection) LastLT() uint64               { return c.LastTxLT }
func (c *NFTCollection) Hashes() ([]byte, []byte)     { return c.CodeHash, c.DataHash }

type NFTItem struct {
	ch.CHModel    `ch:"nft_items" json:"-"`
	bun.BaseModel `bun:"table:nft_items" json:"-"`

	Address addr.Address `ch:"type:String,pk" bun:"type:bytea,pk,notnull" json:"address"`

	Initialized       bool          `bun:",notnull" json:"initialized"`
	Index             *bunbig.Int   `ch:"type:UInt256" bun:"type:numeric" json:"index"`
	CollectionAddress *addr.Address `ch:"type:String" bun:"type:bytea" json:"collection_address,omitempty"`
	OwnerAddress      *addr.Address `ch:"type:String" bun:"type:bytea" json:"owner_address,omitempty"`

	Content *TokenContent `ch:"type:String" bun:"type:jsonb" json:"content,omitempty"`

	CodeHash []byte `bun:"type:bytea" json:"code_hash,omitempty"`
	DataHash []byte `bun:"type:bytea" json:"data_hash,omitempty"`

	LastTxLT uint64 `bun:",notnull" json:"last_tx_lt"`
}

func (i *NFTItem) Kind() EntityKind             { return KindNFTItem }
func (i *NFTItem) EntityAddress() *addr.Address { return &i.Address }
func (i *NFTItem) LastLT() uint64               { return i.LastTxLT }
func (i *NFTItem) Hashes() ([]byte, []byte)     { return i.CodeHash, i.DataHash }

// EntityRepository persists interface-bearing entities and resolves
// cache misses by address.
type EntityRepository interface {
	UpsertEntity(ctx context.Context, e Entity) error

	GetJettonMaster(ctx context.Context, a addr.Address) (*JettonMaster, error)
	GetJettonWallet(ctx context.Context, a addr.Address) (*JettonWallet, error)
	GetNFTCollection(ctx context.Context, a addr.Address) (*NFTCollection, error)
	GetNFTItem(ctx context.Context, a addr.Address) (*NFTItem, error)
}
