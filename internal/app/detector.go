package app

import (
	"context"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

type DetectorConfig struct {
	EntityRepo core.EntityRepository

	// ConfigBOC is the blockchain config snapshot the getter VM is
	// seeded with.
	ConfigBOC []byte

	// EntityCacheCapacity bounds the per-address entity cache.
	EntityCacheCapacity int
}

// DetectorService classifies accounts by running interface getters on
// their code and data and parses token events from message bodies.
type DetectorService interface {
	DetectJettonMaster(ctx context.Context, acc *core.AccountState) (*core.JettonMaster, error)
	DetectJettonWallet(ctx context.Context, acc *core.AccountState) (*core.JettonWallet, error)
	DetectNFTCollection(ctx context.Context, acc *core.AccountState) (*core.NFTCollection, error)
	DetectNFTItem(ctx context.Context, acc *core.AccountState) (*core.NFTItem, error)

	// Detect tries every interface in turn and returns all matches.
	Detect(ctx context.Context, acc *core.AccountState) ([]core.Entity, error)

	ParseJettonTransfer(ctx context.Context, tx *core.Transaction, body []byte) (*core.JettonTransfer, error)
	ParseJettonBurn(ctx context.Context, tx *core.Transaction, body []byte) (*core.JettonBurn, error)
	ParseNFTTransfer(ctx context.Context, tx *core.Transaction, body []byte) (*core.NFTTransfer, error)

	// VMInvocations counts getter executions, for cache observability.
	VMInvocations() uint64
}
