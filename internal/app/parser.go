package app

import (
	"context"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

type ParserConfig struct {
	Detector DetectorService
}

type ParserService interface {
	// ParseBlockData converts one masterchain height into the flat
	// record lists handed to the insert manager.
	ParseBlockData(ctx context.Context, ds *core.BlockDataState) (*core.ParsedBlock, error)

	// EnrichParsedBlock runs interface detection over the account
	// states of an already parsed block and fills in entities and
	// token events.
	EnrichParsedBlock(ctx context.Context, b *core.ParsedBlock) error
}
