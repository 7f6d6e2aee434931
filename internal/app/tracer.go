package app

import (
	"context"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// TransactionEmulator computes the hypothetical next transaction for a
// message that was not yet observed in a committed block. The virtual
// machine behind it is an external collaborator.
type TransactionEmulator interface {
	Emulate(ctx context.Context, account *core.EmulatedAccount, msg *core.Message) (*core.EmulatedTx, error)
}

// TraceInserter persists finished traces into the key-value store.
type TraceInserter interface {
	Insert(ctx context.Context, t *core.Trace) error
}

type TracerConfig struct {
	Parser   ParserService
	Detector DetectorService

	Emulator TransactionEmulator
	Inserter TraceInserter

	// MaxDepth caps emulation recursion per trace.
	MaxDepth int
}

type TracerService interface {
	// EmulateBlockTraces extends every cross-contract chain starting
	// in the given masterchain height and hands finished traces to the
	// inserter.
	EmulateBlockTraces(ctx context.Context, ds *core.BlockDataState) error
}
