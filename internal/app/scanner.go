package app

import (
	"context"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// AccountStateSource iterates all account states at a fixed
// masterchain height in ascending address order.
type AccountStateSource interface {
	GetAccountStateBatch(ctx context.Context, mcSeqno uint32, cursor []byte, batchSize int) (states []*core.AccountState, nextCursor []byte, err error)
}

// CheckpointRepository persists the scanner cursor so an interrupted
// sweep resumes where it stopped.
type CheckpointRepository interface {
	SaveCheckpoint(ctx context.Context, mcSeqno uint32, cursor []byte) error
	GetCheckpoint(ctx context.Context, mcSeqno uint32) (cursor []byte, err error)
}

type ScannerConfig struct {
	States     AccountStateSource
	Detector   DetectorService
	Checkpoint CheckpointRepository

	MCSeqno uint32

	BatchSize       int
	IndexInterfaces bool

	FromCheckpoint bool
	CurAddr        []byte

	// SkipThreshold is the number of distinct no-interface addresses
	// after which a code hash joins the skip set.
	SkipThreshold int
}

type ScannerService interface {
	Run(ctx context.Context) error
}
