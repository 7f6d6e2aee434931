package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// BlockReader materializes chain data from the node database. It is an
// external collaborator; the worker is read-only against chain data.
type BlockReader interface {
	GetLastMasterchainSeqno(ctx context.Context) (uint32, error)
	Fetch(ctx context.Context, seqno uint32) (*core.BlockDataState, error)
}

// InsertManager queues parsed blocks for the database writers and
// reports queue depth for admission control.
type InsertManager interface {
	GetExistingSeqnos(ctx context.Context) ([]uint32, error)
	// Insert returns the post-admission queue status synchronously and
	// calls onInserted once the block is durably committed.
	Insert(ctx context.Context, b *core.ParsedBlock, onInserted func(error)) (core.QueueStatus, error)
	GetInsertQueueStatus(ctx context.Context) (core.QueueStatus, error)
}

type IndexerConfig struct {
	Reader   BlockReader
	Parser   ParserService
	Inserter InsertManager

	FromSeqno uint32

	MaxActiveTasks int
	QueueCaps      core.QueueStatus

	SchedulePeriod time.Duration
}

type IndexerService interface {
	Start() error
	Stop()
}

func TimeTrack(start time.Time, fun string, args ...any) {
	elapsed := float64(time.Since(start)) / 1e9
	if elapsed < 0.1 {
		return
	}
	log.Debug().Str("func", fmt.Sprintf(fun, args...)).Float64("elapsed", elapsed).Msg("timer")
}
