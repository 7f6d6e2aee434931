package repository

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.InsertManager = (*InsertManager)(nil)

const defaultInsertWorkers = 4

type insertTask struct {
	block      *core.ParsedBlock
	onInserted func(error)
}

// InsertManager queues parsed blocks and commits them with a pool of
// workers. Queue counters answer the scheduler's admission checks.
type InsertManager struct {
	db *DB

	blockRepo *BlockRepository

	queue chan insertTask

	status   core.QueueStatus
	statusMx sync.Mutex

	wg   sync.WaitGroup
	stop chan struct{}
}

func NewInsertManager(db *DB, workers int) *InsertManager {
	if workers <= 0 {
		workers = defaultInsertWorkers
	}

	m := &InsertManager{
		db:        db,
		blockRepo: NewBlockRepository(db.CH, db.PG),
		queue:     make(chan insertTask, 1024),
		stop:      make(chan struct{}),
	}

	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}

	return m
}

func (m *InsertManager) Close() {
	close(m.stop)
	m.wg.Wait()
}

func (m *InsertManager) GetExistingSeqnos(ctx context.Context) ([]uint32, error) {
	return m.blockRepo.GetExistingSeqnos(ctx)
}

func (m *InsertManager) GetInsertQueueStatus(_ context.Context) (core.QueueStatus, error) {
	m.statusMx.Lock()
	defer m.statusMx.Unlock()
	return m.status, nil
}

// Insert admits the block into the queue and returns the post-admission
// queue status. onInserted fires once the block is durably committed.
func (m *InsertManager) Insert(ctx context.Context, b *core.ParsedBlock, onInserted func(error)) (core.QueueStatus, error) {
	w := b.QueueWeight()

	m.statusMx.Lock()
	m.status = m.status.Add(w)
	status := m.status
	m.statusMx.Unlock()

	select {
	case m.queue <- insertTask{block: b, onInserted: onInserted}:
		return status, nil

	case <-ctx.Done():
		m.release(w)
		return core.QueueStatus{}, errors.Wrap(core.ErrDB, "insert queue is not accepting")
	}
}

func (m *InsertManager) release(w core.QueueStatus) {
	m.statusMx.Lock()
	m.status = m.status.Sub(w)
	m.statusMx.Unlock()
}

func (m *InsertManager) worker() {
	defer m.wg.Done()

	for {
		select {
		case task := <-m.queue:
			err := m.commit(context.Background(), task.block)
			m.release(task.block.QueueWeight())
			if task.onInserted != nil {
				task.onInserted(err)
			}

		case <-m.stop:
			return
		}
	}
}

func (m *InsertManager) commit(ctx context.Context, b *core.ParsedBlock) error {
	defer app.TimeTrack(time.Now(), "commit(%d)", b.MCSeqno)

	dbTx, err := m.db.PG.Begin()
	if err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if err := m.insertRecords(ctx, dbTx, b); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}

	log.Debug().Uint32("mc_seqno", b.MCSeqno).Msg("committed parsed block")
	return nil
}

//nolint:gocognit // plain sequence of bulk inserts
func (m *InsertManager) insertRecords(ctx context.Context, dbTx bun.Tx, b *core.ParsedBlock) error {
	if len(b.Accounts) > 0 {
		if _, err := dbTx.NewInsert().Model(&b.Accounts).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
		if _, err := m.db.CH.NewInsert().Model(&b.Accounts).Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
	}

	if len(b.Messages) > 0 {
		if _, err := dbTx.NewInsert().Model(&b.Messages).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
		if _, err := m.db.CH.NewInsert().Model(&b.Messages).Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
	}

	if len(b.Transactions) > 0 {
		if _, err := dbTx.NewInsert().Model(&b.Transactions).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
		if _, err := m.db.CH.NewInsert().Model(&b.Transactions).Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
	}

	if err := m.blockRepo.AddBlocks(ctx, dbTx, b.Blocks); err != nil {
		return err
	}

	events := make([]any, 0, 3)
	if len(b.JettonTransfers) > 0 {
		events = append(events, &b.JettonTransfers)
	}
	if len(b.JettonBurns) > 0 {
		events = append(events, &b.JettonBurns)
	}
	if len(b.NFTTransfers) > 0 {
		events = append(events, &b.NFTTransfers)
	}
	for _, ev := range events {
		if _, err := dbTx.NewInsert().Model(ev).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
		if _, err := m.db.CH.NewInsert().Model(ev).Exec(ctx); err != nil {
			return errors.Wrap(core.ErrDB, err.Error())
		}
	}

	return nil
}
