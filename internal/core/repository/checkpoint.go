package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.CheckpointRepository = (*CheckpointRepository)(nil)

// scannerCheckpoint persists the state scanner cursor per masterchain
// height.
type scannerCheckpoint struct {
	bun.BaseModel `bun:"table:scanner_checkpoints"`

	MCSeqno   uint32    `bun:",pk,notnull"`
	CurAddr   []byte    `bun:"type:bytea"`
	UpdatedAt time.Time `bun:",notnull"`
}

type CheckpointRepository struct {
	pg *bun.DB
}

func NewCheckpointRepository(pgDB *bun.DB) *CheckpointRepository {
	return &CheckpointRepository{pg: pgDB}
}

func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, mcSeqno uint32, cursor []byte) error {
	cp := &scannerCheckpoint{
		MCSeqno:   mcSeqno,
		CurAddr:   cursor,
		UpdatedAt: time.Now(),
	}

	_, err := r.pg.NewInsert().Model(cp).
		On("CONFLICT (mc_seqno) DO UPDATE").
		Set("cur_addr = EXCLUDED.cur_addr").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}
	return nil
}

func (r *CheckpointRepository) GetCheckpoint(ctx context.Context, mcSeqno uint32) ([]byte, error) {
	cp := new(scannerCheckpoint)

	err := r.pg.NewSelect().Model(cp).
		Where("mc_seqno = ?", mcSeqno).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(core.ErrDB, err.Error())
	}

	return cp.CurAddr, nil
}
