package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/go-clickhouse/ch"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ core.BlockRepository = (*BlockRepository)(nil)

type BlockRepository struct {
	ch *ch.DB
	pg *bun.DB
}

func NewBlockRepository(chDB *ch.DB, pgDB *bun.DB) *BlockRepository {
	return &BlockRepository{ch: chDB, pg: pgDB}
}

func (r *BlockRepository) AddBlocks(ctx context.Context, tx bun.Tx, blocks []*core.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	_, err := tx.NewInsert().Model(&blocks).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}

	_, err = r.ch.NewInsert().Model(&blocks).Exec(ctx)
	if err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}

	return nil
}

func (r *BlockRepository) GetLastMasterSeqno(ctx context.Context) (uint32, error) {
	ret := new(core.Block)

	err := r.pg.NewSelect().Model(ret).
		Where("workchain = ?", -1).
		Order("seq_no DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(core.ErrDB, err.Error())
	}

	return ret.SeqNo, nil
}

func (r *BlockRepository) GetExistingSeqnos(ctx context.Context) ([]uint32, error) {
	var ret []uint32

	err := r.pg.NewSelect().Model((*core.Block)(nil)).
		Column("seq_no").
		Where("workchain = ?", -1).
		Order("seq_no ASC").
		Scan(ctx, &ret)
	if err != nil {
		return nil, errors.Wrap(core.ErrDB, err.Error())
	}

	return ret, nil
}
