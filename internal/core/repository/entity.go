package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/go-clickhouse/ch"

	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ core.EntityRepository = (*EntityRepository)(nil)

type EntityRepository struct {
	ch *ch.DB
	pg *bun.DB
}

func NewEntityRepository(chDB *ch.DB, pgDB *bun.DB) *EntityRepository {
	return &EntityRepository{ch: chDB, pg: pgDB}
}

// UpsertEntity replaces the relational row and appends the columnar
// history record.
func (r *EntityRepository) UpsertEntity(ctx context.Context, e core.Entity) error {
	_, err := r.pg.NewInsert().Model(e).
		On("CONFLICT (address) DO UPDATE").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}

	if _, err := r.ch.NewInsert().Model(e).Exec(ctx); err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}

	return nil
}

func (r *EntityRepository) get(ctx context.Context, model any, a addr.Address) error {
	err := r.pg.NewSelect().Model(model).
		Where("address = ?", &a).
		Order("last_tx_lt DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(core.ErrDB, err.Error())
	}
	return nil
}

func (r *EntityRepository) GetJettonMaster(ctx context.Context, a addr.Address) (*core.JettonMaster, error) {
	ret := new(core.JettonMaster)
	if err := r.get(ctx, ret, a); err != nil {
		return nil, err
	}
	return ret, nil
}

func (r *EntityRepository) GetJettonWallet(ctx context.Context, a addr.Address) (*core.JettonWallet, error) {
	ret := new(core.JettonWallet)
	if err := r.get(ctx, ret, a); err != nil {
		return nil, err
	}
	return ret, nil
}

func (r *EntityRepository) GetNFTCollection(ctx context.Context, a addr.Address) (*core.NFTCollection, error) {
	ret := new(core.NFTCollection)
	if err := r.get(ctx, ret, a); err != nil {
		return nil, err
	}
	return ret, nil
}

func (r *EntityRepository) GetNFTItem(ctx context.Context, a addr.Address) (*core.NFTItem, error) {
	ret := new(core.NFTItem)
	if err := r.get(ctx, ret, a); err != nil {
		return nil, err
	}
	return ret, nil
}
