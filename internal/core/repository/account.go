package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/go-clickhouse/ch"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.AccountStateSource = (*AccountRepository)(nil)

type AccountRepository struct {
	ch *ch.DB
	pg *bun.DB
}

func NewAccountRepository(chDB *ch.DB, pgDB *bun.DB) *AccountRepository {
	return &AccountRepository{ch: chDB, pg: pgDB}
}

// GetAccountStateBatch returns the latest state per address at the
// given masterchain height, in ascending address order starting after
// the cursor. An empty next cursor means the sweep is done.
func (r *AccountRepository) GetAccountStateBatch(ctx context.Context, mcSeqno uint32, cursor []byte, batchSize int) ([]*core.AccountState, []byte, error) {
	var states []*core.AccountState

	q := r.pg.NewSelect().Model(&states).
		ColumnExpr("DISTINCT ON (address) *").
		Where("block_seq_no <= ?", mcSeqno).
		OrderExpr("address ASC, last_tx_lt DESC").
		Limit(batchSize)
	if len(cursor) > 0 {
		q = q.Where("address > ?", cursor)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, nil, errors.Wrap(core.ErrDB, err.Error())
	}

	if len(states) < batchSize {
		return states, nil, nil
	}

	last := states[len(states)-1].Address
	next := make([]byte, len(last))
	copy(next, last[:])

	return states, next, nil
}
