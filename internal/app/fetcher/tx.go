package fetcher

import (
	"context"

	"github.com/pkg/errors"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

const blockTransactionsPageSize = 100

func (s *Service) getTransaction(ctx context.Context, b *ton.BlockIDExt, id ton.TransactionShortInfo) (*tlb.Transaction, error) {
	a := address.NewAddress(0, byte(b.Workchain), id.Account)

	tx, err := s.API.GetTransaction(ctx, b, a, id.LT)
	if err != nil {
		return nil, errors.Wrapf(err, "get transaction (lt = %d)", id.LT)
	}
	return tx, nil
}

func (s *Service) blockTransactions(ctx context.Context, b *ton.BlockIDExt) ([]*tlb.Transaction, error) {
	var (
		after      *ton.TransactionID3
		fetchedIDs []ton.TransactionShortInfo
		ret        []*tlb.Transaction
		more       = true
		err        error
	)

	for more {
		fetchedIDs, more, err = s.API.GetBlockTransactionsV2(ctx, b, blockTransactionsPageSize, after)
		if err != nil {
			return nil, errors.Wrap(err, "get block transactions")
		}
		if len(fetchedIDs) > 0 {
			after = fetchedIDs[len(fetchedIDs)-1].ID3()
		}

		for _, id := range fetchedIDs {
			tx, err := s.getTransaction(ctx, b, id)
			if err != nil {
				return nil, err
			}
			ret = append(ret, tx)
		}
	}

	return ret, nil
}

// fetchRawBlock gets a block's transactions and the states of every
// account they touched.
func (s *Service) fetchRawBlock(ctx context.Context, b *ton.BlockIDExt, masterRef *core.BlockID) (*core.RawBlock, error) {
	raw := &core.RawBlock{
		ID:        core.BlockID{Workchain: b.Workchain, Shard: b.Shard, SeqNo: b.SeqNo},
		FileHash:  b.FileHash,
		RootHash:  b.RootHash,
		MasterRef: masterRef,
	}

	txs, err := s.blockTransactions(ctx, b)
	if err != nil {
		return nil, err
	}
	raw.Transactions = txs

	seen := make(map[string]struct{})
	for _, tx := range txs {
		if _, ok := seen[string(tx.AccountAddr)]; ok {
			continue
		}
		seen[string(tx.AccountAddr)] = struct{}{}

		a := address.NewAddress(0, byte(b.Workchain), tx.AccountAddr)
		acc, err := s.API.GetAccount(ctx, b, a)
		if err != nil {
			return nil, errors.Wrapf(err, "get account %s", a.String())
		}
		raw.Accounts = append(raw.Accounts, acc)
	}

	return raw, nil
}
