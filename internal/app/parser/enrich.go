package parser

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/abi"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// EnrichParsedBlock classifies the block's account states and decodes
// token events from matched transactions. Detection misses are
// expected and never fail the block.
func (s *Service) EnrichParsedBlock(ctx context.Context, b *core.ParsedBlock) error {
	for _, acc := range b.Accounts {
		if acc.Status != core.Active || len(acc.Code) == 0 || len(acc.Data) == 0 {
			continue
		}

		entities, err := s.Detector.Detect(ctx, acc)
		if err != nil {
			if errors.Is(err, core.ErrInterfaceParse) || errors.Is(err, core.ErrVM) {
				continue
			}
			return errors.Wrapf(err, "detect interfaces of %s", acc.Address.String())
		}

		for _, e := range entities {
			switch v := e.(type) {
			case *core.JettonMaster:
				b.JettonMasters = append(b.JettonMasters, v)
			case *core.JettonWallet:
				b.JettonWallets = append(b.JettonWallets, v)
			case *core.NFTCollection:
				b.NFTCollections = append(b.NFTCollections, v)
			case *core.NFTItem:
				b.NFTItems = append(b.NFTItems, v)
			}
		}
	}

	s.parseTokenEvents(ctx, b)

	return nil
}

func (s *Service) parseTokenEvents(ctx context.Context, b *core.ParsedBlock) {
	for _, tx := range b.Transactions {
		in := tx.InMsg
		if in == nil || in.Type != core.Internal || len(in.Body) == 0 {
			continue
		}

		var err error

		switch in.OperationID {
		case abi.OpJettonTransfer:
			var ev *core.JettonTransfer
			if ev, err = s.Detector.ParseJettonTransfer(ctx, tx, in.Body); err == nil {
				b.JettonTransfers = append(b.JettonTransfers, ev)
			}

		case abi.OpJettonBurn:
			var ev *core.JettonBurn
			if ev, err = s.Detector.ParseJettonBurn(ctx, tx, in.Body); err == nil {
				b.JettonBurns = append(b.JettonBurns, ev)
			}

		case abi.OpNFTTransfer:
			var ev *core.NFTTransfer
			if ev, err = s.Detector.ParseNFTTransfer(ctx, tx, in.Body); err == nil {
				b.NFTTransfers = append(b.NFTTransfers, ev)
			}

		default:
			continue
		}

		if err != nil && !errors.Is(err, core.ErrEventParse) && !errors.Is(err, core.ErrNotFound) {
			log.Warn().Err(err).
				Hex("tx_hash", tx.Hash).
				Uint32("op_id", tx.InMsg.OperationID).
				Msg("parse token event")
		}
	}
}
