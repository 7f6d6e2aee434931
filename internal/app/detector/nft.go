package detector

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/ton/nft"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/abi"
	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// DetectNFTCollection checks that get_collection_data() returns
// (int next_item_index, cell collection_content, slice owner_address).
func (s *Service) DetectNFTCollection(ctx context.Context, acc *core.AccountState) (*core.NFTCollection, error) {
	if err := s.precheck(acc, core.KindNFTCollection, "get_collection_data"); err != nil {
		return nil, err
	}

	if cached, err := s.caches.getEntity(ctx, core.KindNFTCollection, acc.Address); err == nil {
		if c, ok := cached.(*core.NFTCollection); ok && authoritative(cached, acc.CodeHash, acc.DataHash, acc.LastTxLT) {
			return c, nil
		}
	}

	desc := abi.GetCollectionDataDesc()
	stack, err := s.runGetter(ctx, acc, desc, nil)
	if err != nil {
		return nil, err
	}

	collection := &core.NFTCollection{
		Address: acc.Address,

		NextItemIndex: bunbig.FromMathBig(stack[0].Payload.(*big.Int)), //nolint:forcetypeassert // checked against descriptor

		Content: mapContent(stack[1].Payload),

		CodeBOC: acc.Code,
		DataBOC: acc.Data,

		LastTxLT: acc.LastTxLT,
		CodeHash: acc.CodeHash,
		DataHash: acc.DataHash,
	}

	owner, err := new(addr.Address).FromTonutils(stack[2].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil {
		return nil, errors.Wrap(core.ErrInterfaceParse, "get_collection_data owner address parsing failed")
	}
	collection.OwnerAddress = owner

	s.caches.setCodeHash(acc.CodeHash, core.KindNFTCollection, true)
	s.caches.storeEntity(ctx, collection)

	return collection, nil
}

// DetectNFTItem checks that get_nft_data() returns (int init, int
// index, slice collection_address, slice owner_address, cell
// individual_content) and that a non-null collection recognizes the
// item.
func (s *Service) DetectNFTItem(ctx context.Context, acc *core.AccountState) (*core.NFTItem, error) {
	if err := s.precheck(acc, core.KindNFTItem, "get_nft_data"); err != nil {
		return nil, err
	}

	if cached, err := s.caches.getEntity(ctx, core.KindNFTItem, acc.Address); err == nil {
		if i, ok := cached.(*core.NFTItem); ok && authoritative(cached, acc.CodeHash, acc.DataHash, acc.LastTxLT) {
			return i, nil
		}
	}

	desc := abi.GetNFTDataDesc()
	stack, err := s.runGetter(ctx, acc, desc, nil)
	if err != nil {
		return nil, err
	}

	indexBytes := stack[1].Payload.([]byte) //nolint:forcetypeassert // checked against descriptor

	item := &core.NFTItem{
		Address: acc.Address,

		Initialized: stack[0].Payload.(bool), //nolint:forcetypeassert // checked against descriptor
		Index:       bunbig.FromMathBig(new(big.Int).SetBytes(indexBytes)),

		CodeHash: acc.CodeHash,
		DataHash: acc.DataHash,

		LastTxLT: acc.LastTxLT,
	}

	owner, err := new(addr.Address).FromTonutils(stack[3].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil {
		return nil, errors.Wrap(core.ErrInterfaceParse, "get_nft_data owner address parsing failed")
	}
	item.OwnerAddress = owner

	collectionAddr, err := new(addr.Address).FromTonutils(stack[2].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil {
		return nil, errors.Wrap(core.ErrInterfaceParse, "get_nft_data collection address parsing failed")
	}

	individualContent := stack[4].Payload.(*cell.Cell) //nolint:forcetypeassert // checked against descriptor

	if collectionAddr == nil {
		// a standalone item carries its full content itself
		if individualContent != nil {
			if content, err := nft.ContentFromCell(individualContent); err == nil {
				item.Content = mapContent(content)
			} else {
				log.Warn().Err(err).Str("item", acc.Address.String()).Msg("parse standalone nft content")
			}
		}

		s.caches.setCodeHash(acc.CodeHash, core.KindNFTItem, true)
		s.caches.storeEntity(ctx, item)
		return item, nil
	}

	item.CollectionAddress = collectionAddr

	collectionEntity, err := s.caches.getEntity(ctx, core.KindNFTCollection, *collectionAddr)
	if errors.Is(err, core.ErrNotFound) {
		return nil, errors.Wrapf(core.ErrCollectionNotIndexed, "%s", collectionAddr.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "get nft collection")
	}

	collection, ok := collectionEntity.(*core.NFTCollection)
	if !ok {
		return nil, errors.Wrap(core.ErrInterfaceParse, "cached collection entity has wrong kind")
	}

	item.Content = s.getNFTItemContent(ctx, collection, indexBytes, individualContent)

	if err := s.verifyItemBelongsToCollection(ctx, collection, item, indexBytes); err != nil {
		return nil, err
	}

	s.caches.setCodeHash(acc.CodeHash, core.KindNFTItem, true)
	s.caches.storeEntity(ctx, item)

	return item, nil
}

// getNFTItemContent derives the canonical per-item content through the
// collection's get_nft_content getter. Failure leaves content empty.
func (s *Service) getNFTItemContent(ctx context.Context, collection *core.NFTCollection, indexBytes []byte, individualContent *cell.Cell) *core.TokenContent {
	if len(collection.CodeBOC) == 0 || len(collection.DataBOC) == 0 {
		return nil
	}

	desc := abi.GetNFTContentDesc()
	args := abi.VmStack{
		{VmValueDesc: desc.Arguments[0], Payload: indexBytes},
		{VmValueDesc: desc.Arguments[1], Payload: individualContent},
	}

	stack, err := s.execGetter(ctx, &collection.Address, collection.CodeBOC, collection.DataBOC, desc, args)
	if err != nil {
		log.Warn().Err(err).
			Str("collection", collection.Address.String()).
			Msg("execute get_nft_content")
		return nil
	}

	return mapContent(stack[0].Payload)
}

func (s *Service) verifyItemBelongsToCollection(ctx context.Context, collection *core.NFTCollection, item *core.NFTItem, indexBytes []byte) error {
	if len(collection.CodeBOC) == 0 || len(collection.DataBOC) == 0 {
		return errors.Wrap(core.ErrInterfaceParse, "collection has no stored code or data")
	}

	desc := abi.GetNFTAddressByIndexDesc()
	args := abi.VmStack{{VmValueDesc: desc.Arguments[0], Payload: indexBytes}}

	stack, err := s.execGetter(ctx, &collection.Address, collection.CodeBOC, collection.DataBOC, desc, args)
	if err != nil {
		return err
	}

	got, err := new(addr.Address).FromTonutils(stack[0].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil || got == nil {
		return errors.Wrap(core.ErrInterfaceParse, "get_nft_address_by_index returned a malformed address")
	}

	if !addr.Equal(got, &item.Address) {
		log.Warn().
			Str("item", item.Address.String()).
			Str("collection", collection.Address.String()).
			Str("returned", got.String()).
			Msg("collection returned another item address")
		return errors.Wrap(core.ErrInterfaceParse, "nft item doesn't belong to the referred collection")
	}

	return nil
}
