package detector

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/abi"
	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// Token event bodies (TEP-74, TEP-62):
//
//	transfer#0f8a7ea5 query_id:uint64 amount:(VarUInteger 16)
//	  destination:MsgAddress response_destination:MsgAddress
//	  custom_payload:(Maybe ^Cell) forward_ton_amount:(VarUInteger 16)
//	  forward_payload:(Either Cell ^Cell) = InternalMsgBody;
//	burn#595f07bc query_id:uint64 amount:(VarUInteger 16)
//	  response_destination:MsgAddress custom_payload:(Maybe ^Cell)
//	  = InternalMsgBody;
//	transfer#5fcc3d14 query_id:uint64 new_owner:MsgAddress
//	  response_destination:MsgAddress custom_payload:(Maybe ^Cell)
//	  forward_amount:(VarUInteger 16) forward_payload:(Either Cell ^Cell)
//	  = InternalMsgBody;

// requireEntity makes sure the transaction's account was already
// classified with the expected interface. A miss is an event parse
// failure, not a detection trigger.
func (s *Service) requireEntity(ctx context.Context, kind core.EntityKind, a addr.Address) error {
	_, err := s.caches.getEntity(ctx, kind, a)
	if errors.Is(err, core.ErrNotFound) {
		return errors.Wrapf(core.ErrEventParse, "%s %s is not indexed", kind, a.String())
	}
	return err
}

func bodySlice(body []byte, op uint32) (*cell.Slice, error) {
	payload, err := cell.FromBOC(body)
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "body from boc")
	}
	slice := payload.BeginParse()

	gotOp, err := slice.LoadUInt(32)
	if err != nil || uint32(gotOp) != op {
		return nil, errors.Wrap(core.ErrEventParse, "unexpected operation id")
	}
	return slice, nil
}

func loadAddrField(slice *cell.Slice, field string) (*addr.Address, error) {
	a, err := slice.LoadAddr()
	if err != nil {
		return nil, errors.Wrapf(core.ErrEventParse, "load %s address", field)
	}
	ret, err := new(addr.Address).FromTonutils(a)
	if err != nil {
		return nil, errors.Wrapf(core.ErrEventParse, "malformed %s address", field)
	}
	return ret, nil
}

func loadMaybePayload(slice *cell.Slice, field string) ([]byte, error) {
	has, err := slice.LoadUInt(1)
	if err != nil {
		return nil, errors.Wrapf(core.ErrEventParse, "load %s maybe bit", field)
	}
	if has == 0 {
		return nil, nil
	}
	ref, err := slice.LoadRef()
	if err != nil {
		return nil, errors.Wrapf(core.ErrEventParse, "load %s ref", field)
	}
	c, err := ref.ToCell()
	if err != nil {
		return nil, errors.Wrapf(core.ErrEventParse, "%s to cell", field)
	}
	return c.ToBOC(), nil
}

func (s *Service) ParseJettonTransfer(ctx context.Context, tx *core.Transaction, body []byte) (*core.JettonTransfer, error) {
	if err := s.requireEntity(ctx, core.KindJettonWallet, tx.Address); err != nil {
		return nil, err
	}

	slice, err := bodySlice(body, abi.OpJettonTransfer)
	if err != nil {
		return nil, err
	}

	ret := &core.JettonTransfer{
		TxHash: tx.Hash,
		TxLT:   tx.LT,
		Wallet: tx.Address,
	}

	queryID, err := slice.LoadUInt(64)
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "load query id")
	}
	ret.QueryID = queryID

	amount, err := slice.LoadBigCoins()
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "load transfer amount")
	}
	ret.Amount = bunbig.FromMathBig(amount)

	if ret.Destination, err = loadAddrField(slice, "destination"); err != nil {
		return nil, err
	}
	if ret.ResponseDestination, err = loadAddrField(slice, "response destination"); err != nil {
		return nil, err
	}
	if ret.CustomPayload, err = loadMaybePayload(slice, "custom payload"); err != nil {
		return nil, err
	}

	fwdAmount, err := slice.LoadBigCoins()
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "load forward ton amount")
	}
	ret.ForwardTONAmount = bunbig.FromMathBig(fwdAmount)

	if ret.ForwardPayload, err = loadMaybePayload(slice, "forward payload"); err != nil {
		return nil, err
	}

	return ret, nil
}

func (s *Service) ParseJettonBurn(ctx context.Context, tx *core.Transaction, body []byte) (*core.JettonBurn, error) {
	if err := s.requireEntity(ctx, core.KindJettonWallet, tx.Address); err != nil {
		return nil, err
	}

	slice, err := bodySlice(body, abi.OpJettonBurn)
	if err != nil {
		return nil, err
	}

	ret := &core.JettonBurn{
		TxHash: tx.Hash,
		TxLT:   tx.LT,
		Wallet: tx.Address,
	}

	queryID, err := slice.LoadUInt(64)
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "load query id")
	}
	ret.QueryID = queryID

	amount, err := slice.LoadBigCoins()
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "load burn amount")
	}
	ret.Amount = bunbig.FromMathBig(amount)

	if ret.ResponseDestination, err = loadAddrField(slice, "response destination"); err != nil {
		return nil, err
	}
	if ret.CustomPayload, err = loadMaybePayload(slice, "custom payload"); err != nil {
		return nil, err
	}

	return ret, nil
}

func (s *Service) ParseNFTTransfer(ctx context.Context, tx *core.Transaction, body []byte) (*core.NFTTransfer, error) {
	if err := s.requireEntity(ctx, core.KindNFTItem, tx.Address); err != nil {
		return nil, err
	}

	slice, err := bodySlice(body, abi.OpNFTTransfer)
	if err != nil {
		return nil, err
	}

	ret := &core.NFTTransfer{
		TxHash: tx.Hash,
		TxLT:   tx.LT,
		Item:   tx.Address,
	}

	if tx.InMsg != nil {
		old := tx.InMsg.SrcAddress
		ret.OldOwner = &old
	}

	queryID, err := slice.LoadUInt(64)
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "load query id")
	}
	ret.QueryID = queryID

	if ret.NewOwner, err = loadAddrField(slice, "new owner"); err != nil {
		return nil, err
	}
	if ret.ResponseDestination, err = loadAddrField(slice, "response destination"); err != nil {
		return nil, err
	}
	if ret.CustomPayload, err = loadMaybePayload(slice, "custom payload"); err != nil {
		return nil, err
	}

	fwdAmount, err := slice.LoadBigCoins()
	if err != nil {
		return nil, errors.Wrap(core.ErrEventParse, "load forward amount")
	}
	ret.ForwardTONAmount = bunbig.FromMathBig(fwdAmount)

	if ret.ForwardPayload, err = loadMaybePayload(slice, "forward payload"); err != nil {
		return nil, err
	}

	return ret, nil
}
