package detector

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun/extra/bunbig"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/abi"
	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// DetectJettonMaster checks that get_jetton_data() returns
// (int total_supply, int mintable, slice admin_address,
// cell jetton_content, cell jetton_wallet_code).
func (s *Service) DetectJettonMaster(ctx context.Context, acc *core.AccountState) (*core.JettonMaster, error) {
	if err := s.precheck(acc, core.KindJettonMaster, "get_jetton_data"); err != nil {
		return nil, err
	}

	if cached, err := s.caches.getEntity(ctx, core.KindJettonMaster, acc.Address); err == nil {
		if m, ok := cached.(*core.JettonMaster); ok && authoritative(cached, acc.CodeHash, acc.DataHash, acc.LastTxLT) {
			return m, nil
		}
	}

	desc := abi.GetJettonDataDesc()
	stack, err := s.runGetter(ctx, acc, desc, nil)
	if err != nil {
		return nil, err
	}

	master := &core.JettonMaster{
		Address: acc.Address,

		TotalSupply: bunbig.FromMathBig(stack[0].Payload.(*big.Int)), //nolint:forcetypeassert // checked against descriptor
		Mintable:    stack[1].Payload.(bool),                         //nolint:forcetypeassert // checked against descriptor

		Content: mapContent(stack[3].Payload),

		CodeBOC: acc.Code,
		DataBOC: acc.Data,

		LastTxLT: acc.LastTxLT,
		CodeHash: acc.CodeHash,
		DataHash: acc.DataHash,
	}

	adminAddr, err := new(addr.Address).FromTonutils(stack[2].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil {
		return nil, errors.Wrap(core.ErrInterfaceParse, "get_jetton_data admin address parsing failed")
	}
	master.AdminAddress = adminAddr

	if walletCode := stack[4].Payload.(*cell.Cell); walletCode != nil { //nolint:forcetypeassert // checked against descriptor
		master.WalletCodeHash = walletCode.Hash()
	}

	s.caches.setCodeHash(acc.CodeHash, core.KindJettonMaster, true)
	s.caches.storeEntity(ctx, master)

	return master, nil
}

// DetectJettonWallet checks that get_wallet_data() returns
// (int balance, slice owner, slice jetton, cell jetton_wallet_code)
// and that the referenced master recognizes this wallet.
func (s *Service) DetectJettonWallet(ctx context.Context, acc *core.AccountState) (*core.JettonWallet, error) {
	if err := s.precheck(acc, core.KindJettonWallet, "get_wallet_data"); err != nil {
		return nil, err
	}

	if cached, err := s.caches.getEntity(ctx, core.KindJettonWallet, acc.Address); err == nil {
		if w, ok := cached.(*core.JettonWallet); ok && authoritative(cached, acc.CodeHash, acc.DataHash, acc.LastTxLT) {
			return w, nil
		}
	}

	desc := abi.GetWalletDataDesc()
	stack, err := s.runGetter(ctx, acc, desc, nil)
	if err != nil {
		return nil, err
	}

	owner, err := new(addr.Address).FromTonutils(stack[1].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil || owner == nil {
		return nil, errors.Wrap(core.ErrInterfaceParse, "get_wallet_data owner address parsing failed")
	}
	master, err := new(addr.Address).FromTonutils(stack[2].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil || master == nil {
		return nil, errors.Wrap(core.ErrInterfaceParse, "get_wallet_data jetton address parsing failed")
	}

	wallet := &core.JettonWallet{
		Address: acc.Address,

		Balance:       bunbig.FromMathBig(stack[0].Payload.(*big.Int)), //nolint:forcetypeassert // checked against descriptor
		OwnerAddress:  owner,
		MasterAddress: master,

		CodeHash: acc.CodeHash,
		DataHash: acc.DataHash,

		LastTxLT: acc.LastTxLT,
	}

	return s.verifyWalletBelongsToMaster(ctx, wallet)
}

// verifyWalletBelongsToMaster asks the master for the wallet address
// of the wallet's owner and compares it with the wallet itself. A
// master that is not indexed yet cannot be consulted; the wallet is
// accepted tentatively.
func (s *Service) verifyWalletBelongsToMaster(ctx context.Context, wallet *core.JettonWallet) (*core.JettonWallet, error) {
	masterEntity, err := s.caches.getEntity(ctx, core.KindJettonMaster, *wallet.MasterAddress)
	if errors.Is(err, core.ErrNotFound) {
		wallet.Unverified = true
		log.Warn().
			Str("wallet", wallet.Address.String()).
			Str("master", wallet.MasterAddress.String()).
			Msg("jetton master is not indexed yet, accepting wallet without verification")

		s.caches.setCodeHash(wallet.CodeHash, core.KindJettonWallet, true)
		s.caches.storeEntity(ctx, wallet)
		return wallet, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get jetton master")
	}

	master, ok := masterEntity.(*core.JettonMaster)
	if !ok {
		return nil, errors.Wrap(core.ErrInterfaceParse, "cached master entity has wrong kind")
	}

	got, err := s.getWalletAddress(ctx, master, wallet.OwnerAddress)
	if err != nil {
		return nil, err
	}

	if !addr.Equal(got, &wallet.Address) {
		log.Warn().
			Str("wallet", wallet.Address.String()).
			Str("master", master.Address.String()).
			Str("returned", got.String()).
			Msg("jetton master returned another wallet address")
		return nil, errors.Wrap(core.ErrInterfaceParse, "couldn't verify jetton wallet, possibly scam")
	}

	s.caches.setCodeHash(wallet.CodeHash, core.KindJettonWallet, true)
	s.caches.storeEntity(ctx, wallet)

	return wallet, nil
}

// getWalletAddress runs get_wallet_address(owner) on the master's
// stored code and data.
func (s *Service) getWalletAddress(ctx context.Context, master *core.JettonMaster, owner *addr.Address) (*addr.Address, error) {
	if len(master.CodeBOC) == 0 || len(master.DataBOC) == 0 {
		return nil, errors.Wrap(core.ErrInterfaceParse, "master has no stored code or data")
	}

	desc := abi.GetWalletAddressDesc()
	args := abi.VmStack{{VmValueDesc: desc.Arguments[0], Payload: owner.MustToTonutils()}}

	stack, err := s.execGetter(ctx, &master.Address, master.CodeBOC, master.DataBOC, desc, args)
	if err != nil {
		return nil, err
	}

	got, err := new(addr.Address).FromTonutils(stack[0].Payload.(*address.Address)) //nolint:forcetypeassert // checked against descriptor
	if err != nil || got == nil {
		return nil, errors.Wrap(core.ErrInterfaceParse, "get_wallet_address returned a malformed address")
	}
	return got, nil
}
