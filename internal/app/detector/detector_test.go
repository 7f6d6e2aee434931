package detector

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/ton/nft"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/abi"
	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
	"github.com/kdimentionaltree/ton-index-worker/internal/core/rndm"
)

var ctx = context.Background()

type fakeRepo struct {
	mx       sync.Mutex
	entities map[string]core.Entity
	upserts  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{entities: map[string]core.Entity{}}
}

func key(kind core.EntityKind, a addr.Address) string {
	return string(kind) + "|" + a.String()
}

func (r *fakeRepo) UpsertEntity(_ context.Context, e core.Entity) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.entities[key(e.Kind(), *e.EntityAddress())] = e
	r.upserts++
	return nil
}

func (r *fakeRepo) get(kind core.EntityKind, a addr.Address) (core.Entity, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if e, ok := r.entities[key(kind, a)]; ok {
		return e, nil
	}
	return nil, core.ErrNotFound
}

func (r *fakeRepo) GetJettonMaster(_ context.Context, a addr.Address) (*core.JettonMaster, error) {
	e, err := r.get(core.KindJettonMaster, a)
	if err != nil {
		return nil, err
	}
	return e.(*core.JettonMaster), nil
}

func (r *fakeRepo) GetJettonWallet(_ context.Context, a addr.Address) (*core.JettonWallet, error) {
	e, err := r.get(core.KindJettonWallet, a)
	if err != nil {
		return nil, err
	}
	return e.(*core.JettonWallet), nil
}

func (r *fakeRepo) GetNFTCollection(_ context.Context, a addr.Address) (*core.NFTCollection, error) {
	e, err := r.get(core.KindNFTCollection, a)
	if err != nil {
		return nil, err
	}
	return e.(*core.NFTCollection), nil
}

func (r *fakeRepo) GetNFTItem(_ context.Context, a addr.Address) (*core.NFTItem, error) {
	e, err := r.get(core.KindNFTItem, a)
	if err != nil {
		return nil, err
	}
	return e.(*core.NFTItem), nil
}

// stackFunc answers get methods per name; the detector's VM counter
// still ticks through the service wrapper.
type stackFunc func(method string, args abi.VmStack) (abi.VmStack, error)

func newTestDetector(repo *fakeRepo, f stackFunc) *Service {
	if f == nil {
		f = func(method string, _ abi.VmStack) (abi.VmStack, error) {
			return nil, errors.Wrap(core.ErrVM, method)
		}
	}

	s := NewService(&app.DetectorConfig{EntityRepo: repo, EntityCacheCapacity: 1024})
	s.execGetter = func(_ context.Context, _ *addr.Address, _, _ []byte, desc abi.GetMethodDesc, args abi.VmStack) (abi.VmStack, error) {
		s.invocations.Add(1)
		ret, err := f(desc.Name, args)
		if err != nil {
			return nil, err
		}
		for i := range ret {
			ret[i].VmValueDesc = desc.ReturnValues[i]
		}
		return ret, nil
	}
	return s
}

func accountState(a *addr.Address, lt uint64) *core.AccountState {
	acc := rndm.AccountState(a)
	acc.Code = []byte("not-a-boc-code")
	acc.Data = []byte("not-a-boc-data")
	acc.LastTxLT = lt
	return acc
}

func vals(payloads ...any) abi.VmStack {
	ret := make(abi.VmStack, len(payloads))
	for i := range payloads {
		ret[i].Payload = payloads[i]
	}
	return ret
}

func masterStack(admin *addr.Address) abi.VmStack {
	return vals(
		big.NewInt(1_000_000),
		true,
		admin.MustToTonutils(),
		nft.ContentAny(&nft.ContentOffchain{URI: "https://example.com/jetton.json"}),
		(*cell.Cell)(nil),
	)
}

// scenario: detect returns a jetton master, a second call with a
// higher lt and unchanged code and data is answered from the cache
// with zero VM invocations
func TestDetector_JettonMasterCacheHit(t *testing.T) {
	admin := rndm.Address()

	s := newTestDetector(newFakeRepo(), func(method string, _ abi.VmStack) (abi.VmStack, error) {
		require.Equal(t, "get_jetton_data", method)
		return masterStack(admin), nil
	})

	acc := accountState(rndm.Address(), 100)

	first, err := s.DetectJettonMaster(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.VMInvocations())
	assert.True(t, addr.Equal(admin, first.AdminAddress))

	// same code and data, fresher lt
	again := *acc
	again.LastTxLT = 200

	second, err := s.DetectJettonMaster(ctx, &again)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.VMInvocations(), "cached entity must be returned without running the VM")
	assert.Equal(t, first, second)
}

func TestDetector_CodeHashVerdictNeverFlips(t *testing.T) {
	s := newTestDetector(newFakeRepo(), func(string, abi.VmStack) (abi.VmStack, error) {
		return nil, errors.Wrap(core.ErrVM, "no such method")
	})

	hash := []byte("codehash")

	s.caches.setCodeHash(hash, core.KindJettonMaster, true)
	s.caches.setCodeHash(hash, core.KindJettonMaster, false)

	verdict, known := s.caches.checkCodeHash(hash, core.KindJettonMaster)
	assert.True(t, known)
	assert.True(t, verdict)
}

func TestDetector_KnownFalseFailsFast(t *testing.T) {
	s := newTestDetector(newFakeRepo(), func(string, abi.VmStack) (abi.VmStack, error) {
		t.Fatal("the VM must not run for a known-false code hash")
		return nil, nil
	})

	acc := accountState(rndm.Address(), 10)
	s.caches.setCodeHash(acc.CodeHash, core.KindJettonMaster, false)

	_, err := s.DetectJettonMaster(ctx, acc)
	assert.ErrorIs(t, err, core.ErrInterfaceParse)
	assert.Zero(t, s.VMInvocations())
}

func walletEnv() (repo *fakeRepo, masterAddr, owner *addr.Address) {
	repo = newFakeRepo()

	masterAddr, owner = rndm.Address(), rndm.Address()
	repo.entities[key(core.KindJettonMaster, *masterAddr)] = &core.JettonMaster{
		Address:  *masterAddr,
		CodeBOC:  []byte("master-code"),
		DataBOC:  []byte("master-data"),
		LastTxLT: 1,
	}

	return repo, masterAddr, owner
}

// scenario: the master resolves a different wallet address for the
// owner, the wallet is rejected and not cached
func TestDetector_WalletCrossVerifyFail(t *testing.T) {
	walletAddr := rndm.Address()
	repo, masterAddr, owner := walletEnv()

	s := newTestDetector(repo, func(method string, _ abi.VmStack) (abi.VmStack, error) {
		switch method {
		case "get_wallet_data":
			return vals(big.NewInt(500), owner.MustToTonutils(), masterAddr.MustToTonutils(), (*cell.Cell)(nil)), nil
		case "get_wallet_address":
			return vals(rndm.Address().MustToTonutils()), nil // W' != W
		}
		return nil, errors.Wrap(core.ErrVM, method)
	})

	acc := accountState(walletAddr, 50)

	_, err := s.DetectJettonWallet(ctx, acc)
	assert.ErrorIs(t, err, core.ErrInterfaceParse)
	assert.ErrorContains(t, err, "possibly scam")

	_, err = repo.get(core.KindJettonWallet, *walletAddr)
	assert.ErrorIs(t, err, core.ErrNotFound, "a rejected wallet must not be cached")
}

func TestDetector_WalletVerified(t *testing.T) {
	walletAddr := rndm.Address()
	repo, masterAddr, owner := walletEnv()

	s := newTestDetector(repo, func(method string, _ abi.VmStack) (abi.VmStack, error) {
		switch method {
		case "get_wallet_data":
			return vals(big.NewInt(500), owner.MustToTonutils(), masterAddr.MustToTonutils(), (*cell.Cell)(nil)), nil
		case "get_wallet_address":
			return vals(walletAddr.MustToTonutils()), nil
		}
		return nil, errors.Wrap(core.ErrVM, method)
	})

	acc := accountState(walletAddr, 50)

	wallet, err := s.DetectJettonWallet(ctx, acc)
	require.NoError(t, err)
	assert.False(t, wallet.Unverified)
	assert.True(t, addr.Equal(masterAddr, wallet.MasterAddress))

	cached, err := repo.get(core.KindJettonWallet, *walletAddr)
	require.NoError(t, err)
	assert.Equal(t, wallet, cached)
}

// an unindexed master cannot confirm the wallet: it is accepted
// tentatively and marked unverified
func TestDetector_WalletUnindexedMaster(t *testing.T) {
	repo := newFakeRepo()

	walletAddr, masterAddr, owner := rndm.Address(), rndm.Address(), rndm.Address()

	s := newTestDetector(repo, func(method string, _ abi.VmStack) (abi.VmStack, error) {
		if method == "get_wallet_data" {
			return vals(big.NewInt(7), owner.MustToTonutils(), masterAddr.MustToTonutils(), (*cell.Cell)(nil)), nil
		}
		return nil, errors.Wrap(core.ErrVM, method)
	})

	wallet, err := s.DetectJettonWallet(ctx, accountState(walletAddr, 10))
	require.NoError(t, err)
	assert.True(t, wallet.Unverified)

	_, err = repo.get(core.KindJettonWallet, *walletAddr)
	assert.NoError(t, err, "a tentatively accepted wallet is cached")
}

func TestDetector_ItemCollectionNotIndexed(t *testing.T) {
	itemAddr, collectionAddr, owner := rndm.Address(), rndm.Address(), rndm.Address()

	s := newTestDetector(newFakeRepo(), func(method string, _ abi.VmStack) (abi.VmStack, error) {
		if method == "get_nft_data" {
			return vals(
				true,
				big.NewInt(42).Bytes(),
				collectionAddr.MustToTonutils(),
				owner.MustToTonutils(),
				(*cell.Cell)(nil),
			), nil
		}
		return nil, errors.Wrap(core.ErrVM, method)
	})

	_, err := s.DetectNFTItem(ctx, accountState(itemAddr, 10))
	assert.ErrorIs(t, err, core.ErrCollectionNotIndexed)
}

func itemEnv(repo *fakeRepo) (collectionAddr *addr.Address) {
	collectionAddr = rndm.Address()
	repo.entities[key(core.KindNFTCollection, *collectionAddr)] = &core.NFTCollection{
		Address:  *collectionAddr,
		CodeBOC:  []byte("collection-code"),
		DataBOC:  []byte("collection-data"),
		LastTxLT: 1,
	}
	return collectionAddr
}

// the collection resolves index 42 back to the item's own address
func TestDetector_ItemVerified(t *testing.T) {
	repo := newFakeRepo()
	collectionAddr := itemEnv(repo)

	itemAddr, owner := rndm.Address(), rndm.Address()

	s := newTestDetector(repo, func(method string, args abi.VmStack) (abi.VmStack, error) {
		switch method {
		case "get_nft_data":
			return vals(
				true,
				big.NewInt(42).Bytes(),
				collectionAddr.MustToTonutils(),
				owner.MustToTonutils(),
				(*cell.Cell)(nil),
			), nil
		case "get_nft_content":
			return vals(nft.ContentAny(&nft.ContentOffchain{URI: "https://example.com/42.json"})), nil
		case "get_nft_address_by_index":
			return vals(itemAddr.MustToTonutils()), nil
		}
		return nil, errors.Wrap(core.ErrVM, method)
	})

	item, err := s.DetectNFTItem(ctx, accountState(itemAddr, 10))
	require.NoError(t, err)

	assert.True(t, item.Initialized)
	assert.True(t, addr.Equal(collectionAddr, item.CollectionAddress))
	require.NotNil(t, item.Content)
	assert.Equal(t, core.ContentOffchain, item.Content.Provenance)
	assert.Equal(t, "https://example.com/42.json", item.Content.URI)
}

func TestDetector_ItemWrongCollection(t *testing.T) {
	repo := newFakeRepo()
	collectionAddr := itemEnv(repo)

	itemAddr, owner := rndm.Address(), rndm.Address()

	s := newTestDetector(repo, func(method string, _ abi.VmStack) (abi.VmStack, error) {
		switch method {
		case "get_nft_data":
			return vals(
				true,
				big.NewInt(42).Bytes(),
				collectionAddr.MustToTonutils(),
				owner.MustToTonutils(),
				(*cell.Cell)(nil),
			), nil
		case "get_nft_content":
			return vals(nft.ContentAny(nil)), nil
		case "get_nft_address_by_index":
			return vals(rndm.Address().MustToTonutils()), nil
		}
		return nil, errors.Wrap(core.ErrVM, method)
	})

	_, err := s.DetectNFTItem(ctx, accountState(itemAddr, 10))
	assert.ErrorIs(t, err, core.ErrInterfaceParse)

	_, err = repo.get(core.KindNFTItem, *itemAddr)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDetector_VMFailureIsNotThisInterface(t *testing.T) {
	s := newTestDetector(newFakeRepo(), func(string, abi.VmStack) (abi.VmStack, error) {
		return nil, errors.Wrap(core.ErrVM, "out of gas")
	})

	entities, err := s.Detect(ctx, accountState(rndm.Address(), 10))
	require.NoError(t, err)
	assert.Empty(t, entities)
}
