package detector

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/abi"
	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
	"github.com/kdimentionaltree/ton-index-worker/internal/core/rndm"
)

func knownWalletDetector(t *testing.T, wallet *addr.Address) *Service {
	t.Helper()

	repo := newFakeRepo()
	repo.entities[key(core.KindJettonWallet, *wallet)] = &core.JettonWallet{Address: *wallet, LastTxLT: 1}
	return newTestDetector(repo, nil)
}

func transferBody(t *testing.T, queryID uint64, amount int64, dst, resp *addr.Address) []byte {
	t.Helper()

	b := cell.BeginCell()
	require.NoError(t, b.StoreUInt(uint64(abi.OpJettonTransfer), 32))
	require.NoError(t, b.StoreUInt(queryID, 64))
	require.NoError(t, b.StoreBigCoins(big.NewInt(amount)))
	require.NoError(t, b.StoreAddr(dst.MustToTonutils()))
	require.NoError(t, b.StoreAddr(resp.MustToTonutils()))
	require.NoError(t, b.StoreUInt(0, 1)) // no custom payload
	require.NoError(t, b.StoreBigCoins(big.NewInt(1)))
	require.NoError(t, b.StoreUInt(0, 1)) // no forward payload

	return b.EndCell().ToBOC()
}

func TestEvents_JettonTransfer(t *testing.T) {
	wallet, dst, resp := rndm.Address(), rndm.Address(), rndm.Address()

	s := knownWalletDetector(t, wallet)

	tx := rndm.Transaction(rndm.BlockID(0, 1), wallet)
	body := transferBody(t, 7, 1_500, dst, resp)

	ev, err := s.ParseJettonTransfer(ctx, tx, body)
	require.NoError(t, err)

	assert.Equal(t, tx.Hash, ev.TxHash)
	assert.Equal(t, uint64(7), ev.QueryID)
	assert.Equal(t, uint64(1500), ev.Amount.ToUInt64())
	assert.True(t, addr.Equal(dst, ev.Destination))
	assert.True(t, addr.Equal(resp, ev.ResponseDestination))
	assert.Nil(t, ev.CustomPayload)
}

func TestEvents_JettonTransferUnknownWallet(t *testing.T) {
	wallet := rndm.Address()

	s := newTestDetector(newFakeRepo(), nil)

	tx := rndm.Transaction(rndm.BlockID(0, 1), wallet)
	body := transferBody(t, 1, 10, rndm.Address(), rndm.Address())

	_, err := s.ParseJettonTransfer(ctx, tx, body)
	assert.ErrorIs(t, err, core.ErrEventParse)
}

func TestEvents_MalformedBody(t *testing.T) {
	wallet := rndm.Address()

	s := knownWalletDetector(t, wallet)

	tx := rndm.Transaction(rndm.BlockID(0, 1), wallet)

	// wrong operation id
	b := cell.BeginCell()
	require.NoError(t, b.StoreUInt(0xdeadbeef, 32))
	_, err := s.ParseJettonTransfer(ctx, tx, b.EndCell().ToBOC())
	assert.ErrorIs(t, err, core.ErrEventParse)

	// truncated body
	b = cell.BeginCell()
	require.NoError(t, b.StoreUInt(uint64(abi.OpJettonTransfer), 32))
	_, err = s.ParseJettonTransfer(ctx, tx, b.EndCell().ToBOC())
	assert.ErrorIs(t, err, core.ErrEventParse)
}

func TestEvents_JettonBurn(t *testing.T) {
	wallet, resp := rndm.Address(), rndm.Address()

	s := knownWalletDetector(t, wallet)

	b := cell.BeginCell()
	require.NoError(t, b.StoreUInt(uint64(abi.OpJettonBurn), 32))
	require.NoError(t, b.StoreUInt(3, 64))
	require.NoError(t, b.StoreBigCoins(big.NewInt(999)))
	require.NoError(t, b.StoreAddr(resp.MustToTonutils()))
	require.NoError(t, b.StoreUInt(0, 1))

	tx := rndm.Transaction(rndm.BlockID(0, 1), wallet)

	ev, err := s.ParseJettonBurn(ctx, tx, b.EndCell().ToBOC())
	require.NoError(t, err)

	assert.Equal(t, uint64(3), ev.QueryID)
	assert.Equal(t, uint64(999), ev.Amount.ToUInt64())
	assert.True(t, addr.Equal(resp, ev.ResponseDestination))
}

func TestEvents_NFTTransfer(t *testing.T) {
	item, oldOwner, newOwner, resp := rndm.Address(), rndm.Address(), rndm.Address(), rndm.Address()

	repo := newFakeRepo()
	repo.entities[key(core.KindNFTItem, *item)] = &core.NFTItem{Address: *item, LastTxLT: 1}
	s := newTestDetector(repo, nil)

	b := cell.BeginCell()
	require.NoError(t, b.StoreUInt(uint64(abi.OpNFTTransfer), 32))
	require.NoError(t, b.StoreUInt(11, 64))
	require.NoError(t, b.StoreAddr(newOwner.MustToTonutils()))
	require.NoError(t, b.StoreAddr(resp.MustToTonutils()))
	require.NoError(t, b.StoreUInt(0, 1))
	require.NoError(t, b.StoreBigCoins(big.NewInt(0)))
	require.NoError(t, b.StoreUInt(0, 1))

	in := rndm.Message(oldOwner, item)
	tx := rndm.TransactionWithMessages(rndm.BlockID(0, 1), item, in, 0)

	ev, err := s.ParseNFTTransfer(ctx, tx, b.EndCell().ToBOC())
	require.NoError(t, err)

	assert.Equal(t, uint64(11), ev.QueryID)
	assert.True(t, addr.Equal(oldOwner, ev.OldOwner))
	assert.True(t, addr.Equal(newOwner, ev.NewOwner))
	assert.True(t, addr.Equal(resp, ev.ResponseDestination))
}
