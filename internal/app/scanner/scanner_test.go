package scanner

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
	"github.com/kdimentionaltree/ton-index-worker/internal/core/rndm"
)

var ctx = context.Background()

// memStates serves sorted account states in batches, like the
// repository does.
type memStates struct {
	states []*core.AccountState
}

func newMemStates(n int) *memStates {
	m := &memStates{}
	for i := 0; i < n; i++ {
		m.states = append(m.states, rndm.AccountState(rndm.Address()))
	}
	sort.Slice(m.states, func(i, j int) bool {
		return bytes.Compare(m.states[i].Address[:], m.states[j].Address[:]) < 0
	})
	return m
}

func (m *memStates) GetAccountStateBatch(_ context.Context, _ uint32, cursor []byte, batchSize int) ([]*core.AccountState, []byte, error) {
	var ret []*core.AccountState

	for _, st := range m.states {
		if len(cursor) > 0 && bytes.Compare(st.Address[:], cursor) <= 0 {
			continue
		}
		ret = append(ret, st)
		if len(ret) == batchSize {
			break
		}
	}

	if len(ret) < batchSize {
		return ret, nil, nil
	}

	last := ret[len(ret)-1].Address
	return ret, append([]byte{}, last[:]...), nil
}

type memCheckpoint struct {
	mx      sync.Mutex
	cursors map[uint32][]byte
	saves   int
}

func newMemCheckpoint() *memCheckpoint {
	return &memCheckpoint{cursors: map[uint32][]byte{}}
}

func (m *memCheckpoint) SaveCheckpoint(_ context.Context, mcSeqno uint32, cursor []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.cursors[mcSeqno] = append([]byte{}, cursor...)
	m.saves++
	return nil
}

func (m *memCheckpoint) GetCheckpoint(_ context.Context, mcSeqno uint32) ([]byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if c, ok := m.cursors[mcSeqno]; ok {
		return c, nil
	}
	return nil, core.ErrNotFound
}

// countingDetector records which addresses were classified.
type countingDetector struct {
	mx    sync.Mutex
	seen  map[string]int
	empty bool // when set, every account yields no interface
}

var _ app.DetectorService = (*countingDetector)(nil)

func newCountingDetector(empty bool) *countingDetector {
	return &countingDetector{seen: map[string]int{}, empty: empty}
}

func (d *countingDetector) Detect(_ context.Context, acc *core.AccountState) ([]core.Entity, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.seen[acc.Address.String()]++

	if d.empty {
		return nil, nil
	}
	return []core.Entity{&core.JettonMaster{Address: acc.Address, LastTxLT: acc.LastTxLT}}, nil
}

func (d *countingDetector) DetectJettonMaster(context.Context, *core.AccountState) (*core.JettonMaster, error) {
	return nil, core.ErrInterfaceParse
}

func (d *countingDetector) DetectJettonWallet(context.Context, *core.AccountState) (*core.JettonWallet, error) {
	return nil, core.ErrInterfaceParse
}

func (d *countingDetector) DetectNFTCollection(context.Context, *core.AccountState) (*core.NFTCollection, error) {
	return nil, core.ErrInterfaceParse
}

func (d *countingDetector) DetectNFTItem(context.Context, *core.AccountState) (*core.NFTItem, error) {
	return nil, core.ErrInterfaceParse
}

func (d *countingDetector) ParseJettonTransfer(context.Context, *core.Transaction, []byte) (*core.JettonTransfer, error) {
	return nil, core.ErrEventParse
}

func (d *countingDetector) ParseJettonBurn(context.Context, *core.Transaction, []byte) (*core.JettonBurn, error) {
	return nil, core.ErrEventParse
}

func (d *countingDetector) ParseNFTTransfer(context.Context, *core.Transaction, []byte) (*core.NFTTransfer, error) {
	return nil, core.ErrEventParse
}

func (d *countingDetector) VMInvocations() uint64 { return 0 }

func (d *countingDetector) distinct() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return len(d.seen)
}

func newTestScanner(states *memStates, cp *memCheckpoint, det app.DetectorService, fromCheckpoint bool) *Service {
	return NewService(&app.ScannerConfig{
		States:          states,
		Detector:        det,
		Checkpoint:      cp,
		MCSeqno:         77,
		BatchSize:       10,
		IndexInterfaces: true,
		FromCheckpoint:  fromCheckpoint,
	})
}

func TestScanner_FullSweep(t *testing.T) {
	states := newMemStates(35)
	det := newCountingDetector(false)

	s := newTestScanner(states, newMemCheckpoint(), det, false)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, 35, det.distinct(), "every account must be classified once")
	assert.Equal(t, 35, s.processed)
}

// an interrupted sweep resumed from the checkpoint yields the same
// classified set as an uninterrupted run
func TestScanner_ResumeFromCheckpoint(t *testing.T) {
	states := newMemStates(35)
	cp := newMemCheckpoint()

	// uninterrupted reference run
	ref := newCountingDetector(false)
	require.NoError(t, newTestScanner(states, newMemCheckpoint(), ref, false).Run(ctx))

	// interrupted run: pretend the process died after two batches by
	// seeding the checkpoint with the cursor past the 20th address
	det := newCountingDetector(false)
	cursor := states.states[19].Address
	require.NoError(t, cp.SaveCheckpoint(ctx, 77, cursor[:]))

	for _, st := range states.states[:20] {
		det.mx.Lock()
		det.seen[st.Address.String()]++ // classified before the crash
		det.mx.Unlock()
	}

	require.NoError(t, newTestScanner(states, cp, det, true).Run(ctx))

	assert.Equal(t, ref.distinct(), det.distinct())
	for a, n := range det.seen {
		assert.Equal(t, 1, n, "address %s classified more than once after resume", a)
	}
}

// code hashes that repeatedly yield no interface join the skip set and
// stop being classified
func TestScanner_SkipSet(t *testing.T) {
	sharedCode := rndm.Bytes(32)

	states := &memStates{}
	for i := 0; i < 30; i++ {
		st := rndm.AccountState(rndm.Address())
		st.CodeHash = sharedCode
		states.states = append(states.states, st)
	}
	sort.Slice(states.states, func(i, j int) bool {
		return bytes.Compare(states.states[i].Address[:], states.states[j].Address[:]) < 0
	})

	det := newCountingDetector(true)

	s := newTestScanner(states, newMemCheckpoint(), det, false)
	require.NoError(t, s.Run(ctx))

	// the threshold is 16; later addresses with the same code hash are
	// skipped without running getters
	assert.GreaterOrEqual(t, det.distinct(), 16)
	assert.Less(t, det.distinct(), 30)
}

func TestScanner_ChecksPointsEveryBatch(t *testing.T) {
	states := newMemStates(25)
	cp := newMemCheckpoint()

	s := newTestScanner(states, cp, newCountingDetector(false), false)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, 3, cp.saves)
}
