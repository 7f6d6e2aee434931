package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

type fakeReader struct {
	tip uint32

	concurrent    atomic.Int32
	maxConcurrent atomic.Int32

	block chan struct{} // when set, Fetch blocks until the channel closes
}

func (r *fakeReader) GetLastMasterchainSeqno(context.Context) (uint32, error) {
	return r.tip, nil
}

func (r *fakeReader) Fetch(_ context.Context, seqno uint32) (*core.BlockDataState, error) {
	cur := r.concurrent.Add(1)
	defer r.concurrent.Add(-1)

	for {
		prev := r.maxConcurrent.Load()
		if cur <= prev || r.maxConcurrent.CompareAndSwap(prev, cur) {
			break
		}
	}

	if r.block != nil {
		<-r.block
	}

	return &core.BlockDataState{
		Master: &core.RawBlock{ID: core.BlockID{Workchain: -1, SeqNo: seqno}},
	}, nil
}

type fakeParser struct {
	txsPerBlock int
}

func (p *fakeParser) ParseBlockData(_ context.Context, ds *core.BlockDataState) (*core.ParsedBlock, error) {
	ret := &core.ParsedBlock{MCSeqno: ds.Master.ID.SeqNo}
	ret.Blocks = []*core.Block{{BlockID: ds.Master.ID}}
	for i := 0; i < p.txsPerBlock; i++ {
		ret.Transactions = append(ret.Transactions, &core.Transaction{})
	}
	return ret, nil
}

func (p *fakeParser) EnrichParsedBlock(context.Context, *core.ParsedBlock) error {
	return nil
}

type fakeInserter struct {
	existing []uint32
	status   core.QueueStatus

	mx       sync.Mutex
	inserted []uint32
}

func (i *fakeInserter) GetExistingSeqnos(context.Context) ([]uint32, error) {
	return i.existing, nil
}

func (i *fakeInserter) GetInsertQueueStatus(context.Context) (core.QueueStatus, error) {
	return i.status, nil
}

func (i *fakeInserter) Insert(_ context.Context, b *core.ParsedBlock, onInserted func(error)) (core.QueueStatus, error) {
	i.mx.Lock()
	i.inserted = append(i.inserted, b.MCSeqno)
	i.mx.Unlock()

	go onInserted(nil)
	return i.status, nil
}

func (i *fakeInserter) insertedSeqnos() []uint32 {
	i.mx.Lock()
	defer i.mx.Unlock()
	return append([]uint32{}, i.inserted...)
}

func newTestService(reader *fakeReader, inserter *fakeInserter, maxActive int, caps core.QueueStatus) *Service {
	return NewService(&app.IndexerConfig{
		Reader:         reader,
		Parser:         &fakeParser{txsPerBlock: 2},
		Inserter:       inserter,
		FromSeqno:      1,
		MaxActiveTasks: maxActive,
		QueueCaps:      caps,
		SchedulePeriod: 10 * time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was not reached")
}

// existing = {1,2,4,5}, tip = 7: the gaps {3,6,7} are dispatched, each
// exactly once, and the indexed prefix reaches the tip.
func TestScheduler_GapFill(t *testing.T) {
	reader := &fakeReader{tip: 7}
	inserter := &fakeInserter{existing: []uint32{1, 2, 4, 5}}

	s := newTestService(reader, inserter, 32, core.QueueStatus{})
	require.NoError(t, s.Start())

	waitFor(t, func() bool { return s.existing.Cardinality() >= 7 })
	s.Stop()

	got := inserter.insertedSeqnos()
	assert.ElementsMatch(t, []uint32{3, 6, 7}, got)

	assert.Equal(t, uint32(7), s.lastIndexedSeqno)
	assert.Equal(t, 0, s.processing.Cardinality())
}

// every dispatched seqno is reported done exactly once even when the
// whole range is missing
func TestScheduler_DenseRange(t *testing.T) {
	reader := &fakeReader{tip: 40}
	inserter := &fakeInserter{}

	s := newTestService(reader, inserter, 8, core.QueueStatus{})
	require.NoError(t, s.Start())

	waitFor(t, func() bool { return len(inserter.insertedSeqnos()) >= 40 })
	waitFor(t, func() bool { return s.existing.Cardinality() >= 40 })
	s.Stop()

	got := inserter.insertedSeqnos()
	seen := map[uint32]int{}
	for _, seq := range got {
		seen[seq]++
	}
	for seq := uint32(1); seq <= 40; seq++ {
		assert.Equal(t, 1, seen[seq], "seqno %d", seq)
	}

	assert.LessOrEqual(t, reader.maxConcurrent.Load(), int32(8))
}

// queue already holds 8 txs with a cap of 10: only one seqno is
// admitted, the second waits.
func TestScheduler_Backpressure(t *testing.T) {
	reader := &fakeReader{tip: 2, block: make(chan struct{})}
	defer close(reader.block)

	inserter := &fakeInserter{status: core.QueueStatus{Txs: 8}}

	s := newTestService(reader, inserter, 32,
		core.QueueStatus{MCBlocks: 1 << 20, Blocks: 1 << 20, Txs: 10, Msgs: 1 << 20})

	// the scheduling pass is exercised directly, without the loop
	s.curQueueStatus = core.QueueStatus{Txs: 8}
	for i := 0; i < 8; i++ {
		s.weights.Observe(core.QueueStatus{MCBlocks: 1, Blocks: 1, Txs: 5, Msgs: 1})
	}

	s.observeTip(2)
	s.scheduleNextSeqnos()

	assert.Equal(t, 1, s.processing.Cardinality())
	assert.Equal(t, 1, s.queued.Len())
}

func TestScheduler_MaxActiveTasks(t *testing.T) {
	reader := &fakeReader{tip: 10, block: make(chan struct{})}
	defer close(reader.block)

	inserter := &fakeInserter{}

	s := newTestService(reader, inserter, 2, core.QueueStatus{})

	s.observeTip(10)
	s.scheduleNextSeqnos()

	assert.Equal(t, 2, s.processing.Cardinality())
	assert.Equal(t, 8, s.queued.Len())
}

func TestScheduler_IndexedPrefix(t *testing.T) {
	s := newTestService(&fakeReader{}, &fakeInserter{}, 1, core.QueueStatus{})

	s.lastIndexedSeqno = 2
	s.existing.Add(uint32(3))
	s.existing.Add(uint32(4))
	s.existing.Add(uint32(6))

	s.advanceIndexedPrefix()
	assert.Equal(t, uint32(4), s.lastIndexedSeqno)

	s.existing.Add(uint32(5))
	s.advanceIndexedPrefix()
	assert.Equal(t, uint32(6), s.lastIndexedSeqno)
}

func TestScheduler_RescheduleKeepsSeqno(t *testing.T) {
	s := newTestService(&fakeReader{}, &fakeInserter{}, 1, core.QueueStatus{})

	s.processing.Add(uint32(9))
	s.states[9] = stateFetching
	s.reserved[9] = defaultWeight

	s.rescheduleSeqno(9)

	assert.Equal(t, 0, s.processing.Cardinality())
	assert.Equal(t, 1, s.queued.Len())

	seq, ok := s.queued.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(9), seq)
}
