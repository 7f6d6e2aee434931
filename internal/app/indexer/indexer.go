package indexer

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.IndexerService = (*Service)(nil)

const (
	defaultMaxActiveTasks = 32
	defaultSchedulePeriod = 250 * time.Millisecond

	retryMinBackoff = 200 * time.Millisecond
	retryMaxBackoff = 60 * time.Second
)

var defaultQueueCaps = core.QueueStatus{
	MCBlocks: 16384,
	Blocks:   16384,
	Txs:      524288,
	Msgs:     524288,
}

// seqnoState mirrors the per-seqno pipeline progress. Only the
// scheduling loop reads or writes it.
type seqnoState int

const (
	stateQueued seqnoState = iota
	stateFetching
	stateParsing
	stateAwaitingAdmission
	stateInserting
)

// Service drives the gap-free seqno progression. All scheduling state
// is owned by the run loop goroutine (a single-writer actor); pipeline
// goroutines communicate with it only through channels.
type Service struct {
	*app.IndexerConfig

	existing   mapset.Set[uint32]
	processing mapset.Set[uint32]
	queued     *seqnoHeap

	states   map[uint32]seqnoState
	attempts map[uint32]int

	lastKnownSeqno   uint32
	lastIndexedSeqno uint32

	curQueueStatus core.QueueStatus
	reserved       map[uint32]core.QueueStatus
	weights        *weightEstimator

	avgTPS            float64
	lastExistingCount int

	results  chan seqnoResult
	admitted chan seqnoAdmitted
	tips     chan uint32
	statuses chan core.QueueStatus
	requeues chan uint32

	run  bool
	mx   sync.RWMutex
	wg   sync.WaitGroup
	stop chan struct{}
}

type seqnoResult struct {
	seqno uint32
	err   error
}

type seqnoAdmitted struct {
	seqno  uint32
	status core.QueueStatus
	weight core.QueueStatus
}

func NewService(cfg *app.IndexerConfig) *Service {
	s := &Service{IndexerConfig: cfg}

	if s.MaxActiveTasks == 0 {
		s.MaxActiveTasks = defaultMaxActiveTasks
	}
	if s.SchedulePeriod == 0 {
		s.SchedulePeriod = defaultSchedulePeriod
	}
	if s.QueueCaps.MCBlocks == 0 {
		s.QueueCaps.MCBlocks = defaultQueueCaps.MCBlocks
	}
	if s.QueueCaps.Blocks == 0 {
		s.QueueCaps.Blocks = defaultQueueCaps.Blocks
	}
	if s.QueueCaps.Txs == 0 {
		s.QueueCaps.Txs = defaultQueueCaps.Txs
	}
	if s.QueueCaps.Msgs == 0 {
		s.QueueCaps.Msgs = defaultQueueCaps.Msgs
	}

	s.existing = mapset.NewSet[uint32]()
	s.processing = mapset.NewSet[uint32]()
	s.queued = newSeqnoHeap()
	s.states = make(map[uint32]seqnoState)
	s.attempts = make(map[uint32]int)
	s.reserved = make(map[uint32]core.QueueStatus)
	s.weights = newWeightEstimator()

	s.results = make(chan seqnoResult, 2*s.MaxActiveTasks)
	s.admitted = make(chan seqnoAdmitted, 2*s.MaxActiveTasks)
	s.tips = make(chan uint32, 1)
	s.statuses = make(chan core.QueueStatus, 1)
	s.requeues = make(chan uint32, 2*s.MaxActiveTasks)
	s.stop = make(chan struct{})

	return s
}

func (s *Service) running() bool {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.run
}

// Start bootstraps scheduling: already-indexed seqnos and the current
// chain tip are requested concurrently, then the loop begins.
func (s *Service) Start() error {
	ctx := context.Background()

	var (
		seqnos []uint32
		tip    uint32

		seqnosErr, tipErr error
		startup           sync.WaitGroup
	)

	startup.Add(2)
	go func() {
		defer startup.Done()
		seqnos, seqnosErr = s.Inserter.GetExistingSeqnos(ctx)
	}()
	go func() {
		defer startup.Done()
		tip, tipErr = s.Reader.GetLastMasterchainSeqno(ctx)
	}()
	startup.Wait()

	if seqnosErr != nil {
		return errors.Wrap(seqnosErr, "get existing seqnos")
	}
	if tipErr != nil {
		return errors.Wrap(tipErr, "get last masterchain seqno")
	}

	for _, seq := range seqnos {
		s.existing.Add(seq)
	}
	s.lastExistingCount = s.existing.Cardinality()

	from := s.FromSeqno
	if from == 0 {
		from = 1
	}
	s.lastIndexedSeqno = from - 1
	s.advanceIndexedPrefix()

	s.lastKnownSeqno = s.lastIndexedSeqno
	s.observeTip(tip)

	s.mx.Lock()
	s.run = true
	s.mx.Unlock()

	s.wg.Add(1)
	go s.schedulerLoop()

	log.Info().
		Uint32("from_seqno", from).
		Uint32("last_known_seqno", tip).
		Int("existing", s.lastExistingCount).
		Int("max_active_tasks", s.MaxActiveTasks).
		Msg("started indexing")

	return nil
}

func (s *Service) Stop() {
	s.mx.Lock()
	s.run = false
	s.mx.Unlock()

	close(s.stop)
	s.wg.Wait()
}

func (s *Service) schedulerLoop() {
	defer s.wg.Done()

	t := time.NewTicker(s.SchedulePeriod)
	defer t.Stop()

	for s.running() {
		select {
		case <-s.stop:
			return

		case <-t.C:
			s.refreshTip()
			s.refreshQueueStatus()
			s.updateTPS()
			s.scheduleNextSeqnos()

		case tip := <-s.tips:
			s.observeTip(tip)

		case st := <-s.statuses:
			s.curQueueStatus = st

		case adm := <-s.admitted:
			s.weights.Observe(adm.weight)
			s.seqnoQueuedToInsert(adm.seqno, adm.status)

		case res := <-s.results:
			if res.err != nil {
				s.seqnoFailed(res.seqno, res.err)
			} else {
				s.seqnoDone(res.seqno)
			}

		case seq := <-s.requeues:
			s.rescheduleSeqno(seq)
		}
	}
}
