package indexer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// tpsSmoothing is the EMA coefficient for the observed throughput.
const tpsSmoothing = 0.1

func (s *Service) refreshTip() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tip, err := s.Reader.GetLastMasterchainSeqno(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("get last masterchain seqno")
			return
		}
		select {
		case s.tips <- tip:
		case <-s.stop:
		}
	}()
}

func (s *Service) refreshQueueStatus() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := s.Inserter.GetInsertQueueStatus(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("get insert queue status")
			return
		}
		select {
		case s.statuses <- st:
		case <-s.stop:
		}
	}()
}

// observeTip queues every newly discovered seqno that is not already
// indexed. Runs on the scheduling loop.
func (s *Service) observeTip(tip uint32) {
	if tip <= s.lastKnownSeqno {
		return
	}
	for seq := s.lastKnownSeqno + 1; seq <= tip; seq++ {
		if s.existing.Contains(seq) {
			continue
		}
		s.queued.Push(seq)
		s.states[seq] = stateQueued
	}
	s.lastKnownSeqno = tip
}

// projectedQueueStatus is the downstream depth plus the reserved
// contribution of every in-flight seqno.
func (s *Service) projectedQueueStatus() core.QueueStatus {
	projected := s.curQueueStatus
	for _, w := range s.reserved {
		projected = projected.Add(w)
	}
	return projected
}

// scheduleNextSeqnos admits the lowest queued seqnos while the active
// task limit and the projected queue depths allow it.
func (s *Service) scheduleNextSeqnos() {
	for s.processing.Cardinality() < s.MaxActiveTasks && s.queued.Len() > 0 {
		if s.projectedQueueStatus().Exceeds(s.QueueCaps) {
			return
		}

		seq, ok := s.queued.Pop()
		if !ok {
			return
		}
		if s.existing.Contains(seq) || s.processing.Contains(seq) {
			delete(s.states, seq)
			continue
		}

		s.processing.Add(seq)
		s.states[seq] = stateFetching
		s.reserved[seq] = s.weights.Estimate()

		s.wg.Add(1)
		go s.runPipeline(seq)
	}
}

// rescheduleSeqno returns a failed seqno to the queue. The seqno is
// never dropped.
func (s *Service) rescheduleSeqno(seq uint32) {
	s.processing.Remove(seq)
	delete(s.reserved, seq)
	s.queued.Push(seq)
	s.states[seq] = stateQueued
}

func (s *Service) seqnoQueuedToInsert(seq uint32, status core.QueueStatus) {
	s.states[seq] = stateInserting
	delete(s.reserved, seq)
	s.curQueueStatus = status
}

func (s *Service) seqnoFailed(seq uint32, err error) {
	s.attempts[seq]++
	attempt := s.attempts[seq]

	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	backoff := retryMinBackoff << shift
	if backoff > retryMaxBackoff {
		backoff = retryMaxBackoff
	}

	log.Warn().Err(err).
		Uint32("seqno", seq).
		Int("attempt", attempt).
		Dur("backoff", backoff).
		Msg("seqno pipeline failed")

	time.AfterFunc(backoff, func() {
		select {
		case s.requeues <- seq:
		case <-s.stop:
		}
	})
}

func (s *Service) seqnoDone(seq uint32) {
	s.processing.Remove(seq)
	s.existing.Add(seq)
	delete(s.states, seq)
	delete(s.attempts, seq)
	delete(s.reserved, seq)

	s.advanceIndexedPrefix()

	log.Debug().
		Uint32("seqno", seq).
		Uint32("last_indexed_seqno", s.lastIndexedSeqno).
		Msg("seqno inserted")
}

// advanceIndexedPrefix moves last_indexed_seqno to the end of the
// contiguous prefix of existing seqnos.
func (s *Service) advanceIndexedPrefix() {
	for s.existing.Contains(s.lastIndexedSeqno + 1) {
		s.lastIndexedSeqno++
	}
}

func (s *Service) updateTPS() {
	cnt := s.existing.Cardinality()
	added := cnt - s.lastExistingCount
	s.lastExistingCount = cnt

	perSecond := float64(added) / s.SchedulePeriod.Seconds()
	s.avgTPS = s.avgTPS*(1-tpsSmoothing) + perSecond*tpsSmoothing

	if added > 0 {
		log.Debug().
			Float64("avg_tps", s.avgTPS).
			Uint32("last_indexed_seqno", s.lastIndexedSeqno).
			Uint32("last_known_seqno", s.lastKnownSeqno).
			Int("processing", s.processing.Cardinality()).
			Int("queued", s.queued.Len()).
			Msg("indexing progress")
	}
}
