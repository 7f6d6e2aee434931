package indexer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
)

// runPipeline executes the per-seqno stages in strict order:
// fetch -> parse -> detect interfaces -> submit insert -> await
// inserted. Stage outcomes are reported back to the scheduling loop;
// the pipeline goroutine never touches scheduler state.
func (s *Service) runPipeline(seq uint32) {
	defer s.wg.Done()
	defer app.TimeTrack(time.Now(), "pipeline(%d)", seq)

	ctx := context.Background()

	ds, err := s.Reader.Fetch(ctx, seq)
	if err != nil {
		s.report(seqnoResult{seqno: seq, err: errors.Wrapf(err, "fetch seqno %d", seq)})
		return
	}

	parsed, err := s.Parser.ParseBlockData(ctx, ds)
	if err != nil {
		s.report(seqnoResult{seqno: seq, err: errors.Wrapf(err, "parse seqno %d", seq)})
		return
	}

	if err := s.Parser.EnrichParsedBlock(ctx, parsed); err != nil {
		s.report(seqnoResult{seqno: seq, err: errors.Wrapf(err, "enrich seqno %d", seq)})
		return
	}

	inserted := make(chan error, 1)

	status, err := s.Inserter.Insert(ctx, parsed, func(err error) {
		inserted <- err
	})
	if err != nil {
		s.report(seqnoResult{seqno: seq, err: errors.Wrapf(err, "queue seqno %d to insert", seq)})
		return
	}

	select {
	case s.admitted <- seqnoAdmitted{seqno: seq, status: status, weight: parsed.QueueWeight()}:
	case <-s.stop:
		return
	}

	select {
	case err := <-inserted:
		if err != nil {
			s.report(seqnoResult{seqno: seq, err: errors.Wrapf(err, "insert seqno %d", seq)})
			return
		}
		s.report(seqnoResult{seqno: seq})

	case <-s.stop:
	}
}

func (s *Service) report(res seqnoResult) {
	select {
	case s.results <- res:
	case <-s.stop:
	}
}
