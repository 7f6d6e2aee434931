package scanner

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.ScannerService = (*Service)(nil)

const (
	defaultBatchSize     = 100
	defaultSkipThreshold = 16

	batchWorkers = 8
)

// Service walks every account state at a fixed masterchain height in
// ascending address order, derives interface-bearing entities and
// checkpoints the cursor after each batch.
type Service struct {
	*app.ScannerConfig

	// code hashes that repeatedly produced no interface; getters are
	// not run against them again
	skip             mapset.Set[string]
	noInterfaceCount map[string]int
	mx               sync.Mutex

	processed int
}

func NewService(cfg *app.ScannerConfig) *Service {
	s := &Service{ScannerConfig: cfg}
	if s.BatchSize == 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.SkipThreshold == 0 {
		s.SkipThreshold = defaultSkipThreshold
	}
	s.skip = mapset.NewSet[string]()
	s.noInterfaceCount = make(map[string]int)
	return s
}

func (s *Service) Run(ctx context.Context) error {
	start := time.Now()

	cursor, err := s.resolveCursor(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Uint32("mc_seqno", s.MCSeqno).
		Hex("cur_addr", cursor).
		Int("batch_size", s.BatchSize).
		Bool("index_interfaces", s.IndexInterfaces).
		Msg("starting account state scan")

	for {
		states, next, err := s.States.GetAccountStateBatch(ctx, s.MCSeqno, cursor, s.BatchSize)
		if err != nil {
			return errors.Wrapf(err, "fetch account state batch from %x", cursor)
		}
		if len(states) == 0 {
			break
		}

		s.processBatch(ctx, states)
		s.processed += len(states)

		if err := s.Checkpoint.SaveCheckpoint(ctx, s.MCSeqno, next); err != nil {
			return errors.Wrap(err, "save checkpoint")
		}

		log.Debug().
			Int("processed", s.processed).
			Hex("cur_addr", next).
			Msg("scanned account state batch")

		if len(next) == 0 {
			break
		}
		cursor = next
	}

	log.Info().
		Int("processed", s.processed).
		Dur("elapsed", time.Since(start)).
		Msg("account state scan finished")

	return nil
}

func (s *Service) resolveCursor(ctx context.Context) ([]byte, error) {
	if !s.FromCheckpoint {
		return s.CurAddr, nil
	}

	cursor, err := s.Checkpoint.GetCheckpoint(ctx, s.MCSeqno)
	if errors.Is(err, core.ErrNotFound) {
		return s.CurAddr, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get checkpoint")
	}
	return cursor, nil
}

// processBatch classifies the batch's accounts with bounded
// parallelism. Detection misses feed the skip set.
func (s *Service) processBatch(ctx context.Context, states []*core.AccountState) {
	if !s.IndexInterfaces {
		return
	}

	sem := make(chan struct{}, batchWorkers)
	var wg sync.WaitGroup

	for _, acc := range states {
		if acc.Status != core.Active || len(acc.Code) == 0 || len(acc.Data) == 0 {
			continue
		}
		if s.skip.Contains(hex.EncodeToString(acc.CodeHash)) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(acc *core.AccountState) {
			defer wg.Done()
			defer func() { <-sem }()

			entities, err := s.Detector.Detect(ctx, acc)
			if err != nil {
				log.Warn().Err(err).Str("address", acc.Address.String()).Msg("detect interfaces")
				return
			}
			if len(entities) == 0 {
				s.noteNoInterface(acc.CodeHash)
			}
		}(acc)
	}

	wg.Wait()
}

// noteNoInterface counts no-interface sightings per code hash; past
// the threshold the hash joins the skip set.
func (s *Service) noteNoInterface(codeHash []byte) {
	key := hex.EncodeToString(codeHash)

	s.mx.Lock()
	defer s.mx.Unlock()

	s.noInterfaceCount[key]++
	if s.noInterfaceCount[key] >= s.SkipThreshold {
		s.skip.Add(key)
	}
}
