package tracer

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

var _ app.TracerService = (*Service)(nil)

const defaultMaxDepth = 20

type Service struct {
	*app.TracerConfig

	// interblockTraceIDs carries out-message hashes of previous blocks
	// forward so chains spanning blocks keep their trace id.
	interblockTraceIDs map[string][]byte

	// inProgress guards against emulating the same trace twice.
	inProgress mapset.Set[string]

	mx sync.Mutex
}

func NewService(cfg *app.TracerConfig) *Service {
	s := &Service{TracerConfig: cfg}
	if s.MaxDepth == 0 {
		s.MaxDepth = defaultMaxDepth
	}
	s.interblockTraceIDs = make(map[string][]byte)
	s.inProgress = mapset.NewSet[string]()
	return s
}

// EmulateBlockTraces parses the height, assigns a trace id to every
// transaction and extends each distinct chain by emulation.
func (s *Service) EmulateBlockTraces(ctx context.Context, ds *core.BlockDataState) error {
	start := time.Now()

	parsed, err := s.Parser.ParseBlockData(ctx, ds)
	if err != nil {
		return errors.Wrap(err, "parse block data")
	}

	txs := make([]*core.Transaction, len(parsed.Transactions))
	copy(txs, parsed.Transactions)
	sort.Slice(txs, func(i, j int) bool { return txs[i].LT < txs[j].LT })

	initial := s.assignTraceIDs(txs)

	txByInMsgHash := make(map[string]*core.Transaction, len(txs))
	for _, tx := range txs {
		if len(tx.InMsgHash) > 0 {
			txByInMsgHash[string(tx.InMsgHash)] = tx
		}
	}

	started := mapset.NewThreadUnsafeSet[string]()

	var traces int
	for _, tx := range txs {
		id, ok := initial[string(tx.Hash)]
		if !ok {
			continue
		}
		if !started.Add(string(id)) {
			continue // this chain is already covered from its earliest transaction
		}
		if !s.inProgress.Add(string(id)) {
			continue // already emulating this trace
		}

		accounts := seedEmulatedAccounts(parsed)
		trace, err := s.emulateTrace(ctx, tx, id, txByInMsgHash, accounts)
		if err != nil {
			log.Error().Err(err).
				Hex("trace_id", id).
				Hex("tx_hash", tx.Hash).
				Msg("emulate trace")
			s.inProgress.Remove(string(id))
			continue
		}

		s.detectTraceInterfaces(ctx, trace, accounts)

		if err := s.Inserter.Insert(ctx, trace); err != nil {
			log.Error().Err(err).Hex("trace_id", trace.ID).Msg("insert trace")
		}

		s.inProgress.Remove(string(id))
		traces++
	}

	log.Info().
		Uint32("mc_seqno", parsed.MCSeqno).
		Int("traces", traces).
		Dur("elapsed", time.Since(start)).
		Msg("emulated block traces")

	return nil
}

// assignTraceIDs computes initial_msg_hash per transaction: external-in
// roots start a chain, in-block producers propagate theirs, and the
// interblock map carries chains across heights. Transactions with no
// known root are skipped.
func (s *Service) assignTraceIDs(txs []*core.Transaction) map[string][]byte {
	s.mx.Lock()
	defer s.mx.Unlock()

	txByOutMsgHash := make(map[string]*core.Transaction)
	for _, tx := range txs {
		for _, out := range tx.OutMsg {
			txByOutMsgHash[string(out.Hash)] = tx
		}
	}

	initial := make(map[string][]byte)

	for _, tx := range txs {
		if tx.InMsg == nil {
			continue
		}

		switch {
		case tx.InMsg.Type == core.ExternalIn:
			initial[string(tx.Hash)] = tx.InMsgHash

		default:
			if p, ok := txByOutMsgHash[string(tx.InMsgHash)]; ok {
				if id, ok := initial[string(p.Hash)]; ok {
					initial[string(tx.Hash)] = id
					break
				}
			}
			if id, ok := s.interblockTraceIDs[string(tx.InMsgHash)]; ok {
				initial[string(tx.Hash)] = id
				break
			}
			log.Warn().
				Hex("tx_hash", tx.Hash).
				Hex("in_msg_hash", tx.InMsgHash).
				Msg("couldn't get initial_msg_hash, transaction skipped")
		}

		if id, ok := initial[string(tx.Hash)]; ok {
			for _, out := range tx.OutMsg {
				s.interblockTraceIDs[string(out.Hash)] = id
			}
		}
	}

	return initial
}

// detectTraceInterfaces runs interface detection over every account
// that took part in the trace.
func (s *Service) detectTraceInterfaces(ctx context.Context, trace *core.Trace, accounts *emulatedAccounts) {
	trace.AccountInterfaces = make(map[string][]core.EntityKind)

	participants := make(map[string]struct{})
	trace.Root.Walk(func(n *core.TraceNode) {
		participants[n.Transaction.Address.String()] = struct{}{}
	})

	for _, st := range accounts.snapshot() {
		if _, ok := participants[st.Address.String()]; !ok {
			continue
		}
		if len(st.Code) == 0 || len(st.Data) == 0 {
			continue
		}

		acc := &core.AccountState{
			Address:  st.Address,
			Status:   st.Status,
			Code:     st.Code,
			Data:     st.Data,
			LastTxLT: st.LastTxLT,
		}
		if c, err := cell.FromBOC(st.Code); err == nil {
			acc.CodeHash = c.Hash()
		}
		if d, err := cell.FromBOC(st.Data); err == nil {
			acc.DataHash = d.Hash()
		}

		entities, err := s.Detector.Detect(ctx, acc)
		if err != nil {
			log.Warn().Err(err).Str("address", st.Address.String()).Msg("detect trace account interfaces")
			continue
		}

		for _, e := range entities {
			raw := st.Address.String()
			trace.AccountInterfaces[raw] = append(trace.AccountInterfaces[raw], e.Kind())
		}
	}
}
