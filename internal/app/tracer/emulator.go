package tracer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/addr"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// emulatedAccounts is the per-trace mutable account state map shared
// across per-address workers. Every access goes through the mutex.
type emulatedAccounts struct {
	mu       sync.Mutex
	accounts map[string]*core.EmulatedAccount
}

func newEmulatedAccounts() *emulatedAccounts {
	return &emulatedAccounts{accounts: make(map[string]*core.EmulatedAccount)}
}

func seedEmulatedAccounts(parsed *core.ParsedBlock) *emulatedAccounts {
	ea := newEmulatedAccounts()
	for _, acc := range parsed.Accounts {
		ea.accounts[acc.Address.String()] = &core.EmulatedAccount{
			Address:  acc.Address,
			Status:   acc.Status,
			Code:     acc.Code,
			Data:     acc.Data,
			LastTxLT: acc.LastTxLT,
		}
	}
	return ea
}

func (ea *emulatedAccounts) getOrCreate(a addr.Address) *core.EmulatedAccount {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	st, ok := ea.accounts[a.String()]
	if !ok {
		st = &core.EmulatedAccount{Address: a, Status: core.NonExist}
		ea.accounts[a.String()] = st
	}
	return st
}

func (ea *emulatedAccounts) put(st *core.EmulatedAccount) {
	if st == nil {
		return
	}
	ea.mu.Lock()
	defer ea.mu.Unlock()
	ea.accounts[st.Address.String()] = st
}

func (ea *emulatedAccounts) snapshot() []*core.EmulatedAccount {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	ret := make([]*core.EmulatedAccount, 0, len(ea.accounts))
	for _, st := range ea.accounts {
		ret = append(ret, st)
	}
	return ret
}

type workerRequest struct {
	ctx   context.Context
	msg   *core.Message
	reply chan workerResult
}

type workerResult struct {
	tx   *core.Transaction
	outs []*core.Message
	err  error
}

// addrWorker serializes emulation per destination address so that
// successive messages to the same account see each other's effects in
// causal order.
type addrWorker struct {
	requests chan workerRequest
}

func (w *addrWorker) run(job *traceJob, dst addr.Address) {
	defer job.wg.Done()

	for req := range w.requests {
		st := job.accounts.getOrCreate(dst)

		emulated, err := job.emulator.Emulate(req.ctx, st, req.msg)
		if err != nil {
			req.reply <- workerResult{err: err}
			continue
		}

		job.accounts.put(emulated.After)
		req.reply <- workerResult{tx: emulated.Transaction, outs: emulated.OutMsgs}
	}
}

// traceJob extends one trace. Observed subtrees come from the block,
// the rest is computed by the virtual machine.
type traceJob struct {
	emulator interface {
		Emulate(ctx context.Context, account *core.EmulatedAccount, msg *core.Message) (*core.EmulatedTx, error)
	}

	txByInMsgHash map[string]*core.Transaction
	accounts      *emulatedAccounts

	workers   map[string]*addrWorker
	workersMu sync.Mutex
	wg        sync.WaitGroup

	maxDepth int
}

func (s *Service) emulateTrace(
	ctx context.Context,
	rootTx *core.Transaction,
	id []byte,
	txByInMsgHash map[string]*core.Transaction,
	accounts *emulatedAccounts,
) (*core.Trace, error) {
	job := &traceJob{
		emulator:      s.Emulator,
		txByInMsgHash: txByInMsgHash,
		accounts:      accounts,
		workers:       make(map[string]*addrWorker),
		maxDepth:      s.MaxDepth,
	}
	defer job.close()

	root, err := job.observedNode(ctx, rootTx, 0)
	if err != nil {
		return nil, err
	}

	trace := &core.Trace{ID: id, Root: root}

	log.Debug().
		Hex("trace_id", id).
		Int("transactions", root.TransactionsCount()).
		Int("depth", root.Depth()).
		Msg("emulated trace")

	return trace, nil
}

func (j *traceJob) workerFor(a addr.Address) *addrWorker {
	j.workersMu.Lock()
	defer j.workersMu.Unlock()

	w, ok := j.workers[a.String()]
	if !ok {
		w = &addrWorker{requests: make(chan workerRequest)}
		j.workers[a.String()] = w
		j.wg.Add(1)
		go w.run(j, a)
	}
	return w
}

func (j *traceJob) close() {
	j.workersMu.Lock()
	for _, w := range j.workers {
		close(w.requests)
	}
	j.workers = make(map[string]*addrWorker)
	j.workersMu.Unlock()

	j.wg.Wait()
}

// observedNode builds the subtree rooted at a transaction seen
// in-chain: out-messages consumed inside the block continue observed,
// the rest are emulated.
func (j *traceJob) observedNode(ctx context.Context, tx *core.Transaction, depth int) (*core.TraceNode, error) {
	node := &core.TraceNode{
		InMsgHash:   tx.InMsgHash,
		Transaction: tx,
		Emulated:    false,
	}

	return node, j.expandChildren(ctx, node, tx.OutMsg, depth)
}

// emulatedNode computes a hypothetical transaction for an unseen
// message and keeps expanding its outputs.
func (j *traceJob) emulatedNode(ctx context.Context, msg *core.Message, depth int) (*core.TraceNode, error) {
	w := j.workerFor(msg.DstAddress)

	res := make(chan workerResult, 1)
	w.requests <- workerRequest{ctx: ctx, msg: msg, reply: res}
	r := <-res

	if r.err != nil {
		return nil, errors.Wrapf(r.err, "emulate message %x to %s", msg.Hash, msg.DstAddress.String())
	}

	node := &core.TraceNode{
		InMsgHash:   msg.Hash,
		Transaction: r.tx,
		Emulated:    true,
	}

	return node, j.expandChildren(ctx, node, r.outs, depth)
}

// expandChildren walks out-messages of a node concurrently. External
// outbound messages never spawn children; recursion stops at the depth
// cap.
func (j *traceJob) expandChildren(ctx context.Context, parent *core.TraceNode, outs []*core.Message, depth int) error {
	type slot struct {
		node *core.TraceNode
		err  error
	}

	children := make([]*slot, 0, len(outs))
	var wg sync.WaitGroup

	for _, out := range outs {
		if out.Type == core.ExternalOut {
			continue
		}

		sl := &slot{}
		children = append(children, sl)

		if child, ok := j.txByInMsgHash[string(out.Hash)]; ok {
			wg.Add(1)
			go func(sl *slot, child *core.Transaction) {
				defer wg.Done()
				sl.node, sl.err = j.observedNode(ctx, child, depth)
			}(sl, child)
			continue
		}

		if depth+1 > j.maxDepth {
			log.Warn().
				Hex("msg_hash", out.Hash).
				Int("depth", depth).
				Msg("trace depth cap reached, subtree not emulated")
			continue
		}

		wg.Add(1)
		go func(sl *slot, out *core.Message) {
			defer wg.Done()
			sl.node, sl.err = j.emulatedNode(ctx, out, depth+1)
		}(sl, out)
	}

	wg.Wait()

	for _, sl := range children {
		if sl.err != nil {
			return sl.err
		}
		if sl.node != nil {
			parent.Children = append(parent.Children, sl.node)
		}
	}

	return nil
}
