package tracer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
	"github.com/kdimentionaltree/ton-index-worker/internal/core"
	"github.com/kdimentionaltree/ton-index-worker/internal/core/rndm"
)

var ctx = context.Background()

type staticParser struct {
	blocks map[uint32]*core.ParsedBlock
}

func (p *staticParser) ParseBlockData(_ context.Context, ds *core.BlockDataState) (*core.ParsedBlock, error) {
	return p.blocks[ds.Master.ID.SeqNo], nil
}

func (p *staticParser) EnrichParsedBlock(context.Context, *core.ParsedBlock) error {
	return nil
}

type nullDetector struct{}

func (nullDetector) DetectJettonMaster(context.Context, *core.AccountState) (*core.JettonMaster, error) {
	return nil, core.ErrInterfaceParse
}
func (nullDetector) DetectJettonWallet(context.Context, *core.AccountState) (*core.JettonWallet, error) {
	return nil, core.ErrInterfaceParse
}
func (nullDetector) DetectNFTCollection(context.Context, *core.AccountState) (*core.NFTCollection, error) {
	return nil, core.ErrInterfaceParse
}
func (nullDetector) DetectNFTItem(context.Context, *core.AccountState) (*core.NFTItem, error) {
	return nil, core.ErrInterfaceParse
}
func (nullDetector) Detect(context.Context, *core.AccountState) ([]core.Entity, error) {
	return nil, nil
}
func (nullDetector) ParseJettonTransfer(context.Context, *core.Transaction, []byte) (*core.JettonTransfer, error) {
	return nil, core.ErrEventParse
}
func (nullDetector) ParseJettonBurn(context.Context, *core.Transaction, []byte) (*core.JettonBurn, error) {
	return nil, core.ErrEventParse
}
func (nullDetector) ParseNFTTransfer(context.Context, *core.Transaction, []byte) (*core.NFTTransfer, error) {
	return nil, core.ErrEventParse
}
func (nullDetector) VMInvocations() uint64 { return 0 }

// fakeEmulator derives one transaction per message; outputs are
// configured per in-message hash.
type fakeEmulator struct {
	mx sync.Mutex

	// outs maps msg hash -> outbound messages of the emulated tx
	outs map[string][]*core.Message

	// inputLTs records the account state lt seen per destination
	inputLTs map[string][]uint64
}

func newFakeEmulator() *fakeEmulator {
	return &fakeEmulator{
		outs:     map[string][]*core.Message{},
		inputLTs: map[string][]uint64{},
	}
}

func (e *fakeEmulator) Emulate(_ context.Context, account *core.EmulatedAccount, msg *core.Message) (*core.EmulatedTx, error) {
	e.mx.Lock()
	e.inputLTs[account.Address.String()] = append(e.inputLTs[account.Address.String()], account.LastTxLT)
	outs := e.outs[string(msg.Hash)]
	e.mx.Unlock()

	tx := &core.Transaction{
		Hash:      append([]byte("emu-"), msg.Hash...),
		Address:   account.Address,
		InMsgHash: msg.Hash,
		InMsg:     msg,
		LT:        account.LastTxLT + 1,
		OutMsg:    outs,
	}

	return &core.EmulatedTx{
		Transaction: tx,
		OutMsgs:     outs,
		After: &core.EmulatedAccount{
			Address:  account.Address,
			Status:   core.Active,
			LastTxLT: account.LastTxLT + 1,
		},
	}, nil
}

type recordingInserter struct {
	mx     sync.Mutex
	traces []*core.Trace
}

func (r *recordingInserter) Insert(_ context.Context, t *core.Trace) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.traces = append(r.traces, t)
	return nil
}

func (r *recordingInserter) all() []*core.Trace {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]*core.Trace{}, r.traces...)
}

func dataState(seqno uint32) *core.BlockDataState {
	return &core.BlockDataState{Master: &core.RawBlock{ID: core.BlockID{Workchain: -1, SeqNo: seqno}}}
}

func newTestTracer(parser *staticParser, emu app.TransactionEmulator, ins app.TraceInserter, depth int) *Service {
	return NewService(&app.TracerConfig{
		Parser:   parser,
		Detector: nullDetector{},
		Emulator: emu,
		Inserter: ins,
		MaxDepth: depth,
	})
}

// an observed child continues the tree, an unseen internal message is
// emulated and its own output is emulated recursively; ext-out
// messages never spawn children
func TestTracer_TreeShape(t *testing.T) {
	id := rndm.BlockID(0, 5)
	a, b := rndm.Address(), rndm.Address()

	root := rndm.TransactionWithMessages(id, a, rndm.ExternalInMessage(a), 2)
	observedOut, emulatedOut := root.OutMsg[0], root.OutMsg[1]

	extOut := rndm.Message(a, a)
	extOut.Type = core.ExternalOut
	extOut.SrcTxLT, extOut.SrcTxHash = root.LT, root.Hash
	root.OutMsg = append(root.OutMsg, extOut)

	consumed := *observedOut
	child := rndm.TransactionWithMessages(id, b, &consumed, 0)

	emu := newFakeEmulator()
	nested := rndm.Message(rndm.Address(), rndm.Address())
	emu.outs[string(emulatedOut.Hash)] = []*core.Message{nested}

	ins := &recordingInserter{}
	parser := &staticParser{blocks: map[uint32]*core.ParsedBlock{5: {
		MCSeqno:      5,
		Transactions: []*core.Transaction{root, child},
	}}}

	s := newTestTracer(parser, emu, ins, 0)
	require.NoError(t, s.EmulateBlockTraces(ctx, dataState(5)))

	traces := ins.all()
	require.Len(t, traces, 1)

	trace := traces[0]
	assert.Equal(t, root.InMsgHash, trace.ID)

	require.NotNil(t, trace.Root)
	assert.False(t, trace.Root.Emulated)
	require.Len(t, trace.Root.Children, 2, "ext-out message must not spawn a child")

	var observedChild, emulatedChild *core.TraceNode
	for _, c := range trace.Root.Children {
		if c.Emulated {
			emulatedChild = c
		} else {
			observedChild = c
		}
	}

	require.NotNil(t, observedChild)
	assert.Equal(t, child.Hash, observedChild.Transaction.Hash)

	require.NotNil(t, emulatedChild)
	require.Len(t, emulatedChild.Children, 1)
	assert.True(t, emulatedChild.Children[0].Emulated)

	// every observed node's transaction is in-chain
	inChain := map[string]bool{string(root.Hash): true, string(child.Hash): true}
	trace.Root.Walk(func(n *core.TraceNode) {
		if !n.Emulated {
			assert.True(t, inChain[string(n.Transaction.Hash)])
		}
	})

	assert.Equal(t, 4, trace.Root.TransactionsCount())
}

// a chain crossing two blocks keeps its trace id through the
// interblock carry-forward map
func TestTracer_InterblockTraceIDs(t *testing.T) {
	a, b := rndm.Address(), rndm.Address()

	id1, id2 := rndm.BlockID(0, 1), rndm.BlockID(0, 2)

	txA := rndm.TransactionWithMessages(id1, a, rndm.ExternalInMessage(a), 1)
	crossing := txA.OutMsg[0]

	consumed := *crossing
	txB := rndm.TransactionWithMessages(id2, b, &consumed, 0)

	emu := newFakeEmulator()
	ins := &recordingInserter{}
	parser := &staticParser{blocks: map[uint32]*core.ParsedBlock{
		1: {MCSeqno: 1, Transactions: []*core.Transaction{txA}},
		2: {MCSeqno: 2, Transactions: []*core.Transaction{txB}},
	}}

	s := newTestTracer(parser, emu, ins, 0)

	require.NoError(t, s.EmulateBlockTraces(ctx, dataState(1)))
	require.NoError(t, s.EmulateBlockTraces(ctx, dataState(2)))

	traces := ins.all()
	require.Len(t, traces, 2)

	assert.Equal(t, txA.InMsgHash, traces[0].ID)
	assert.Equal(t, txA.InMsgHash, traces[1].ID, "the second block's trace must inherit the id")
	assert.Equal(t, txB.Hash, traces[1].Root.Transaction.Hash)
}

// successive messages to the same account see each other's effects in
// causal order
func TestTracer_PerDestinationCausalOrder(t *testing.T) {
	id := rndm.BlockID(0, 9)
	a, dst := rndm.Address(), rndm.Address()

	root := rndm.TransactionWithMessages(id, a, rndm.ExternalInMessage(a), 0)
	for i := 0; i < 2; i++ {
		out := rndm.Message(a, dst)
		out.SrcTxLT, out.SrcTxHash = root.LT, root.Hash
		root.OutMsg = append(root.OutMsg, out)
	}

	emu := newFakeEmulator()
	ins := &recordingInserter{}
	parser := &staticParser{blocks: map[uint32]*core.ParsedBlock{9: {
		MCSeqno:      9,
		Transactions: []*core.Transaction{root},
	}}}

	s := newTestTracer(parser, emu, ins, 0)
	require.NoError(t, s.EmulateBlockTraces(ctx, dataState(9)))

	lts := emu.inputLTs[dst.String()]
	require.Len(t, lts, 2)
	assert.Equal(t, []uint64{0, 1}, lts, "the second emulation must see the first one's state")
}

func TestTracer_DepthCap(t *testing.T) {
	id := rndm.BlockID(0, 3)
	a := rndm.Address()

	root := rndm.TransactionWithMessages(id, a, rndm.ExternalInMessage(a), 1)
	first := root.OutMsg[0]

	// every emulated transaction spawns another unseen message
	emu := newFakeEmulator()
	cur := first
	for i := 0; i < 5; i++ {
		next := rndm.Message(rndm.Address(), rndm.Address())
		emu.outs[string(cur.Hash)] = []*core.Message{next}
		cur = next
	}

	ins := &recordingInserter{}
	parser := &staticParser{blocks: map[uint32]*core.ParsedBlock{3: {
		MCSeqno:      3,
		Transactions: []*core.Transaction{root},
	}}}

	s := newTestTracer(parser, emu, ins, 2)
	require.NoError(t, s.EmulateBlockTraces(ctx, dataState(3)))

	traces := ins.all()
	require.Len(t, traces, 1)

	// root + two levels of emulation, the rest is cut off
	assert.Equal(t, 3, traces[0].Root.TransactionsCount())
	assert.Equal(t, 3, traces[0].Root.Depth())
}

// a transaction with an unknown chain root is skipped entirely
func TestTracer_UnknownRootSkipped(t *testing.T) {
	id := rndm.BlockID(0, 4)
	b := rndm.Address()

	orphanIn := rndm.Message(rndm.Address(), b) // internal, producer unknown
	orphan := rndm.TransactionWithMessages(id, b, orphanIn, 1)

	emu := newFakeEmulator()
	ins := &recordingInserter{}
	parser := &staticParser{blocks: map[uint32]*core.ParsedBlock{4: {
		MCSeqno:      4,
		Transactions: []*core.Transaction{orphan},
	}}}

	s := newTestTracer(parser, emu, ins, 0)
	require.NoError(t, s.EmulateBlockTraces(ctx, dataState(4)))

	assert.Empty(t, ins.all())
}
