package indexer

import (
	"container/heap"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

// seqnoHeap picks the lowest queued seqno first.
type seqnoHeap struct {
	h *uint32Heap
}

func newSeqnoHeap() *seqnoHeap {
	h := &uint32Heap{}
	heap.Init(h)
	return &seqnoHeap{h: h}
}

func (q *seqnoHeap) Push(seq uint32) {
	heap.Push(q.h, seq)
}

func (q *seqnoHeap) Pop() (uint32, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return heap.Pop(q.h).(uint32), true //nolint:forcetypeassert // heap of uint32
}

func (q *seqnoHeap) Len() int {
	return q.h.Len()
}

type uint32Heap []uint32

func (h uint32Heap) Len() int            { return len(h) }
func (h uint32Heap) Less(i, j int) bool  { return h[i] < h[j] }
func (h uint32Heap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *uint32Heap) Push(x interface{}) { *h = append(*h, x.(uint32)) } //nolint:forcetypeassert // heap of uint32
func (h *uint32Heap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// weightEstimator keeps a rolling average of per-seqno queue weights
// used to reserve downstream capacity for in-flight seqnos.
type weightEstimator struct {
	window []core.QueueStatus
	next   int
	filled bool
}

const weightWindowSize = 32

// conservative default until the first blocks are observed
var defaultWeight = core.QueueStatus{MCBlocks: 1, Blocks: 8, Txs: 256, Msgs: 512}

func newWeightEstimator() *weightEstimator {
	return &weightEstimator{window: make([]core.QueueStatus, weightWindowSize)}
}

func (e *weightEstimator) Observe(w core.QueueStatus) {
	e.window[e.next] = w
	e.next++
	if e.next == len(e.window) {
		e.next = 0
		e.filled = true
	}
}

func (e *weightEstimator) Estimate() core.QueueStatus {
	n := e.next
	if e.filled {
		n = len(e.window)
	}
	if n == 0 {
		return defaultWeight
	}

	var sum core.QueueStatus
	for i := 0; i < n; i++ {
		sum = sum.Add(e.window[i])
	}
	return core.QueueStatus{
		MCBlocks: (sum.MCBlocks + n - 1) / n,
		Blocks:   (sum.Blocks + n - 1) / n,
		Txs:      (sum.Txs + n - 1) / n,
		Msgs:     (sum.Msgs + n - 1) / n,
	}
}
