package core

// QueueStatus counts records sitting in the insert queue, waiting to be
// committed downstream.
type QueueStatus struct {
	MCBlocks int `json:"mc_blocks"`
	Blocks   int `json:"blocks"`
	Txs      int `json:"txs"`
	Msgs     int `json:"msgs"`
}

func (q QueueStatus) Add(o QueueStatus) QueueStatus {
	return QueueStatus{
		MCBlocks: q.MCBlocks + o.MCBlocks,
		Blocks:   q.Blocks + o.Blocks,
		Txs:      q.Txs + o.Txs,
		Msgs:     q.Msgs + o.Msgs,
	}
}

func (q QueueStatus) Sub(o QueueStatus) QueueStatus {
	return QueueStatus{
		MCBlocks: q.MCBlocks - o.MCBlocks,
		Blocks:   q.Blocks - o.Blocks,
		Txs:      q.Txs - o.Txs,
		Msgs:     q.Msgs - o.Msgs,
	}
}

// Exceeds reports whether any counter is above the same counter of caps.
func (q QueueStatus) Exceeds(caps QueueStatus) bool {
	return q.MCBlocks > caps.MCBlocks ||
		q.Blocks > caps.Blocks ||
		q.Txs > caps.Txs ||
		q.Msgs > caps.Msgs
}
