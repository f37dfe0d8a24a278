package gateway

import "sync"

type replayEntry struct {
	seq  int64
	data []byte // pre-built envelope JSON
}

// ReplayBuffer holds the most recent envelopes of one channel. Sequence
// numbers are pushed in increasing order, so Range works on a sorted ring.
type ReplayBuffer struct {
	mu    sync.RWMutex
	buf   []replayEntry
	start int // oldest entry
	n     int
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayPerChannel
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, evicting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.n < len(rb.buf) {
		rb.buf[(rb.start+rb.n)%len(rb.buf)] = replayEntry{seq: seq, data: cp}
		rb.n++
		return
	}
	rb.buf[rb.start] = replayEntry{seq: seq, data: cp}
	rb.start = (rb.start + 1) % len(rb.buf)
}

// Range returns envelopes with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	for i := 0; i < rb.n; i++ {
		e := rb.buf[(rb.start+i)%len(rb.buf)]
		if e.seq > toSeq {
			break
		}
		if e.seq >= fromSeq {
			out = append(out, e.data)
		}
	}
	return out
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
