// Package ringbuf provides a fixed-capacity sliding window of closing prices.
// Pushing past capacity overwrites the oldest sample, so a series keeps a
// bounded history no matter how long the engine runs. Not safe for
// concurrent use; each series is owned by one goroutine.
package ringbuf

import "time"

// Window holds the most recent Cap() prices and their bar timestamps.
type Window struct {
	prices []float64
	stamps []time.Time
	head   int // next write slot
	n      int

	// Overwrites counts how many samples were evicted.
	overwrites uint64
}

// New creates a window. Minimum capacity is 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		prices: make([]float64, capacity),
		stamps: make([]time.Time, capacity),
	}
}

// Push appends a sample, evicting the oldest one when full.
func (w *Window) Push(ts time.Time, price float64) {
	if w.n == len(w.prices) {
		w.overwrites++
	} else {
		w.n++
	}
	w.prices[w.head] = price
	w.stamps[w.head] = ts
	w.head++
	if w.head == len(w.prices) {
		w.head = 0
	}
}

// start is the slot of the oldest sample.
func (w *Window) start() int {
	if w.n < len(w.prices) {
		return 0
	}
	return w.head
}

// Values copies prices oldest-first into dst (grown as needed) and returns it.
func (w *Window) Values(dst []float64) []float64 {
	dst = dst[:0]
	s := w.start()
	for i := 0; i < w.n; i++ {
		dst = append(dst, w.prices[(s+i)%len(w.prices)])
	}
	return dst
}

// Last returns the newest sample. ok is false when empty.
func (w *Window) Last() (ts time.Time, price float64, ok bool) {
	if w.n == 0 {
		return time.Time{}, 0, false
	}
	i := w.head - 1
	if i < 0 {
		i = len(w.prices) - 1
	}
	return w.stamps[i], w.prices[i], true
}

// Len returns the current number of samples.
func (w *Window) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.prices) }

// Overwrites returns the total number of evicted samples.
func (w *Window) Overwrites() uint64 { return w.overwrites }
