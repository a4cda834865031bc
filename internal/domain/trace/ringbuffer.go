// Package trace keeps a bounded history of outbound requests for inspection.
package trace

import "sync"

// RingBuffer holds the most recent request entries. Safe for concurrent use.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	count   int
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 100
	}
	return &RingBuffer{entries: make([]Entry, size)}
}

// Add records e, evicting the oldest entry when full.
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.next] = e
	rb.next = (rb.next + 1) % len(rb.entries)
	rb.count = min(rb.count+1, len(rb.entries))
}

// Last returns up to n of the newest entries, oldest first.
func (rb *RingBuffer) Last(n int) []Entry {
	return rb.collect(n, func(Entry) bool { return true })
}

// ForRun returns up to n of the newest entries recorded for runID, oldest first.
func (rb *RingBuffer) ForRun(runID string, n int) []Entry {
	return rb.collect(n, func(e Entry) bool { return e.RunID == runID })
}

func (rb *RingBuffer) collect(n int, keep func(Entry) bool) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	size := len(rb.entries)
	var out []Entry
	// Walk newest to oldest, then reverse.
	for i := 0; i < rb.count && len(out) < n; i++ {
		e := rb.entries[(rb.next-1-i+size)%size]
		if keep(e) {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Count returns the number of entries held.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
