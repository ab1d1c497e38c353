package sampler

import (
	"sync"
	"time"
)

// Entry is one captured sample.
type Entry struct {
	Time    time.Time
	Payload string
}

// Ring is a capacity-bounded, insertion-ordered store of entries. Once full,
// the oldest entry is evicted to admit a new one. A capacity of zero or less
// means unbounded.
type Ring struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

func NewRing(capacity int) *Ring {
	r := &Ring{capacity: capacity}
	if capacity > 0 {
		r.entries = make([]Entry, 0, capacity)
	}
	return r
}

// Put inserts e, evicting the oldest entry first when the ring is full.
func (r *Ring) Put(e Entry) {
	r.mu.Lock()
	if r.capacity > 0 && len(r.entries) >= r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Ring) Cap() int {
	return r.capacity
}

// Between returns the entries whose time lies strictly between start and end,
// in insertion order. An empty or inverted range yields nil.
func (r *Ring) Between(start, end time.Time) []Entry {
	if !start.Before(end) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for _, e := range r.entries {
		if e.Time.After(start) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns a copy of every retained entry so callers can release the
// lock before formatting.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneEntries(r.entries)
}

// Reset drops every retained entry.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.entries = r.entries[:0]
	r.mu.Unlock()
}

// cloneEntries returns a shallow copy of entries.
func cloneEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
