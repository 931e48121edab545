package monitor

import (
	"sync"
	"time"
)

// Sample is one reading of process and system resources.
type Sample struct {
	At                time.Time `json:"at"`
	RSSBytes          uint64    `json:"rss_bytes"`
	MemAvailableBytes uint64    `json:"mem_available_bytes"`
	MemTotalBytes     uint64    `json:"mem_total_bytes"`
	DiskFreeBytes     uint64    `json:"disk_free_bytes"`
}

// Ring is a bounded buffer of rolling samples. Insert and trim hold a
// short critical section; nothing else is shared.
type Ring struct {
	mu      sync.Mutex
	samples []Sample
	size    int
}

// NewRing creates a ring retaining at most size samples.
func NewRing(size int) *Ring {
	return &Ring{size: size}
}

// Add appends a sample, evicting the oldest beyond the bound.
func (r *Ring) Add(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, s)
	if len(r.samples) > r.size {
		r.samples = r.samples[len(r.samples)-r.size:]
	}
}

// Trim compacts the backing array down to the retained samples. The
// append-and-reslice in Add keeps old backing memory reachable; this
// runs on a timer to release it.
func (r *Ring) Trim() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == cap(r.samples) {
		return
	}
	compact := make([]Sample, len(r.samples))
	copy(compact, r.samples)
	r.samples = compact
}

// Last returns the most recent sample, if any.
func (r *Ring) Last() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		return Sample{}, false
	}
	return r.samples[len(r.samples)-1], true
}

// Snapshot returns a copy of the retained samples, oldest first.
func (r *Ring) Snapshot() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len returns the number of retained samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}
