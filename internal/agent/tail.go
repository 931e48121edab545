package agent

import "sync"

// TailBuffer is a bounded ring that keeps the most recent lines of the
// agent's stderr for failure reports.
type TailBuffer struct {
	mu    sync.Mutex
	lines []string
	size  int
	head  int
	count int
}

// NewTailBuffer creates a ring holding at most size lines.
func NewTailBuffer(size int) *TailBuffer {
	return &TailBuffer{
		lines: make([]string, size),
		size:  size,
	}
}

// Add appends a line, evicting the oldest when full.
func (b *TailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.head + b.count) % b.size
	if b.count < b.size {
		b.count++
	} else {
		b.head = (b.head + 1) % b.size
	}
	b.lines[idx] = line
}

// Lines returns the retained lines, oldest first.
func (b *TailBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.lines[(b.head+i)%b.size]
	}
	return result
}
