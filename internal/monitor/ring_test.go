package monitor

import (
	"testing"
	"time"
)

func TestRingBounds(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Add(Sample{At: time.Unix(int64(i), 0), RSSBytes: uint64(i)})
	}

	if r.Len() != 3 {
		t.Fatalf("expected 3 retained samples, got %d", r.Len())
	}

	snapshot := r.Snapshot()
	if snapshot[0].RSSBytes != 2 || snapshot[2].RSSBytes != 4 {
		t.Errorf("expected oldest=2 newest=4, got %v", snapshot)
	}
}

func TestRingLast(t *testing.T) {
	r := NewRing(10)

	if _, ok := r.Last(); ok {
		t.Error("empty ring should report no last sample")
	}

	r.Add(Sample{RSSBytes: 7})
	last, ok := r.Last()
	if !ok || last.RSSBytes != 7 {
		t.Errorf("unexpected last sample %v ok=%v", last, ok)
	}
}

func TestRingTrimPreservesSamples(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 10; i++ {
		r.Add(Sample{RSSBytes: uint64(i)})
	}

	before := r.Snapshot()
	r.Trim()
	after := r.Snapshot()

	if len(before) != len(after) {
		t.Fatalf("trim changed length: %d != %d", len(before), len(after))
	}
	for i := range before {
		if before[i].RSSBytes != after[i].RSSBytes {
			t.Errorf("trim changed sample %d", i)
		}
	}
}
