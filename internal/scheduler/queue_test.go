package scheduler

import (
	"testing"

	"github.com/taskforge/taskforge/internal/task/models"
)

func queuedTaskWithID(id int64) *models.Task {
	return &models.Task{ID: id}
}

func TestQueueFIFO(t *testing.T) {
	q := newTaskQueue()

	for id := int64(1); id <= 3; id++ {
		if !q.Enqueue(queuedTaskWithID(id)) {
			t.Fatalf("Enqueue(%d) returned false", id)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected Len() = 3, got %d", q.Len())
	}

	for want := int64(1); want <= 3; want++ {
		got := q.Dequeue()
		if got == nil || got.ID != want {
			t.Errorf("expected task %d, got %v", want, got)
		}
	}
	if q.Dequeue() != nil {
		t.Error("expected nil from empty queue")
	}
}

func TestQueueRejectsDuplicate(t *testing.T) {
	q := newTaskQueue()

	if !q.Enqueue(queuedTaskWithID(1)) {
		t.Fatal("first Enqueue returned false")
	}
	if q.Enqueue(queuedTaskWithID(1)) {
		t.Error("duplicate Enqueue should return false")
	}
	if q.Len() != 1 {
		t.Errorf("expected Len() = 1, got %d", q.Len())
	}
}

func TestQueueRemove(t *testing.T) {
	q := newTaskQueue()

	_ = q.Enqueue(queuedTaskWithID(1))
	_ = q.Enqueue(queuedTaskWithID(2))

	if !q.Remove(1) {
		t.Fatal("Remove(1) returned false")
	}
	if q.Remove(1) {
		t.Error("second Remove(1) should return false")
	}

	got := q.Dequeue()
	if got == nil || got.ID != 2 {
		t.Errorf("expected task 2 after removal, got %v", got)
	}
}
