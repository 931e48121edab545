package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/taskforge/taskforge/internal/task/models"
)

// queuedTask is one admitted task waiting for an executor slot.
type queuedTask struct {
	task     *models.Task
	queuedAt time.Time
	index    int // index in the heap
}

// taskHeap implements heap.Interface ordered by admission time.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].queuedAt.Before(h[j].queuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	n := len(*h)
	item := x.(*queuedTask)
	item.index = n
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// taskQueue holds admitted tasks behind the concurrency bound. Safe
// for concurrent use.
type taskQueue struct {
	mu      sync.Mutex
	heap    taskHeap
	taskMap map[int64]*queuedTask
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		heap:    make(taskHeap, 0),
		taskMap: make(map[int64]*queuedTask),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a task. A task already queued is left in place.
func (q *taskQueue) Enqueue(task *models.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.taskMap[task.ID]; exists {
		return false
	}
	qt := &queuedTask{task: task, queuedAt: time.Now()}
	heap.Push(&q.heap, qt)
	q.taskMap[task.ID] = qt
	return true
}

// Dequeue removes and returns the oldest task, or nil when empty.
func (q *taskQueue) Dequeue() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	qt := heap.Pop(&q.heap).(*queuedTask)
	delete(q.taskMap, qt.task.ID)
	return qt.task
}

// Remove drops a specific task from the queue, reporting whether it
// was present.
func (q *taskQueue) Remove(taskID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	qt, exists := q.taskMap[taskID]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, qt.index)
	delete(q.taskMap, taskID)
	return true
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
