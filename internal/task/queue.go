package task

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// queueItem wraps a queued task with its heap position. The index lives
// here rather than on the Task so the heap's bookkeeping never touches
// memory that snapshot copies under the scheduler's lock.
type queueItem struct {
	task  *Task
	index int
}

// taskHeap orders pending tasks by (priority asc, seq asc). Lower numeric
// priority runs first; seq preserves submission order within a priority.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].task.seq < h[j].task.seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is a bounded priority queue of pending tasks. Enqueue fails fast
// with ErrQueueFull when the bound is reached; it never blocks.
type Queue struct {
	mu      sync.Mutex
	items   taskHeap
	byID    map[uuid.UUID]*queueItem
	maxSize int
}

// NewQueue creates a queue bounded at maxSize pending tasks.
func NewQueue(maxSize int) *Queue {
	return &Queue{
		items:   make(taskHeap, 0, maxSize),
		byID:    make(map[uuid.UUID]*queueItem),
		maxSize: maxSize,
	}
}

// Enqueue adds a pending task. The retry path uses it too, so a task may
// re-enter the queue with its original seq and keep its FIFO position
// relative to later submissions.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, q.maxSize)
	}
	item := &queueItem{task: t, index: -1}
	heap.Push(&q.items, item)
	q.byID[t.ID] = item
	return nil
}

// Dequeue removes and returns the highest-priority pending task, or nil
// when the queue is empty.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.byID, item.task.ID)
	return item.task
}

// Remove extracts a specific pending task, used by cancellation. Returns
// false if the task is not queued.
func (q *Queue) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, id)
	return true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
