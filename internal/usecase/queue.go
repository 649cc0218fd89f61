package usecase

import (
	"container/heap"
	"sync"
	"time"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
	"github.com/fairyhunter13/solcron-keeper/internal/observability"
)

// queueItem wraps a request with the bookkeeping the heap ordering
// needs. seq breaks priority ties so equal-priority requests leave in
// arrival order.
type queueItem struct {
	req      domain.ExecutionRequest
	queuedAt time.Time
	seq      uint64
}

type requestHeap []*queueItem

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// ExecutionQueue is a mutex-guarded max-priority queue of execution
// requests. Higher priority pops first; within a priority, FIFO.
type ExecutionQueue struct {
	mu    sync.Mutex
	items requestHeap
	seq   uint64
	now   func() time.Time
}

// NewExecutionQueue returns an empty queue.
func NewExecutionQueue() *ExecutionQueue {
	return &ExecutionQueue{now: time.Now}
}

// Push enqueues a request.
func (q *ExecutionQueue) Push(req domain.ExecutionRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, &queueItem{req: req, queuedAt: q.now(), seq: q.seq})
	observability.QueueSize.Set(float64(len(q.items)))
}

// Pop removes and returns the highest-priority request. ok is false
// when the queue is empty.
func (q *ExecutionQueue) Pop() (domain.ExecutionRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.ExecutionRequest{}, false
	}
	item := heap.Pop(&q.items).(*queueItem)
	observability.QueueSize.Set(float64(len(q.items)))
	return item.req, true
}

// Len reports the number of queued requests.
func (q *ExecutionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns the queue size and the highest priority currently
// queued. With an empty queue the priority is Low.
func (q *ExecutionQueue) Stats() (int, domain.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, domain.PriorityLow
	}
	return len(q.items), q.items[0].req.Priority
}

// Clear drops all queued requests and returns how many were dropped.
func (q *ExecutionQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	observability.QueueSize.Set(0)
	return n
}
