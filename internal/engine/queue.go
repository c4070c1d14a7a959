package engine

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"

	"github.com/NamanBalaji/hlsdl/internal/logger"
)

// queueItem wraps a job ID with its priority for the heap.
type queueItem struct {
	ID       uuid.UUID
	Priority int
	index    int
}

// jobHeap implements heap.Interface as a max-heap by Priority.
type jobHeap []*queueItem

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].Priority > h[j].Priority }
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *jobHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	item.index = -1
	*h = old[:n-1]
	return item
}

// QueueProcessor runs prioritized jobs with at most maxConcurrent at a time.
// startFn blocks for the duration of a job. The dispatch loop exits when
// stopCh is closed; jobs already running are left to finish.
type QueueProcessor struct {
	mu            sync.Mutex
	cond          *sync.Cond
	heap          jobHeap
	startFn       func(uuid.UUID) error
	maxConcurrent int
	activeCount   int
	stopCh        <-chan struct{}
}

// NewQueueProcessor creates and starts the processor loop.
func NewQueueProcessor(maxConcurrent int, startFn func(uuid.UUID) error, stopCh <-chan struct{}) *QueueProcessor {
	qp := &QueueProcessor{
		heap:          make(jobHeap, 0),
		startFn:       startFn,
		maxConcurrent: maxConcurrent,
		stopCh:        stopCh,
	}
	qp.cond = sync.NewCond(&qp.mu)

	go qp.dispatchLoop()

	// Wake every waiter once stopCh closes.
	go func() {
		<-stopCh
		qp.cond.L.Lock()
		qp.cond.Broadcast()
		qp.cond.L.Unlock()
	}()

	return qp
}

// Enqueue adds a job ID with its priority into the queue.
func (q *QueueProcessor) Enqueue(id uuid.UUID, priority int) {
	q.mu.Lock()
	heap.Push(&q.heap, &queueItem{ID: id, Priority: priority})
	logger.Debugf("Enqueued job %s (priority %d)", id, priority)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Pending returns the number of jobs not started yet.
func (q *QueueProcessor) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Wait blocks until the queue is empty and no job is running, or until the
// processor is stopped and the running jobs have returned.
func (q *QueueProcessor) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.activeCount > 0 || (len(q.heap) > 0 && !q.stopped()) {
		q.cond.Wait()
	}
}

func (q *QueueProcessor) stopped() bool {
	select {
	case <-q.stopCh:
		return true
	default:
		return false
	}
}

// dispatchLoop pops items when slots free and starts workers.
func (q *QueueProcessor) dispatchLoop() {
	for {
		q.mu.Lock()
		for (q.activeCount >= q.maxConcurrent || len(q.heap) == 0) && !q.stopped() {
			q.cond.Wait()
		}

		if q.stopped() {
			q.mu.Unlock()
			return
		}

		item := heap.Pop(&q.heap).(*queueItem)
		q.activeCount++
		q.mu.Unlock()

		go func(id uuid.UUID) {
			defer func() {
				q.mu.Lock()
				q.activeCount--
				q.cond.Broadcast()
				q.mu.Unlock()
			}()

			logger.Debugf("Starting job %s", id)
			if err := q.startFn(id); err != nil {
				logger.Errorf("Job %s failed: %v", id, err)
			}
		}(item.ID)
	}
}
