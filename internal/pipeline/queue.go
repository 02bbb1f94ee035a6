package pipeline

import (
	"sync"

	"github.com/bryanchriswhite/tfliteserver/internal/model"
)

// Queue is a FIFO of pipeline items with a hard cap. Pushing past the cap
// discards the oldest items; the producer never blocks.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*model.Item
	limit   int
	dropped uint64
	closed  bool
}

// NewQueue returns a queue holding at most limit items.
func NewQueue(limit int) *Queue {
	if limit < 1 {
		limit = 1
	}
	q := &Queue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item, dropping the oldest entries beyond the cap, and wakes
// one waiter.
func (q *Queue) Push(item *model.Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.trimLocked()
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed. ok is false
// once the queue is closed.
func (q *Queue) Pop() (item *model.Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	item = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

// Trim discards the oldest items beyond the cap.
func (q *Queue) Trim() {
	q.mu.Lock()
	q.trimLocked()
	q.mu.Unlock()
}

func (q *Queue) trimLocked() {
	if excess := len(q.items) - q.limit; excess > 0 {
		for i := 0; i < excess; i++ {
			q.items[i] = nil
		}
		q.items = q.items[excess:]
		q.dropped += uint64(excess)
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were discarded by the cap.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes every waiter; subsequent Pops return immediately.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}
