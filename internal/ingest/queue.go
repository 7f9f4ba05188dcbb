package ingest

import (
	"context"
	"sync"

	"github.com/foshk/gateway/internal/types"
)

// Queue is the unbounded FIFO between the ingest handlers and the
// normaliser worker.  An observation is never dropped; memory growth is
// bounded by the observation rate against the drain rate, which is tiny in
// practice.
type Queue struct {
	mu     sync.Mutex
	items  []types.RawReport
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends a report.  It never blocks.
func (q *Queue) Push(r types.RawReport) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes the oldest report, blocking until one is available or the
// context is cancelled.
func (q *Queue) Pop(ctx context.Context) (types.RawReport, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return r, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return types.RawReport{}, false
		}
	}
}

// Len returns the number of queued reports.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
