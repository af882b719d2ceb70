package memory

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// Queue is a buffered in-process request queue. Commit is a no-op; a request
// is gone once read.
type Queue struct {
	ch           chan worker.Request
	flushTimeout time.Duration

	mu     sync.Mutex
	offset int64
}

// NewQueue creates a queue holding up to capacity pending requests. A batch
// read waits at most flushTimeout for more requests after the first.
func NewQueue(capacity int, flushTimeout time.Duration) *Queue {
	return &Queue{ch: make(chan worker.Request, capacity), flushTimeout: flushTimeout}
}

// Enqueue adds req, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, req worker.Request) error {
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExtractBatch blocks for the first request, then collects more until
// batchSize is reached or the flush timeout elapses.
func (q *Queue) ExtractBatch(ctx context.Context, batchSize int) ([]worker.Delivery, error) {
	var batch []worker.Delivery
	select {
	case req := <-q.ch:
		batch = append(batch, q.delivery(req))
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(q.flushTimeout)
	defer timer.Stop()
	for len(batch) < batchSize {
		select {
		case req := <-q.ch:
			batch = append(batch, q.delivery(req))
		case <-timer.C:
			return batch, nil
		case <-ctx.Done():
			return batch, nil
		}
	}
	return batch, nil
}

// Len reports pending requests.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) delivery(req worker.Request) worker.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.offset++
	return worker.Delivery{Request: req, Topic: "memory", Offset: q.offset}
}
