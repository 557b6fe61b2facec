// Package queue provides the unbounded FIFO that connects the IPC manager,
// its callers and the event bus.
package queue

import (
	"context"
	"sync"

	"discord-rpc/internal/domain"
)

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
// Push never blocks; Pop blocks until an item arrives, ctx is done, or the
// queue is closed and drained.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // capacity 1: "items may be available"
	done   chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It fails with domain.ErrChannelClosed once the queue is closed.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.NewDomainError("Queue.Push", domain.ErrChannelClosed, "")
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return nil
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Pop removes the oldest item, waiting for one if the queue is empty.
// Items pushed before Close are still delivered; after that Pop returns
// domain.ErrChannelClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		v, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()
		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, domain.NewDomainError("Queue.Pop", domain.ErrChannelClosed, "")
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes every blocked Pop. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// Another consumer may be parked on the signal we just consumed.
		q.wake()
	}
	return v, true
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
