// Package queue provides the unbounded FIFO used to serialize work onto an
// active object's run loop.
package queue

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO safe for any number of producers and a single
// consumer. Push never blocks; Wait blocks the consumer until an item
// arrives, the queue is closed, or the context is done.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func New[T any](maybeSize ...int) *Queue[T] {
	size := 0
	if len(maybeSize) > 0 {
		size = maybeSize[0]
	}
	return &Queue[T]{
		items:  make([]T, 0, size),
		signal: make(chan struct{}, 1),
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Push appends item and wakes the consumer. It reports false once the
// queue has been closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop removes the head without blocking. The second return is false when
// the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

// Wait removes the head, blocking until an item is available. It returns
// false when the queue is closed and drained, or when ctx is done.
func (q *Queue[T]) Wait(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if item, ok := q.pop(); ok {
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		var zero T
		if closed {
			return zero, false
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// Close stops accepting new items. Items already queued remain available
// to Pop and Wait.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// pop requires q.mu held.
func (q *Queue[T]) pop() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// wake is lossy on purpose: one pending signal is enough for a single
// consumer, which re-checks the queue on every wakeup.
func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
