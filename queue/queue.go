// Package queue provides a bounded generic FIFO used to decouple the
// real-time path from the durable-store writers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrFull is the backpressure signal returned when the queue is at
// capacity. Callers decide whether to drop or retry; it is never
// swallowed here.
var ErrFull = errors.New("queue full")

// ErrClosed is returned once the queue has been closed for intake.
var ErrClosed = errors.New("queue closed")

// Bounded is a bounded multi-producer/multi-consumer FIFO.
type Bounded[T any] struct {
	ch chan T

	mu     sync.Mutex
	closed bool
}

// NewBounded creates a queue holding at most capacity items.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[T]{ch: make(chan T, capacity)}
}

// TryEnqueue adds an item without blocking. It fails fast with ErrFull
// when the queue is at capacity and ErrClosed after Close.
func (q *Bounded[T]) TryEnqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue removes the front item, blocking until one is available, the
// queue is closed and drained, or ctx is cancelled. The boolean is false
// when no item was dequeued.
func (q *Bounded[T]) Dequeue(ctx context.Context) (T, bool) {
	var zero T
	select {
	case item, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		return item, true
	case <-ctx.Done():
		return zero, false
	}
}

// TryDequeue removes the front item without blocking.
func (q *Bounded[T]) TryDequeue() (T, bool) {
	var zero T
	select {
	case item, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		return item, true
	default:
		return zero, false
	}
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	return len(q.ch)
}

// Close stops intake. Items already queued can still be dequeued;
// consumers ranging via Dequeue observe the drain completing.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
