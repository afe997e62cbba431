package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBoundedFIFOOrder(t *testing.T) {
	t.Parallel()

	q := NewBounded[int](10)
	for i := 0; i < 5; i++ {
		if err := q.TryEnqueue(i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		item, ok := q.TryDequeue()
		if !ok || item != i {
			t.Fatalf("dequeue %d: got %d ok=%v", i, item, ok)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestBoundedFailsFastWhenFull(t *testing.T) {
	t.Parallel()

	q := NewBounded[int](2)
	if err := q.TryEnqueue(1); err != nil {
		t.Fatal(err)
	}
	if err := q.TryEnqueue(2); err != nil {
		t.Fatal(err)
	}
	if err := q.TryEnqueue(3); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestBoundedCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewBounded[int](4)
	for i := 0; i < 3; i++ {
		if err := q.TryEnqueue(i); err != nil {
			t.Fatal(err)
		}
	}
	q.Close()

	if err := q.TryEnqueue(9); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		item, ok := q.Dequeue(ctx)
		if !ok || item != i {
			t.Fatalf("drain %d: got %d ok=%v", i, item, ok)
		}
	}
	if _, ok := q.Dequeue(ctx); ok {
		t.Fatal("expected drained queue to report closed")
	}
}

func TestBoundedDequeueHonoursContext(t *testing.T) {
	t.Parallel()

	q := NewBounded[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := q.Dequeue(ctx); ok {
		t.Fatal("expected cancellation, got item")
	}
}

func TestBoundedConcurrentProducersConsumers(t *testing.T) {
	t.Parallel()

	const producers = 4
	const perProducer = 50

	q := NewBounded[int](producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.TryEnqueue(i); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	q.Close()

	var got int
	ctx := context.Background()
	for {
		if _, ok := q.Dequeue(ctx); !ok {
			break
		}
		got++
	}
	if got != producers*perProducer {
		t.Fatalf("drained %d items, want %d", got, producers*perProducer)
	}
}
