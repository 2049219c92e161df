package writer

import (
	"context"
	"sync"
)

const (
	// DefaultBatchSize matches the 100-1000 per-stage default of §4.C; every
	// stage currently passes this value.
	DefaultBatchSize  = 500
	DefaultMaxAttempts = 3
)

// Sink is the destination a Writer flushes full batches to — in production
// internal/sink.Sink, in tests a recording fake.
type Sink[T any] interface {
	Flush(ctx context.Context, batch []T) error
}

// Outcome is the accumulated per-batch result a Writer returns from
// Outcome(), used by the owning stage to build its per-tool statistics (§4.H step 7).
type Outcome struct {
	Accepted     int
	DataErrors   int
	FailedBatches int
}

// Writer accumulates records into an internal buffer and flushes at
// batch_size, per spec.md §4.C. Submit and Close guard the buffer with a
// mutex, but records from concurrent callers interleave. Each stage owns
// one Writer and runs its tools through it one after another, so a single
// tool's records reach the sink in the order the parser yielded them (§5).
type Writer[T any] struct {
	sink        Sink[T]
	batchSize   int
	maxAttempts int
	retry       *retrier

	mu      sync.Mutex
	buf     []T
	pool    *batchPool[T]
	outcome Outcome
}

// New constructs a Writer with the given batch size and retry budget.
func New[T any](sink Sink[T], batchSize, maxAttempts int) *Writer[T] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Writer[T]{
		sink:        sink,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		retry:       newRetrier(),
		pool:        newBatchPool[T](batchSize),
		buf:         make([]T, 0, batchSize),
	}
}

// Submit accumulates one record, flushing when the buffer reaches batch_size.
func (w *Writer[T]) Submit(ctx context.Context, rec T) error {
	w.mu.Lock()
	w.buf = append(w.buf, rec)
	full := len(w.buf) >= w.batchSize
	var toFlush []T
	if full {
		toFlush = w.buf
		w.buf = w.pool.get()
	}
	w.mu.Unlock()

	if full {
		return w.flush(ctx, toFlush)
	}
	return nil
}

// Close flushes any tail records still buffered.
func (w *Writer[T]) Close(ctx context.Context) error {
	w.mu.Lock()
	toFlush := w.buf
	w.buf = nil
	w.mu.Unlock()

	if len(toFlush) == 0 {
		return nil
	}
	return w.flush(ctx, toFlush)
}

// Outcome returns a snapshot of accumulated batch outcomes.
func (w *Writer[T]) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

func (w *Writer[T]) flush(ctx context.Context, batch []T) error {
	defer w.pool.put(batch)

	err := w.retry.Do(ctx, w.maxAttempts, isTransient, func(ctx context.Context) error {
		return w.sink.Flush(ctx, batch)
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case err == nil:
		w.outcome.Accepted += len(batch)
		return nil
	case isDataIntegrity(err):
		w.outcome.DataErrors++
		return nil
	default:
		w.outcome.FailedBatches++
		return err
	}
}
