// Package writer implements the Batched Writer of spec.md §4.C: accumulate
// records, flush at a size threshold, retry transient flush failures with
// backoff, and distinguish data-integrity failures (discard silently) from
// exhausted-retry failures (stage fails, scan continues).
package writer

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// retrier reapplies pkg/common/retry/coordinator.go's exponential
// backoff-plus-jitter and circuit-breaker shape, narrowed to the batched
// writer's exact contract: fixed 1s/2s/4s backoff, 3 attempts by default,
// no FixProvider/ExecuteWithFix machinery (nothing here auto-remediates a
// failed flush the way the teacher's workflow fixer did).
type retrier struct {
	delays []time.Duration
	mu     sync.Mutex
	rng    *rand.Rand
	cb     *circuitBreaker
}

// newRetrier builds a retrier with the default backoff ladder from §4.C.
func newRetrier() *retrier {
	return &retrier{
		delays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cb:     newCircuitBreaker(),
	}
}

// Do runs fn, retrying on transient failures per the backoff ladder. A
// classifier distinguishes transient errors (retry) from data-integrity
// errors (fail fast, caller treats as "discard batch").
func (r *retrier) Do(ctx context.Context, attempts int, isTransient func(error) bool, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = len(r.delays) + 1
	}
	if !r.cb.CanExecute() {
		return errCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			r.cb.RecordSuccess()
			return nil
		}

		lastErr = err
		if !isTransient(err) {
			return err
		}
		r.cb.RecordFailure()

		if attempt >= attempts-1 {
			break
		}

		delay := r.delayFor(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (r *retrier) delayFor(attempt int) time.Duration {
	base := r.delays[len(r.delays)-1]
	if attempt < len(r.delays) {
		base = r.delays[attempt]
	}
	r.mu.Lock()
	jitter := time.Duration(r.rng.Int63n(int64(base/10 + 1)))
	r.mu.Unlock()
	return base + jitter
}

// circuitBreaker is the same three-state (closed/open/half-open) shape as
// pkg/common/retry/coordinator.go's circuitBreaker, trimmed to the fields
// the batched writer actually needs.
type circuitBreaker struct {
	mu               sync.Mutex
	state            cbState
	failures         int
	lastFailure      time.Time
	successCount     int
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int
}

type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		state:            cbClosed,
		failureThreshold: 5,
		recoveryTimeout:  30 * time.Second,
		successThreshold: 2,
	}
}

func (cb *circuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case cbClosed, cbHalfOpen:
		return true
	case cbOpen:
		if time.Since(cb.lastFailure) > cb.recoveryTimeout {
			cb.state = cbHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.successCount++
	if cb.state == cbHalfOpen && cb.successCount >= cb.successThreshold {
		cb.state = cbClosed
		cb.failures = 0
		cb.successCount = 0
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	cb.successCount = 0
	if cb.failures >= cb.failureThreshold {
		cb.state = cbOpen
	}
}
