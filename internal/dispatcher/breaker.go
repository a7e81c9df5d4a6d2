package dispatcher

import (
	"sync"
	"time"

	"titansched/internal/model"
)

// breaker is the dispatcher-owned predictor circuit breaker. It is
// mutated only on the dispatcher's own loop (spec.md §5), so its
// mutex exists purely to let diagnostics read a consistent snapshot
// from another goroutine (e.g. via Dispatcher.Breaker).
type breaker struct {
	mu               sync.Mutex
	state            model.CircuitBreakerState
	fallbackThreshold int
	probeInterval    time.Duration
}

func newBreaker(fallbackThreshold int, probeInterval time.Duration) *breaker {
	return &breaker{fallbackThreshold: fallbackThreshold, probeInterval: probeInterval}
}

// RecordFailure increments the consecutive-failure counter and opens
// the breaker once it reaches fallbackThreshold.
func (b *breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ConsecutiveFailures++
	b.state.LastFailure = now
	if b.state.ConsecutiveFailures >= b.fallbackThreshold {
		if !b.state.Open {
			b.state.HalfOpenProbeAt = now.Add(b.probeInterval)
		}
		b.state.Open = true
	}
}

// RecordSuccess resets the breaker: one successful prediction closes
// it immediately, with no half-open delay.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Reset()
}

// ShouldAttemptPredict reports whether dispatchTask should call the
// predictor this round. When closed, always true. When open, true
// only at the periodic probe instant (policy B from spec.md §9,
// chosen to avoid the breaker never closing in steady-state failure).
func (b *breaker) ShouldAttemptPredict(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.state.Open {
		return true
	}
	if !b.state.HalfOpenProbeAt.IsZero() && !now.Before(b.state.HalfOpenProbeAt) {
		b.state.HalfOpenProbeAt = now.Add(b.probeInterval)
		return true
	}
	return false
}

// Snapshot returns a copy of the current state, for diagnostics.
func (b *breaker) Snapshot() model.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports the current open flag.
func (b *breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Open
}
