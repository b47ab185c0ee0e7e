package internal

import (
	"sync"
	"time"
)

// CircuitBreaker stops calls to a remote resource after threshold failures within
// window, for cooldown. A nil breaker never opens.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  []time.Time
	threshold int
	window    time.Duration
	cooldown  time.Duration
	openUntil time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a configured circuit breaker.
func NewCircuitBreaker(threshold int, window, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		failures:  make([]time.Time, 0, threshold),
		now:       time.Now,
	}
}

// RecordFailure records a failure and opens the breaker once threshold failures
// fall inside the window.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, at := range cb.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	cb.failures = append(kept, now)

	if len(cb.failures) >= cb.threshold {
		cb.openUntil = now.Add(cb.cooldown)
		cb.failures = cb.failures[:0]
	}
}

// RecordSuccess clears the failure history and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
}

// IsOpen reports whether calls should be skipped.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Before(cb.openUntil)
}
