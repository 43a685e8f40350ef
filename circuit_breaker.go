package wallet

import (
	"context"
	"sync"
	"time"
)

// CircuitBreaker prevents cascading failures when Redis is unavailable.
// Implements the circuit breaker pattern with three states: closed, open,
// half-open.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: backend failing, requests fail fast without a round trip
//   - Half-Open: testing if the backend recovered, limited requests allowed
type CircuitBreaker struct {
	mu            sync.RWMutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailTime  time.Time
	state         string // "closed", "open", "half-open"
	onStateChange func(from, to string)
}

// NewCircuitBreaker creates a circuit breaker.
//
// Parameters:
//   - maxFailures: consecutive failures before opening the circuit
//   - resetTimeout: duration before transitioning from open to half-open
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        "closed",
	}
}

// WithStateChangeCallback adds a callback for state transitions.
// Useful for metrics and logging.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to string)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrKVUnavailable if the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return WithContext(ErrKVUnavailable, map[string]interface{}{
			"reason": "circuit breaker is open",
			"state":  cb.State(),
		})
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// allow checks if a request should be admitted based on circuit state
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case "open":
		if time.Since(cb.lastFailTime) > cb.resetTimeout {
			cb.setState("half-open")
			return true
		}
		return false
	case "half-open":
		return true
	default: // closed
		return true
	}
}

// recordResult updates circuit breaker state based on operation result
func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()

		if cb.failures >= cb.maxFailures && cb.state != "open" {
			cb.setState("open")
		}
	} else {
		if cb.state == "half-open" {
			cb.setState("closed")
			cb.failures = 0
		} else if cb.state == "closed" {
			cb.failures = 0
		}
	}
}

// setState transitions to a new state and triggers the callback
func (cb *CircuitBreaker) setState(newState string) {
	oldState := cb.state
	cb.state = newState
	if cb.onStateChange != nil {
		cb.onStateChange(oldState, newState)
	}
}

// State returns the current state (closed, open, or half-open)
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState("closed")
}

// Failures returns the current failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}
