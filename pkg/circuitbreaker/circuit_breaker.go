package circuitbreaker

import (
	"sync"
	"time"
)

// timeNow allows mocking time.Now for testing purposes
//
//nolint:gochecknoglobals // This is used for testing purposes
var timeNow = time.Now

// SetTimeNow sets the time function for the package and returns a function to restore it.
// This is intended for testing purposes only.
func SetTimeNow(f func() time.Time) func() {
	original := timeNow
	timeNow = f
	return func() { timeNow = original }
}

const (
	// DefaultThreshold is the default number of consecutive failures before
	// the circuit breaker opens.
	DefaultThreshold = 5

	// DefaultTimeout is the default duration the circuit breaker stays open
	// before attempting to close again.
	DefaultTimeout = 1 * time.Minute
)

// CircuitBreaker implements a simple circuit breaker pattern for service health.
// It tracks consecutive failures and opens the circuit after a threshold is reached.
type CircuitBreaker struct {
	mu sync.Mutex

	name         string
	failureCount int
	threshold    int
	timeout      time.Duration
	openedAt     time.Time

	onStateChange func(name string, open bool)
}

// New creates a new circuit breaker guarding the backend identified by name
// (e.g. "redisstore", "sqlstore"). name is surfaced to any hook registered
// via WithStateChangeHook and has no effect on the breaker's own behavior.
func New(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
	}
}

// Name returns the backend name this breaker was constructed with.
func (cb *CircuitBreaker) Name() string { return cb.name }

// WithStateChangeHook registers fn to be called, with this breaker's name,
// whenever the circuit transitions open or closed. Intended for wiring a
// circuit breaker's open/closed transitions into caller-owned metrics or
// logging.
func (cb *CircuitBreaker) WithStateChangeHook(fn func(name string, open bool)) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.onStateChange = fn

	return cb
}

// RecordFailure increments the failure count.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	wasOpen := !cb.openedAt.IsZero()

	cb.failureCount++

	opened := false
	if cb.failureCount >= cb.threshold {
		cb.openedAt = timeNow()
		opened = !wasOpen
	}

	hook, name := cb.onStateChange, cb.name
	cb.mu.Unlock()

	if opened && hook != nil {
		hook(name, true)
	}
}

// RecordSuccess records a success, resetting the failure count and closing the circuit
// if it was open or half-open.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	wasOpen := !cb.openedAt.IsZero()

	cb.failureCount = 0
	cb.openedAt = time.Time{}

	hook, name := cb.onStateChange, cb.name
	cb.mu.Unlock()

	if wasOpen && hook != nil {
		hook(name, false)
	}
}

// AllowRequest checks if the circuit breaker allows a request to go through.
// It handles the state transition from Open to Half-Open.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.openedAt.IsZero() {
		// Circuit is closed
		return true
	}

	if timeNow().Sub(cb.openedAt) >= cb.timeout {
		// Half-open state: allow one request through by resetting openedAt to current time.
		// This prevents a thundering herd - only one request is allowed through while
		// concurrent requests are blocked until the next timeout cycle.
		// The failure count is preserved. If the next attempt fails, RecordFailure()
		// will see that the threshold is still met and immediately re-open the circuit.
		// If it succeeds, RecordSuccess() will reset the failure count and close the circuit.
		cb.openedAt = timeNow()

		return true
	}

	return false
}

// State enumerates the three circuit breaker states.
type State int

const (
	// StateClosed means requests flow through to the backend normally.
	StateClosed State = iota
	// StateOpen means requests are rejected (or routed to a fallback) without
	// reaching the backend.
	StateOpen
	// StateHalfOpen means the timeout has elapsed and the next AllowRequest
	// call will let exactly one probe request through.
	StateHalfOpen
)

// String returns the lowercase, hyphenated state name used in logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// State reports the breaker's current state without mutating it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.openedAt.IsZero() {
		return StateClosed
	}

	if timeNow().Sub(cb.openedAt) >= cb.timeout {
		return StateHalfOpen
	}

	return StateOpen
}

// IsOpen reports whether the circuit breaker is open or half-open — i.e.
// whether a caller like ResilientStore should consider routing to a
// degraded-mode fallback instead of the primary backend.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() != StateClosed
}

// ForceOpen forces the circuit breaker into an open state. This is useful for testing or degraded mode initialization.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	wasOpen := !cb.openedAt.IsZero()

	cb.failureCount = cb.threshold
	cb.openedAt = timeNow()

	hook, name := cb.onStateChange, cb.name
	cb.mu.Unlock()

	if !wasOpen && hook != nil {
		hook(name, true)
	}
}
