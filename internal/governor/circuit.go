// Package governor provides a circuit breaker.
package governor

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents breaker state.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the state label.
func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerStatus reports the current breaker state.
type BreakerStatus struct {
	State      string
	Failures   int64
	RetryAfter time.Duration
}

// CircuitOptions configures breaker thresholds.
type CircuitOptions struct {
	FailureThreshold int64
	Cooldown         time.Duration
	Logger           Logger
	Metrics          Metrics
	Now              func() time.Time
}

// CircuitBreaker tracks consecutive upstream failures and short-circuits
// calls while the upstream is considered down. After the cooldown it
// admits exactly one probe; concurrent callers are rejected until the
// probe resolves.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    CircuitState
	failures int64
	openedAt time.Time
	probing  bool

	opts    CircuitOptions
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(opts CircuitOptions) (*CircuitBreaker, error) {
	if opts.FailureThreshold <= 0 {
		return nil, fmt.Errorf("breaker failure threshold must be positive, got %d", opts.FailureThreshold)
	}
	if opts.Cooldown <= 0 {
		return nil, fmt.Errorf("breaker cooldown must be positive, got %v", opts.Cooldown)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewInMemoryMetrics()
	}
	return &CircuitBreaker{
		state:   CircuitClosed,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     now,
	}, nil
}

// Allow reports whether a call may proceed. In the open state it
// returns a CircuitError carrying the remaining cooldown. When the
// cooldown has elapsed the calling goroutine is granted the single
// half-open probe slot.
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	switch cb.state {
	case CircuitClosed:
		cb.mu.Unlock()
		return nil
	case CircuitOpen:
		remaining := cb.openedAt.Add(cb.opts.Cooldown).Sub(cb.now())
		if remaining > 0 {
			cb.mu.Unlock()
			return &CircuitError{RetryAfter: remaining}
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		cb.mu.Unlock()
		cb.noteTransition(CircuitHalfOpen, 0)
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return &CircuitError{}
		}
		cb.probing = true
		cb.mu.Unlock()
		return nil
	default:
		cb.mu.Unlock()
		return nil
	}
}

// CancelProbe releases the half-open probe slot when an admitted probe
// is abandoned before reaching the upstream, so a later caller can
// claim it. Outside half-open, or when no probe is held, it is a no-op.
func (cb *CircuitBreaker) CancelProbe() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	if cb.state == CircuitHalfOpen && cb.probing {
		cb.probing = false
	}
	cb.mu.Unlock()
}

// RecordSuccess notes a successful call. A successful half-open probe
// closes the breaker and resets the failure count. Stale successes
// arriving while open are ignored.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.failures = 0
		cb.probing = false
		cb.mu.Unlock()
		cb.noteTransition(CircuitClosed, 0)
		return
	case CircuitClosed:
		cb.failures = 0
	}
	cb.mu.Unlock()
}

// RecordFailure notes a failed call. Reaching the failure threshold
// opens the breaker; a failed half-open probe reopens it and restarts
// the cooldown. Stale failures arriving while open do not extend the
// cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
		cb.probing = false
		failures := cb.failures
		cb.mu.Unlock()
		cb.noteTransition(CircuitOpen, failures)
		return
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.opts.FailureThreshold {
			cb.state = CircuitOpen
			cb.openedAt = cb.now()
			failures := cb.failures
			cb.mu.Unlock()
			cb.noteTransition(CircuitOpen, failures)
			return
		}
	}
	cb.mu.Unlock()
}

// Status reports the current breaker state.
func (cb *CircuitBreaker) Status() BreakerStatus {
	if cb == nil {
		return BreakerStatus{State: CircuitClosed.String()}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	status := BreakerStatus{State: cb.state.String(), Failures: cb.failures}
	if cb.state == CircuitOpen {
		remaining := cb.openedAt.Add(cb.opts.Cooldown).Sub(cb.now())
		if remaining < 0 {
			remaining = 0
		}
		status.RetryAfter = remaining
	}
	return status
}

func (cb *CircuitBreaker) noteTransition(to CircuitState, failures int64) {
	cb.metrics.IncBreakerTransition(to.String())
	fields := map[string]any{"state": to.String()}
	if failures > 0 {
		fields["failures"] = failures
	}
	if to == CircuitOpen {
		fields["cooldown"] = cb.opts.Cooldown.String()
		cb.logger.Warn("circuit breaker opened", fields)
		return
	}
	cb.logger.Info("circuit breaker state change", fields)
}
