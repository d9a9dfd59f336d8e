package governor

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Unix(1700000000, 0))
	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 5, Cooldown: 60 * time.Second, Now: clock.Now})

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if err := cb.Allow(); err != nil {
			t.Fatalf("expected allow after %d failures: %v", i+1, err)
		}
	}
	cb.RecordFailure()

	err := cb.Allow()
	var circuitErr *CircuitError
	if !errors.As(err, &circuitErr) {
		t.Fatalf("expected circuit error after threshold, got %v", err)
	}
	if circuitErr.RetryAfter != 60*time.Second {
		t.Fatalf("expected full cooldown remaining, got %v", circuitErr.RetryAfter)
	}

	clock.Advance(30 * time.Second)
	err = cb.Allow()
	if !errors.As(err, &circuitErr) {
		t.Fatalf("expected circuit error mid-cooldown, got %v", err)
	}
	if circuitErr.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s remaining, got %v", circuitErr.RetryAfter)
	}

	clock.Advance(31 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe after cooldown: %v", err)
	}
	cb.RecordSuccess()
	if status := cb.Status(); status.State != "closed" || status.Failures != 0 {
		t.Fatalf("expected closed breaker after probe success: %#v", status)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 3, Cooldown: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if err := cb.Allow(); err != nil {
		t.Fatalf("failures separated by a success must not open the breaker: %v", err)
	}
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Unix(1700000000, 0))
	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 1, Cooldown: 10 * time.Second, Now: clock.Now})

	cb.RecordFailure()
	clock.Advance(11 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected first caller to claim the probe: %v", err)
	}
	err := cb.Allow()
	var circuitErr *CircuitError
	if !errors.As(err, &circuitErr) {
		t.Fatalf("expected concurrent caller to be rejected, got %v", err)
	}
	if circuitErr.RetryAfter != 0 {
		t.Fatalf("probe-in-flight rejection carries no cooldown: %#v", circuitErr)
	}

	cb.RecordSuccess()
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected closed breaker after probe success: %v", err)
	}
}

func TestCircuitBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Unix(1700000000, 0))
	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 1, Cooldown: 10 * time.Second, Now: clock.Now})

	cb.RecordFailure()
	clock.Advance(11 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe slot: %v", err)
	}
	cb.RecordFailure()

	err := cb.Allow()
	var circuitErr *CircuitError
	if !errors.As(err, &circuitErr) {
		t.Fatalf("expected open breaker after failed probe, got %v", err)
	}
	if circuitErr.RetryAfter != 10*time.Second {
		t.Fatalf("expected cooldown restarted from probe failure, got %v", circuitErr.RetryAfter)
	}

	clock.Advance(11 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected another probe after second cooldown: %v", err)
	}
	cb.RecordSuccess()
	if status := cb.Status(); status.State != "closed" {
		t.Fatalf("expected closed breaker: %#v", status)
	}
}

func TestCircuitBreaker_CancelProbeReleasesSlot(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Unix(1700000000, 0))
	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 1, Cooldown: 10 * time.Second, Now: clock.Now})

	cb.RecordFailure()
	clock.Advance(11 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe slot: %v", err)
	}
	if err := cb.Allow(); err == nil {
		t.Fatalf("expected concurrent caller to be rejected while probe is held")
	}

	cb.CancelProbe()

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected released slot to be reclaimable: %v", err)
	}
	cb.RecordSuccess()
	if status := cb.Status(); status.State != "closed" {
		t.Fatalf("expected closed breaker after reclaimed probe: %#v", status)
	}
}

func TestCircuitBreaker_CancelProbeOutsideHalfOpenIsNoOp(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Unix(1700000000, 0))
	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 2, Cooldown: 10 * time.Second, Now: clock.Now})

	cb.CancelProbe()
	if err := cb.Allow(); err != nil {
		t.Fatalf("closed breaker must stay closed: %v", err)
	}

	cb.RecordFailure()
	cb.RecordFailure()
	cb.CancelProbe()
	if err := cb.Allow(); err == nil {
		t.Fatalf("open breaker must stay open through CancelProbe")
	}
}

func TestCircuitBreaker_StatusReportsRemainingCooldown(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Unix(1700000000, 0))
	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 2, Cooldown: 20 * time.Second, Now: clock.Now})

	if status := cb.Status(); status.State != "closed" || status.RetryAfter != 0 {
		t.Fatalf("unexpected initial status: %#v", status)
	}
	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(5 * time.Second)
	status := cb.Status()
	if status.State != "open" || status.Failures != 2 {
		t.Fatalf("unexpected open status: %#v", status)
	}
	if status.RetryAfter != 15*time.Second {
		t.Fatalf("expected 15s remaining, got %v", status.RetryAfter)
	}
}

func TestCircuitBreaker_TransitionsAreObserved(t *testing.T) {
	t.Parallel()

	clock := newTestClock(time.Unix(1700000000, 0))
	logs := &captureLogger{}
	cb := newTestBreaker(t, CircuitOptions{FailureThreshold: 1, Cooldown: time.Second, Logger: logs, Now: clock.Now})

	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe: %v", err)
	}
	cb.RecordSuccess()

	if got := logs.count("circuit breaker opened"); got != 1 {
		t.Fatalf("expected one opened event, got %d", got)
	}
	if got := logs.count("circuit breaker state change"); got != 2 {
		t.Fatalf("expected half-open and closed events, got %d", got)
	}
}

func TestNewCircuitBreaker_RejectsInvalidOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewCircuitBreaker(CircuitOptions{FailureThreshold: 0, Cooldown: time.Second}); err == nil {
		t.Fatalf("expected error for zero threshold")
	}
	if _, err := NewCircuitBreaker(CircuitOptions{FailureThreshold: 3, Cooldown: 0}); err == nil {
		t.Fatalf("expected error for zero cooldown")
	}
}

func newTestBreaker(t *testing.T, opts CircuitOptions) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker(opts)
	if err != nil {
		t.Fatalf("failed to create breaker: %v", err)
	}
	return cb
}
