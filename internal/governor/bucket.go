// Package governor provides the token bucket limiter.
package governor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// BucketLevel classifies the remaining bucket capacity.
type BucketLevel string

const (
	LevelOK       BucketLevel = "ok"
	LevelWarning  BucketLevel = "warning"
	LevelCritical BucketLevel = "critical"
)

// BucketStatus reports the current bucket fill.
type BucketStatus struct {
	Tokens   float64
	Capacity int64
	Fill     float64
	Level    BucketLevel
}

// BucketOptions configures the token bucket.
type BucketOptions struct {
	Capacity        int64
	RefillPerMinute float64
	MaxWait         time.Duration
	// WarningFraction and CriticalFraction are fill fractions in [0, 1]
	// below which level events are emitted. They never block requests.
	WarningFraction  float64
	CriticalFraction float64
	Logger           Logger
	Metrics          Metrics
	Now              func() time.Time
}

// TokenBucket enforces the upstream request rate. Acquire blocks until
// tokens are available or the configured maximum wait is exceeded. It
// is the only governor component that ever blocks a request.
type TokenBucket struct {
	mu        sync.Mutex
	tokens    float64
	last      time.Time
	lastLevel BucketLevel

	capacity float64
	rate     float64 // tokens per second
	maxWait  time.Duration
	warnFrac float64
	critFrac float64
	logger   Logger
	metrics  Metrics
	now      func() time.Time
}

// NewTokenBucket constructs a token bucket. The bucket starts full.
func NewTokenBucket(opts BucketOptions) (*TokenBucket, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("bucket capacity must be positive, got %d", opts.Capacity)
	}
	if opts.RefillPerMinute <= 0 {
		return nil, fmt.Errorf("bucket refill rate must be positive, got %v", opts.RefillPerMinute)
	}
	if opts.MaxWait < 0 {
		return nil, fmt.Errorf("bucket max wait must not be negative, got %v", opts.MaxWait)
	}
	if opts.WarningFraction < 0 || opts.WarningFraction > 1 {
		return nil, fmt.Errorf("bucket warning fraction must be in [0, 1], got %v", opts.WarningFraction)
	}
	if opts.CriticalFraction < 0 || opts.CriticalFraction > opts.WarningFraction {
		return nil, fmt.Errorf("bucket critical fraction must be in [0, warning], got %v", opts.CriticalFraction)
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
	return &TokenBucket{
		tokens:    float64(opts.Capacity),
		last:      now(),
		lastLevel: LevelOK,
		capacity:  float64(opts.Capacity),
		rate:      opts.RefillPerMinute / 60,
		maxWait:   opts.MaxWait,
		warnFrac:  opts.WarningFraction,
		critFrac:  opts.CriticalFraction,
		logger:    logger,
		metrics:   metrics,
		now:       now,
	}, nil
}

// Acquire debits cost tokens, waiting for refill when necessary. The
// debit is all or nothing: a timed out or cancelled acquisition leaves
// the bucket unchanged. Waiting never holds the bucket lock.
func (b *TokenBucket) Acquire(ctx context.Context, cost int64) error {
	if b == nil {
		return errors.New("token bucket is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if cost <= 0 {
		return Wrap(CodeInvalidInput, fmt.Sprintf("acquire cost must be positive, got %d", cost), nil)
	}
	if float64(cost) > b.capacity {
		return Wrap(CodeRateLimitTimeout, fmt.Sprintf("acquire cost %d exceeds bucket capacity %d", cost, int64(b.capacity)), nil)
	}
	deadline := b.now().Add(b.maxWait)
	waited := false
	for {
		wait := b.take(cost)
		if wait == 0 {
			b.noteLevel()
			if waited {
				b.metrics.ObserveAcquireWait(b.maxWait - deadline.Sub(b.now()))
			}
			return nil
		}
		if b.now().Add(wait).After(deadline) {
			return &RateLimitError{Cost: cost, Wait: wait, MaxWait: b.maxWait}
		}
		waited = true
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			// A deadline expiring mid-wait is a rate-limit timeout,
			// not a generic failure. Plain cancellation passes through.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &RateLimitError{Cost: cost, Wait: wait, MaxWait: b.maxWait}
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take attempts a full debit and returns zero on success, or the wait
// needed before the missing tokens refill.
func (b *TokenBucket) take(cost int64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	need := float64(cost)
	if need <= b.tokens {
		b.tokens -= need
		return 0
	}
	missing := need - b.tokens
	wait := time.Duration(missing / b.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.last = now
}

// Status reports the current fill after applying pending refill.
func (b *TokenBucket) Status() BucketStatus {
	if b == nil {
		return BucketStatus{}
	}
	b.mu.Lock()
	b.refillLocked()
	status := b.statusLocked()
	b.mu.Unlock()
	return status
}

func (b *TokenBucket) statusLocked() BucketStatus {
	tokens := b.tokens
	if tokens < 0 {
		tokens = 0
	}
	if tokens > b.capacity {
		tokens = b.capacity
	}
	fill := 0.0
	if b.capacity > 0 {
		fill = tokens / b.capacity
	}
	return BucketStatus{
		Tokens:   tokens,
		Capacity: int64(b.capacity),
		Fill:     fill,
		Level:    b.levelLocked(fill),
	}
}

func (b *TokenBucket) levelLocked(fill float64) BucketLevel {
	switch {
	case fill <= b.critFrac:
		return LevelCritical
	case fill <= b.warnFrac:
		return LevelWarning
	default:
		return LevelOK
	}
}

// noteLevel emits a log event and gauge update when the fill level
// crosses a configured threshold. Level events are informational only.
func (b *TokenBucket) noteLevel() {
	b.mu.Lock()
	b.refillLocked()
	status := b.statusLocked()
	changed := status.Level != b.lastLevel
	b.lastLevel = status.Level
	b.mu.Unlock()

	b.metrics.SetBucketFill(status.Fill)
	if !changed {
		return
	}
	fields := map[string]any{
		"tokens":   status.Tokens,
		"capacity": status.Capacity,
		"fill":     status.Fill,
		"level":    string(status.Level),
	}
	switch status.Level {
	case LevelCritical:
		b.logger.Warn("token bucket critically low", fields)
	case LevelWarning:
		b.logger.Warn("token bucket running low", fields)
	default:
		b.logger.Info("token bucket level recovered", fields)
	}
}
