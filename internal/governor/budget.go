// Package governor provides the credit budget tracker.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// BalanceProber fetches the remaining credit balance from the metered
// API. The probe itself costs credits upstream, so callers keep probes
// infrequent by honoring the snapshot validity window.
type BalanceProber interface {
	Balance(ctx context.Context) (int64, error)
}

// BudgetSnapshot reports the tracked credit balance.
type BudgetSnapshot struct {
	Balance   int64
	FetchedAt time.Time
	Age       time.Duration
	Stale     bool
}

// BudgetOptions configures the budget tracker.
type BudgetOptions struct {
	SnapshotValidity time.Duration
	// WarningThreshold and CriticalThreshold are absolute credit
	// balances below which level events are emitted. Neither blocks.
	WarningThreshold  int64
	CriticalThreshold int64
	// OptimisticOnProbeError lets requests proceed when the balance
	// probe fails; when false the probe error fails the request.
	OptimisticOnProbeError bool
	Prober                 BalanceProber
	Logger                 Logger
	Metrics                Metrics
	Now                    func() time.Time
}

// BudgetTracker keeps a point-in-time snapshot of the upstream credit
// balance and rejects requests whose estimated cost exceeds it before
// any credits are spent. Concurrent refreshes of a stale snapshot are
// collapsed into a single probe.
type BudgetTracker struct {
	mu         sync.Mutex
	balance    int64
	fetchedAt  time.Time
	haveSnap   bool
	notedLevel string

	probes  singleflight.Group
	opts    BudgetOptions
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewBudgetTracker constructs a budget tracker with no snapshot. The
// first EnsureSufficient call probes the balance.
func NewBudgetTracker(opts BudgetOptions) (*BudgetTracker, error) {
	if opts.SnapshotValidity <= 0 {
		return nil, fmt.Errorf("budget snapshot validity must be positive, got %v", opts.SnapshotValidity)
	}
	if opts.CriticalThreshold < 0 || opts.WarningThreshold < opts.CriticalThreshold {
		return nil, fmt.Errorf("budget thresholds must satisfy 0 <= critical <= warning, got warning %d critical %d",
			opts.WarningThreshold, opts.CriticalThreshold)
	}
	if opts.Prober == nil {
		return nil, errors.New("balance prober is required")
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
	return &BudgetTracker{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     now,
	}, nil
}

// EnsureSufficient verifies the tracked balance covers the estimated
// cost, refreshing the snapshot first when it is stale. It returns a
// BudgetError before any cost-bearing call is made.
func (bt *BudgetTracker) EnsureSufficient(ctx context.Context, required int64) error {
	if bt == nil {
		return errors.New("budget tracker is nil")
	}
	if required <= 0 {
		return Wrap(CodeInvalidInput, fmt.Sprintf("required cost must be positive, got %d", required), nil)
	}
	bt.mu.Lock()
	fresh := bt.freshLocked()
	bt.mu.Unlock()
	if !fresh {
		if err := bt.Refresh(ctx); err != nil {
			if bt.opts.OptimisticOnProbeError {
				bt.logger.Warn("balance probe failed, proceeding optimistically", map[string]any{
					"error":    err.Error(),
					"required": required,
				})
				return nil
			}
			return err
		}
	}

	bt.mu.Lock()
	current := bt.balance
	level, first := bt.noteLowLocked()
	bt.mu.Unlock()

	if first {
		fields := map[string]any{"balance": current, "level": level}
		if level == "critical" {
			bt.logger.Error("credit balance critically low", fields)
		} else {
			bt.logger.Warn("credit balance running low", fields)
		}
	}
	if current < required {
		return &BudgetError{Current: current, Required: required, Deficit: required - current}
	}
	return nil
}

// Refresh probes the upstream balance and replaces the snapshot.
// Concurrent callers share a single probe.
func (bt *BudgetTracker) Refresh(ctx context.Context) error {
	if bt == nil {
		return errors.New("budget tracker is nil")
	}
	_, err, _ := bt.probes.Do("balance", func() (any, error) {
		balance, err := bt.opts.Prober.Balance(ctx)
		if err != nil {
			bt.metrics.IncUpstreamCall(OpToken, "error")
			var upstreamErr *UpstreamError
			if !errors.As(err, &upstreamErr) {
				err = &UpstreamError{Operation: OpToken, Err: err}
			}
			return nil, err
		}
		bt.metrics.IncUpstreamCall(OpToken, "ok")
		bt.mu.Lock()
		bt.balance = balance
		bt.fetchedAt = bt.now()
		bt.haveSnap = true
		bt.notedLevel = ""
		bt.mu.Unlock()
		bt.metrics.SetBudgetRemaining(balance)
		return balance, nil
	})
	return err
}

// Debit lowers the tracked balance after a successful paid call so
// requests inside one validity window see the shrinking balance
// without extra probes. The snapshot floors at zero.
func (bt *BudgetTracker) Debit(credits int64) {
	if bt == nil || credits <= 0 {
		return
	}
	bt.mu.Lock()
	if bt.haveSnap {
		bt.balance -= credits
		if bt.balance < 0 {
			bt.balance = 0
		}
		bt.metrics.SetBudgetRemaining(bt.balance)
	}
	bt.mu.Unlock()
}

// Snapshot returns the tracked balance without probing.
func (bt *BudgetTracker) Snapshot() BudgetSnapshot {
	if bt == nil {
		return BudgetSnapshot{Stale: true}
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()
	snapshot := BudgetSnapshot{
		Balance:   bt.balance,
		FetchedAt: bt.fetchedAt,
		Stale:     !bt.freshLocked(),
	}
	if bt.haveSnap {
		snapshot.Age = bt.now().Sub(bt.fetchedAt)
	}
	return snapshot
}

func (bt *BudgetTracker) freshLocked() bool {
	if !bt.haveSnap {
		return false
	}
	return bt.now().Sub(bt.fetchedAt) <= bt.opts.SnapshotValidity
}

// noteLowLocked classifies the balance against the thresholds and
// reports whether the level changed since the last observation for
// this snapshot. Each low level is emitted at most once per snapshot.
func (bt *BudgetTracker) noteLowLocked() (string, bool) {
	var level string
	switch {
	case bt.balance <= bt.opts.CriticalThreshold:
		level = "critical"
	case bt.balance <= bt.opts.WarningThreshold:
		level = "warning"
	default:
		return "", false
	}
	if bt.notedLevel == level {
		return level, false
	}
	bt.notedLevel = level
	return level, true
}
