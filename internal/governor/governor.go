// Package governor provides the coordinated access pipeline.
package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// GovernorOptions configures the access governor.
type GovernorOptions struct {
	Costs    *CostTable
	Bucket   *TokenBucket
	Budget   *BudgetTracker
	Breaker  *CircuitBreaker
	Cache    *TwoTierCache
	Upstream Upstream
	// Retries is the number of additional attempts after an upstream
	// failure, between 0 and 2. Each attempt passes budget and rate
	// admission again.
	Retries int
	// SingleFlight collapses concurrent misses for the same key into
	// one upstream call.
	SingleFlight bool
	Logger       Logger
	Metrics      Metrics
	Now          func() time.Time
}

// Governor coordinates cache, budget, circuit breaker and rate limiter
// in front of the metered upstream. It implements GovernorService.
type Governor struct {
	costs    *CostTable
	bucket   *TokenBucket
	budget   *BudgetTracker
	breaker  *CircuitBreaker
	cache    *TwoTierCache
	upstream Upstream
	retries  int
	logger   Logger
	metrics  Metrics
	now      func() time.Time

	useSingleFlight bool
	flight          singleflight.Group
}

// NewGovernor constructs a governor from its collaborators.
func NewGovernor(opts GovernorOptions) (*Governor, error) {
	if opts.Costs == nil {
		return nil, errors.New("cost table is required")
	}
	if opts.Bucket == nil {
		return nil, errors.New("token bucket is required")
	}
	if opts.Budget == nil {
		return nil, errors.New("budget tracker is required")
	}
	if opts.Breaker == nil {
		return nil, errors.New("circuit breaker is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream is required")
	}
	if opts.Retries < 0 || opts.Retries > 2 {
		return nil, fmt.Errorf("retries must be between 0 and 2, got %d", opts.Retries)
	}
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewInMemoryMetrics()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Governor{
		costs:           opts.Costs,
		bucket:          opts.Bucket,
		budget:          opts.Budget,
		breaker:         opts.Breaker,
		cache:           opts.Cache,
		upstream:        opts.Upstream,
		retries:         opts.Retries,
		logger:          logger,
		metrics:         metrics,
		now:             now,
		useSingleFlight: opts.SingleFlight,
	}, nil
}

// Discover resolves a filter set to a list of product identifiers,
// serving from the discovery cache tier when possible.
func (g *Governor) Discover(ctx context.Context, filters FilterSet) (*DiscoverResult, error) {
	if g == nil {
		return nil, errors.New("governor is nil")
	}
	started := g.now()
	defer func() { g.metrics.ObserveLatency(OpFinder, g.now().Sub(started)) }()

	if len(filters) == 0 {
		err := Wrap(CodeInvalidInput, "at least one discovery filter is required", nil)
		g.metrics.IncFailure(OpFinder, string(CodeOf(err)))
		return nil, err
	}
	key := DiscoveryKey(filters)

	if payload, ok := g.cache.Get(ctx, TierDiscovery, key); ok {
		identifiers, err := decodeIdentifiers(payload)
		if err == nil {
			return &DiscoverResult{Identifiers: identifiers, Cached: true, Key: key}, nil
		}
		g.metrics.IncCacheCorrupt(TierDiscovery)
		g.logger.Error("cached discovery payload is corrupt", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		g.cache.Invalidate(ctx, TierDiscovery, key)
	}

	payload, err := g.fetch(ctx, TierDiscovery, key, OpFinder, filterParams(filters))
	if err != nil {
		g.metrics.IncFailure(OpFinder, string(CodeOf(err)))
		return nil, err
	}
	identifiers, err := decodeIdentifiers(payload)
	if err != nil {
		g.metrics.IncFailure(OpFinder, string(CodeUpstreamError))
		return nil, &UpstreamError{Operation: OpFinder, Err: err}
	}
	return &DiscoverResult{Identifiers: identifiers, Key: key}, nil
}

// Score fetches scoring metrics for a single product identifier,
// serving from the scoring cache tier when possible.
func (g *Governor) Score(ctx context.Context, identifier string) (*ScoreResult, error) {
	if g == nil {
		return nil, errors.New("governor is nil")
	}
	started := g.now()
	defer func() { g.metrics.ObserveLatency(OpProduct, g.now().Sub(started)) }()

	asin := strings.ToUpper(strings.TrimSpace(identifier))
	if !validASIN(asin) {
		err := Wrap(CodeInvalidInput, fmt.Sprintf("invalid product identifier %q", identifier), nil)
		g.metrics.IncFailure(OpProduct, string(CodeOf(err)))
		return nil, err
	}

	if payload, ok := g.cache.Get(ctx, TierScoring, asin); ok {
		if json.Valid(payload) {
			return &ScoreResult{ASIN: asin, Metrics: json.RawMessage(payload), Cached: true}, nil
		}
		g.metrics.IncCacheCorrupt(TierScoring)
		g.logger.Error("cached scoring payload is corrupt", map[string]any{
			"asin": asin,
		})
		g.cache.Invalidate(ctx, TierScoring, asin)
	}

	payload, err := g.fetch(ctx, TierScoring, asin, OpProduct, map[string]string{"asin": asin})
	if err != nil {
		g.metrics.IncFailure(OpProduct, string(CodeOf(err)))
		return nil, err
	}
	if !json.Valid(payload) {
		g.metrics.IncFailure(OpProduct, string(CodeUpstreamError))
		return nil, &UpstreamError{Operation: OpProduct, Err: errors.New("upstream returned malformed metrics payload")}
	}
	return &ScoreResult{ASIN: asin, Metrics: json.RawMessage(payload)}, nil
}

// Health reports the current budget, breaker and bucket state without
// probing upstream or mutating any component.
func (g *Governor) Health() *HealthReport {
	if g == nil {
		return nil
	}
	return &HealthReport{
		Budget:  g.budget.Snapshot(),
		Breaker: g.breaker.Status(),
		Bucket:  g.bucket.Status(),
	}
}

// fetch runs the admission pipeline and upstream call for one cache
// miss, optionally collapsing concurrent misses for the same key.
func (g *Governor) fetch(ctx context.Context, tier, key, operation string, params map[string]string) ([]byte, error) {
	if !g.useSingleFlight {
		return g.fetchOnce(ctx, tier, key, operation, params)
	}
	flightKey := tier + keySeparator + key
	result, err, shared := g.flight.Do(flightKey, func() (any, error) {
		return g.fetchOnce(ctx, tier, key, operation, params)
	})
	if err != nil {
		return nil, err
	}
	payload := result.([]byte)
	if shared {
		payload = append([]byte(nil), payload...)
	}
	return payload, nil
}

// fetchOnce performs up to retries+1 admission-and-call attempts.
// Only upstream failures are retried; admission failures surface
// immediately.
func (g *Governor) fetchOnce(ctx context.Context, tier, key, operation string, params map[string]string) ([]byte, error) {
	cost := g.costs.Cost(operation)
	attempts := g.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		payload, err := g.attempt(ctx, operation, cost, params)
		if err == nil {
			g.cache.Set(ctx, tier, key, payload)
			g.budget.Debit(cost)
			g.metrics.AddCreditsSpent(operation, cost)
			return payload, nil
		}
		lastErr = err
		var upstreamErr *UpstreamError
		if !errors.As(err, &upstreamErr) {
			return nil, err
		}
		if attempt < attempts {
			g.logger.Warn("upstream call failed, retrying", map[string]any{
				"operation": operation,
				"attempt":   attempt,
				"error":     err.Error(),
			})
		}
	}
	return nil, lastErr
}

// attempt runs one pass of the admission pipeline. Ordering is fixed:
// budget check, breaker check, then the token bucket, so only the
// bucket ever blocks and known-doomed requests never wait.
func (g *Governor) attempt(ctx context.Context, operation string, cost int64, params map[string]string) ([]byte, error) {
	if err := g.budget.EnsureSufficient(ctx, cost); err != nil {
		return nil, err
	}
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	if err := g.bucket.Acquire(ctx, cost); err != nil {
		// A rejected acquire abandons the call before the upstream is
		// reached; a held half-open probe slot must not leak with it.
		g.breaker.CancelProbe()
		return nil, err
	}
	payload, err := g.upstream.Call(ctx, operation, params)
	if err != nil {
		g.breaker.RecordFailure()
		g.metrics.IncUpstreamCall(operation, "error")
		var upstreamErr *UpstreamError
		if !errors.As(err, &upstreamErr) {
			err = &UpstreamError{Operation: operation, Err: err}
		}
		return nil, err
	}
	g.breaker.RecordSuccess()
	g.metrics.IncUpstreamCall(operation, "ok")
	return payload, nil
}

// decodeIdentifiers extracts the identifier list from a discovery
// payload.
func decodeIdentifiers(payload []byte) ([]string, error) {
	var body struct {
		ASINList []string `json:"asinList"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode discovery payload: %w", err)
	}
	if body.ASINList == nil {
		return nil, errors.New("discovery payload missing asinList")
	}
	return body.ASINList, nil
}

// filterParams flattens a filter set into upstream query parameters.
func filterParams(filters FilterSet) map[string]string {
	params := make(map[string]string, len(filters))
	for key, value := range filters {
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params
}

// validASIN reports whether s looks like a canonical product
// identifier: ten characters drawn from digits and upper-case letters.
func validASIN(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
