// Package governor provides the two-tier response cache.
package governor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cache tier names.
const (
	TierDiscovery = "discovery"
	TierScoring   = "scoring"
)

// CacheOptions configures the two-tier cache.
type CacheOptions struct {
	Store        Store
	DiscoveryTTL time.Duration
	ScoringTTL   time.Duration
	Logger       Logger
	Metrics      Metrics
}

// TwoTierCache fronts the payload store with per-tier TTL policy.
// Discovery entries are keyed by canonicalized filter hashes and live
// long; scoring entries are keyed by raw item identifiers and live
// short. Store failures degrade to misses and never fail a request.
type TwoTierCache struct {
	store        Store
	discoveryTTL time.Duration
	scoringTTL   time.Duration
	logger       Logger
	metrics      Metrics
}

// NewTwoTierCache constructs the cache.
func NewTwoTierCache(opts CacheOptions) (*TwoTierCache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.DiscoveryTTL <= 0 {
		return nil, fmt.Errorf("discovery ttl must be positive, got %v", opts.DiscoveryTTL)
	}
	if opts.ScoringTTL <= 0 {
		return nil, fmt.Errorf("scoring ttl must be positive, got %v", opts.ScoringTTL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewInMemoryMetrics()
	}
	return &TwoTierCache{
		store:        opts.Store,
		discoveryTTL: opts.DiscoveryTTL,
		scoringTTL:   opts.ScoringTTL,
		logger:       logger,
		metrics:      metrics,
	}, nil
}

// Get returns the cached payload for the tier key. Corrupt entries and
// store errors are logged and reported as misses.
func (c *TwoTierCache) Get(ctx context.Context, tier, key string) ([]byte, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	entry, ok, err := c.store.Get(ctx, tier, key)
	if err != nil {
		var corrupt *CacheCorruptError
		if errors.As(err, &corrupt) {
			c.metrics.IncCacheCorrupt(tier)
			c.logger.Error("corrupt cache entry dropped", map[string]any{
				"tier":  tier,
				"key":   key,
				"error": err.Error(),
			})
		} else {
			c.logger.Error("cache read failed", map[string]any{
				"tier":  tier,
				"key":   key,
				"error": err.Error(),
			})
		}
		c.metrics.IncCacheMiss(tier)
		return nil, false
	}
	if !ok {
		c.metrics.IncCacheMiss(tier)
		return nil, false
	}
	c.metrics.IncCacheHit(tier)
	if err := c.store.IncrementHit(ctx, tier, key); err != nil {
		c.logger.Info("cache hit count update failed", map[string]any{
			"tier":  tier,
			"key":   key,
			"error": err.Error(),
		})
	}
	return entry.Payload, true
}

// Set stores the payload under the tier key with the tier TTL,
// unconditionally overwriting any previous entry. Failures are logged
// and swallowed.
func (c *TwoTierCache) Set(ctx context.Context, tier, key string, payload []byte) {
	if c == nil || c.store == nil {
		return
	}
	ttl := c.TTLFor(tier)
	if ttl <= 0 {
		c.logger.Error("cache write for unknown tier dropped", map[string]any{"tier": tier, "key": key})
		return
	}
	if err := c.store.Set(ctx, tier, key, payload, ttl); err != nil {
		c.logger.Error("cache write failed", map[string]any{
			"tier":  tier,
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Invalidate drops the tier key. Used when a cached payload fails
// validation downstream of the store.
func (c *TwoTierCache) Invalidate(ctx context.Context, tier, key string) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, tier, key); err != nil {
		c.logger.Error("cache invalidation failed", map[string]any{
			"tier":  tier,
			"key":   key,
			"error": err.Error(),
		})
	}
}

// PurgeExpired removes expired entries from both tiers and returns the
// total removed.
func (c *TwoTierCache) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	if c == nil || c.store == nil {
		return 0, errors.New("cache is not configured")
	}
	total := 0
	for _, tier := range []string{TierDiscovery, TierScoring} {
		removed, err := c.store.PurgeExpired(ctx, tier, before)
		total += removed
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TTLFor returns the tier TTL, or zero for unknown tiers.
func (c *TwoTierCache) TTLFor(tier string) time.Duration {
	if c == nil {
		return 0
	}
	switch tier {
	case TierDiscovery:
		return c.discoveryTTL
	case TierScoring:
		return c.scoringTTL
	default:
		return 0
	}
}
