// Package governor provides periodic cache maintenance.
package governor

import (
	"context"
	"errors"
	"time"
)

// PurgeLoop periodically removes expired cache entries.
type PurgeLoop struct {
	cache    *TwoTierCache
	interval time.Duration
	logger   Logger
	now      func() time.Time
}

// Start begins the purge loop. It runs until the context is canceled.
func (p *PurgeLoop) Start(ctx context.Context) error {
	if p == nil || p.cache == nil {
		return errors.New("purge loop is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	interval := p.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	now := p.now
	if now == nil {
		now = time.Now
	}
	logger := p.logger
	if logger == nil {
		logger = NopLogger{}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := p.cache.PurgeExpired(ctx, now())
			if err != nil {
				logger.Warn("cache purge failed", map[string]any{
					"removed": removed,
					"error":   err.Error(),
				})
				continue
			}
			if removed > 0 {
				logger.Info("purged expired cache entries", map[string]any{
					"removed": removed,
				})
			}
		}
	}
}
