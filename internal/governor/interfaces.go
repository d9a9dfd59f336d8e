// Package governor defines service interfaces.
package governor

import (
	"context"
	"time"
)

// GovernorService exposes governed access to the metered upstream.
type GovernorService interface {
	Discover(ctx context.Context, filters FilterSet) (*DiscoverResult, error)
	Score(ctx context.Context, asin string) (*ScoreResult, error)
	Health() *HealthReport
}

// CachePurger removes expired cache entries on demand. TwoTierCache
// satisfies it.
type CachePurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

// Transport exposes the governor over a transport layer.
type Transport interface {
	ServeGovernor(service GovernorService) error
	Shutdown(ctx context.Context) error
}
