// Package governor provides configuration for the application wiring.
package governor

import "time"

// Config captures dependency and runtime settings.
type Config struct {
	BucketCapacity          int64
	RefillPerMinute         float64
	AcquireMaxWait          time.Duration
	BucketWarningFraction   float64
	BucketCriticalFraction  float64
	SnapshotValidity        time.Duration
	BudgetWarningThreshold  int64
	BudgetCriticalThreshold int64
	OptimisticOnProbeError  bool
	BreakerFailureThreshold int64
	BreakerCooldown         time.Duration
	DiscoveryTTL            time.Duration
	ScoringTTL              time.Duration
	PurgeInterval           time.Duration
	MemoryCacheMaxEntries   int
	OperationCosts          map[string]int64
	DefaultOperationCost    int64
	UpstreamBaseURL         string
	UpstreamAPIKey          string
	UpstreamTimeout         time.Duration
	UpstreamRetries         int
	SingleFlightEnabled     bool
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	EnableHTTP              bool
	HTTPListenAddr          string
	HTTPReadTimeout         time.Duration
	HTTPWriteTimeout        time.Duration
	HTTPIdleTimeout         time.Duration
	RequestTimeout          time.Duration
	MaxBodyBytes            int64
	EnableAuth              bool
	AdminToken              string
	EnablePromMetrics       bool
	Store                   Store
	Upstream                Upstream
	Prober                  BalanceProber
	Logger                  Logger
	Metrics                 Metrics
	Now                     func() time.Time
}
