// Package governor provides CLI helpers.
package governor

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"
)

// PrintConfig writes the config to the writer as JSON. Secrets are
// redacted.
func PrintConfig(w io.Writer, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if w == nil {
		return errors.New("writer is required")
	}
	snapshot := newConfigSnapshot(cfg)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}

type durationMillis time.Duration

func (d durationMillis) MarshalJSON() ([]byte, error) {
	ms := time.Duration(d).Milliseconds()
	return []byte(strconv.FormatInt(ms, 10)), nil
}

type configSnapshot struct {
	BucketCapacity          int64
	RefillPerMinute         float64
	AcquireMaxWait          durationMillis
	BucketWarningFraction   float64
	BucketCriticalFraction  float64
	SnapshotValidity        durationMillis
	BudgetWarningThreshold  int64
	BudgetCriticalThreshold int64
	OptimisticOnProbeError  bool
	BreakerFailureThreshold int64
	BreakerCooldown         durationMillis
	DiscoveryTTL            durationMillis
	ScoringTTL              durationMillis
	PurgeInterval           durationMillis
	MemoryCacheMaxEntries   int
	OperationCosts          map[string]int64
	DefaultOperationCost    int64
	UpstreamBaseURL         string
	UpstreamAPIKey          string
	UpstreamTimeout         durationMillis
	UpstreamRetries         int
	SingleFlightEnabled     bool
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	EnableHTTP              bool
	HTTPListenAddr          string
	HTTPReadTimeout         durationMillis
	HTTPWriteTimeout        durationMillis
	HTTPIdleTimeout         durationMillis
	RequestTimeout          durationMillis
	MaxBodyBytes            int64
	EnableAuth              bool
	AdminToken              string
	EnablePromMetrics       bool
}

func newConfigSnapshot(cfg *Config) configSnapshot {
	snapshot := configSnapshot{}
	if cfg == nil {
		return snapshot
	}
	snapshot.BucketCapacity = cfg.BucketCapacity
	snapshot.RefillPerMinute = cfg.RefillPerMinute
	snapshot.AcquireMaxWait = durationMillis(cfg.AcquireMaxWait)
	snapshot.BucketWarningFraction = cfg.BucketWarningFraction
	snapshot.BucketCriticalFraction = cfg.BucketCriticalFraction
	snapshot.SnapshotValidity = durationMillis(cfg.SnapshotValidity)
	snapshot.BudgetWarningThreshold = cfg.BudgetWarningThreshold
	snapshot.BudgetCriticalThreshold = cfg.BudgetCriticalThreshold
	snapshot.OptimisticOnProbeError = cfg.OptimisticOnProbeError
	snapshot.BreakerFailureThreshold = cfg.BreakerFailureThreshold
	snapshot.BreakerCooldown = durationMillis(cfg.BreakerCooldown)
	snapshot.DiscoveryTTL = durationMillis(cfg.DiscoveryTTL)
	snapshot.ScoringTTL = durationMillis(cfg.ScoringTTL)
	snapshot.PurgeInterval = durationMillis(cfg.PurgeInterval)
	snapshot.MemoryCacheMaxEntries = cfg.MemoryCacheMaxEntries
	snapshot.OperationCosts = cfg.OperationCosts
	snapshot.DefaultOperationCost = cfg.DefaultOperationCost
	snapshot.UpstreamBaseURL = cfg.UpstreamBaseURL
	snapshot.UpstreamAPIKey = redactSecret(cfg.UpstreamAPIKey)
	snapshot.UpstreamTimeout = durationMillis(cfg.UpstreamTimeout)
	snapshot.UpstreamRetries = cfg.UpstreamRetries
	snapshot.SingleFlightEnabled = cfg.SingleFlightEnabled
	snapshot.RedisAddr = cfg.RedisAddr
	snapshot.RedisPassword = redactSecret(cfg.RedisPassword)
	snapshot.RedisDB = cfg.RedisDB
	snapshot.EnableHTTP = cfg.EnableHTTP
	snapshot.HTTPListenAddr = cfg.HTTPListenAddr
	snapshot.HTTPReadTimeout = durationMillis(cfg.HTTPReadTimeout)
	snapshot.HTTPWriteTimeout = durationMillis(cfg.HTTPWriteTimeout)
	snapshot.HTTPIdleTimeout = durationMillis(cfg.HTTPIdleTimeout)
	snapshot.RequestTimeout = durationMillis(cfg.RequestTimeout)
	snapshot.MaxBodyBytes = cfg.MaxBodyBytes
	snapshot.EnableAuth = cfg.EnableAuth
	snapshot.AdminToken = redactSecret(cfg.AdminToken)
	snapshot.EnablePromMetrics = cfg.EnablePromMetrics
	return snapshot
}

func redactSecret(value string) string {
	if value == "" {
		return ""
	}
	return "<redacted>"
}
