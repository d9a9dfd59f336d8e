// Package governor provides Prometheus-backed metrics.
package governor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics records governor signals on a Prometheus registry.
type PromMetrics struct {
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheCorrupt       *prometheus.CounterVec
	upstreamCalls      *prometheus.CounterVec
	failures           *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	creditsSpent       *prometheus.CounterVec
	acquireWait        prometheus.Histogram
	latency            *prometheus.HistogramVec
	bucketFill         prometheus.Gauge
	budgetRemaining    prometheus.Gauge
}

// NewPromMetrics constructs a Prometheus metrics recorder registered on reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PromMetrics{
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_cache_hits_total",
			Help: "Cache hits per tier.",
		}, []string{"tier"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_cache_misses_total",
			Help: "Cache misses per tier.",
		}, []string{"tier"}),
		cacheCorrupt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_cache_corrupt_total",
			Help: "Corrupt cache entries detected per tier.",
		}, []string{"tier"}),
		upstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_upstream_calls_total",
			Help: "Upstream API calls by operation and result.",
		}, []string{"operation", "result"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_failures_total",
			Help: "Failed governed requests by operation and error code.",
		}, []string{"operation", "code"}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"state"}),
		creditsSpent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_credits_spent_total",
			Help: "Upstream credits spent per operation.",
		}, []string{"operation"}),
		acquireWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "governor_acquire_wait_seconds",
			Help:    "Token bucket acquire wait durations.",
			Buckets: prometheus.DefBuckets,
		}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_request_seconds",
			Help:    "Governed request latency per operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		bucketFill: factory.NewGauge(prometheus.GaugeOpts{
			Name: "governor_bucket_fill_ratio",
			Help: "Token bucket fill level as a fraction of capacity.",
		}),
		budgetRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "governor_budget_remaining_credits",
			Help: "Most recently observed upstream credit balance.",
		}),
	}
}

// IncCacheHit increments a cache hit counter.
func (m *PromMetrics) IncCacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

// IncCacheMiss increments a cache miss counter.
func (m *PromMetrics) IncCacheMiss(tier string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(tier).Inc()
}

// IncCacheCorrupt increments a corrupt cache entry counter.
func (m *PromMetrics) IncCacheCorrupt(tier string) {
	if m == nil {
		return
	}
	m.cacheCorrupt.WithLabelValues(tier).Inc()
}

// IncUpstreamCall increments an upstream call counter.
func (m *PromMetrics) IncUpstreamCall(operation string, result string) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(operation, result).Inc()
}

// IncFailure increments a failed request counter by error code.
func (m *PromMetrics) IncFailure(operation string, code string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation, code).Inc()
}

// IncBreakerTransition increments a breaker state transition counter.
func (m *PromMetrics) IncBreakerTransition(state string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(state).Inc()
}

// AddCreditsSpent accumulates spent upstream credits.
func (m *PromMetrics) AddCreditsSpent(operation string, credits int64) {
	if m == nil {
		return
	}
	m.creditsSpent.WithLabelValues(operation).Add(float64(credits))
}

// ObserveAcquireWait tracks token bucket wait durations.
func (m *PromMetrics) ObserveAcquireWait(d time.Duration) {
	if m == nil {
		return
	}
	m.acquireWait.Observe(d.Seconds())
}

// ObserveLatency tracks operation latency measurements.
func (m *PromMetrics) ObserveLatency(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// SetBucketFill records the bucket fill fraction.
func (m *PromMetrics) SetBucketFill(fill float64) {
	if m == nil {
		return
	}
	m.bucketFill.Set(fill)
}

// SetBudgetRemaining records the tracked credit balance.
func (m *PromMetrics) SetBudgetRemaining(credits int64) {
	if m == nil {
		return
	}
	m.budgetRemaining.Set(float64(credits))
}
