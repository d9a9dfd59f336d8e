// Package governor provides metrics recording.
package governor

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics records governor observability signals.
type Metrics interface {
	IncCacheHit(tier string)
	IncCacheMiss(tier string)
	IncCacheCorrupt(tier string)
	IncUpstreamCall(operation string, result string)
	IncFailure(operation string, code string)
	IncBreakerTransition(state string)
	AddCreditsSpent(operation string, credits int64)
	ObserveAcquireWait(d time.Duration)
	ObserveLatency(operation string, d time.Duration)
	SetBucketFill(fill float64)
	SetBudgetRemaining(credits int64)
}

// InMemoryMetrics stores counters, gauges, and latency summaries.
type InMemoryMetrics struct {
	counters  sync.Map
	gauges    sync.Map
	latencies sync.Map
}

type latencySummary struct {
	count      atomic.Int64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64
}

// NewInMemoryMetrics constructs an in-memory metrics recorder.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

// IncCacheHit increments a cache hit counter.
func (m *InMemoryMetrics) IncCacheHit(tier string) {
	m.addCounter(fmt.Sprintf("cache_hit|%s", tier), 1)
}

// IncCacheMiss increments a cache miss counter.
func (m *InMemoryMetrics) IncCacheMiss(tier string) {
	m.addCounter(fmt.Sprintf("cache_miss|%s", tier), 1)
}

// IncCacheCorrupt increments a corrupt cache entry counter.
func (m *InMemoryMetrics) IncCacheCorrupt(tier string) {
	m.addCounter(fmt.Sprintf("cache_corrupt|%s", tier), 1)
}

// IncUpstreamCall increments an upstream call counter.
func (m *InMemoryMetrics) IncUpstreamCall(operation string, result string) {
	m.addCounter(fmt.Sprintf("upstream_call|%s|%s", operation, result), 1)
}

// IncFailure increments a failed request counter by error code.
func (m *InMemoryMetrics) IncFailure(operation string, code string) {
	m.addCounter(fmt.Sprintf("failure|%s|%s", operation, code), 1)
}

// IncBreakerTransition increments a breaker state transition counter.
func (m *InMemoryMetrics) IncBreakerTransition(state string) {
	m.addCounter(fmt.Sprintf("breaker_transition|%s", state), 1)
}

// AddCreditsSpent accumulates spent upstream credits.
func (m *InMemoryMetrics) AddCreditsSpent(operation string, credits int64) {
	m.addCounter(fmt.Sprintf("credits_spent|%s", operation), credits)
}

// ObserveAcquireWait tracks token bucket wait durations.
func (m *InMemoryMetrics) ObserveAcquireWait(d time.Duration) {
	m.observe("acquire_wait", d)
}

// ObserveLatency tracks operation latency measurements.
func (m *InMemoryMetrics) ObserveLatency(operation string, d time.Duration) {
	m.observe(fmt.Sprintf("latency|%s", operation), d)
}

// SetBucketFill records the bucket fill fraction.
func (m *InMemoryMetrics) SetBucketFill(fill float64) {
	m.setGauge("bucket_fill", fill)
}

// SetBudgetRemaining records the tracked credit balance.
func (m *InMemoryMetrics) SetBudgetRemaining(credits int64) {
	m.setGauge("budget_remaining", float64(credits))
}

// Snapshot exports metrics values.
func (m *InMemoryMetrics) Snapshot() map[string]any {
	result := map[string]any{}
	if m == nil {
		return result
	}

	counters := map[string]int64{}
	m.counters.Range(func(key, value any) bool {
		k, ok := key.(string)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Int64)
		if !ok || counter == nil {
			return true
		}
		counters[k] = counter.Load()
		return true
	})

	gauges := map[string]float64{}
	m.gauges.Range(func(key, value any) bool {
		k, ok := key.(string)
		if !ok {
			return true
		}
		gauge, ok := value.(*atomic.Uint64)
		if !ok || gauge == nil {
			return true
		}
		gauges[k] = math.Float64frombits(gauge.Load())
		return true
	})

	latencies := map[string]map[string]int64{}
	m.latencies.Range(func(key, value any) bool {
		k, ok := key.(string)
		if !ok {
			return true
		}
		entry, ok := value.(*latencySummary)
		if !ok || entry == nil {
			return true
		}
		latencies[k] = map[string]int64{
			"count":      entry.count.Load(),
			"totalNanos": entry.totalNanos.Load(),
			"maxNanos":   entry.maxNanos.Load(),
		}
		return true
	})

	result["counters"] = counters
	result["gauges"] = gauges
	result["latencies"] = latencies
	return result
}

func (m *InMemoryMetrics) addCounter(key string, delta int64) {
	if m == nil {
		return
	}
	counter := m.getCounter(key)
	if counter == nil {
		return
	}
	counter.Add(delta)
}

func (m *InMemoryMetrics) setGauge(key string, value float64) {
	if m == nil || key == "" {
		return
	}
	gauge := &atomic.Uint64{}
	if existing, ok := m.gauges.LoadOrStore(key, gauge); ok {
		stored, valid := existing.(*atomic.Uint64)
		if !valid {
			return
		}
		gauge = stored
	}
	gauge.Store(math.Float64bits(value))
}

func (m *InMemoryMetrics) observe(key string, d time.Duration) {
	if m == nil {
		return
	}
	entry := m.getLatency(key)
	if entry == nil {
		return
	}
	nanos := d.Nanoseconds()
	entry.count.Add(1)
	entry.totalNanos.Add(nanos)
	for {
		current := entry.maxNanos.Load()
		if nanos <= current {
			break
		}
		if entry.maxNanos.CompareAndSwap(current, nanos) {
			break
		}
	}
}

func (m *InMemoryMetrics) getCounter(key string) *atomic.Int64 {
	if key == "" {
		return nil
	}
	if existing, ok := m.counters.Load(key); ok {
		if counter, ok := existing.(*atomic.Int64); ok {
			return counter
		}
	}
	counter := &atomic.Int64{}
	actual, _ := m.counters.LoadOrStore(key, counter)
	if stored, ok := actual.(*atomic.Int64); ok {
		return stored
	}
	return counter
}

func (m *InMemoryMetrics) getLatency(key string) *latencySummary {
	if key == "" {
		return nil
	}
	if existing, ok := m.latencies.Load(key); ok {
		if entry, ok := existing.(*latencySummary); ok {
			return entry
		}
	}
	entry := &latencySummary{}
	actual, _ := m.latencies.LoadOrStore(key, entry)
	if stored, ok := actual.(*latencySummary); ok {
		return stored
	}
	return entry
}
