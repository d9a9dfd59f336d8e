// Package governor defines core request and result models.
package governor

import "encoding/json"

// FilterSet describes discovery search criteria as key/value pairs.
// Two sets with the same pairs are the same search regardless of order.
type FilterSet map[string]string

// DiscoverResult reports the outcome of a discovery request.
type DiscoverResult struct {
	Identifiers []string
	Cached      bool
	Key         string
}

// ScoreResult reports the outcome of a scoring request.
type ScoreResult struct {
	ASIN    string
	Metrics json.RawMessage
	Cached  bool
}

// HealthReport aggregates component diagnostics.
type HealthReport struct {
	Budget  BudgetSnapshot
	Breaker BreakerStatus
	Bucket  BucketStatus
}
