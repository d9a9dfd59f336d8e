// Package governor provides HTTP transport models.
package governor

import "encoding/json"

type httpDiscoverRequest struct {
	Filters map[string]string `json:"filters"`
}

type httpDiscoverResponse struct {
	Identifiers []string `json:"identifiers"`
	Cached      bool     `json:"cached"`
	CacheKey    string   `json:"cacheKey"`
}

type httpScoreRequest struct {
	ASIN string `json:"asin"`
}

type httpScoreResponse struct {
	ASIN    string          `json:"asin"`
	Metrics json.RawMessage `json:"metrics"`
	Cached  bool            `json:"cached"`
}

type httpBudgetStatus struct {
	Balance       int64 `json:"balance"`
	AgeMillis     int64 `json:"ageMillis"`
	Stale         bool  `json:"stale"`
	FetchedAtUnix int64 `json:"fetchedAtUnix"`
}

type httpBreakerStatus struct {
	State            string `json:"state"`
	Failures         int64  `json:"failures"`
	RetryAfterMillis int64  `json:"retryAfterMillis"`
}

type httpBucketStatus struct {
	Tokens   float64 `json:"tokens"`
	Capacity int64   `json:"capacity"`
	Fill     float64 `json:"fill"`
	Level    string  `json:"level"`
}

type httpHealthResponse struct {
	Budget  httpBudgetStatus  `json:"budget"`
	Breaker httpBreakerStatus `json:"breaker"`
	Bucket  httpBucketStatus  `json:"bucket"`
}

type httpPurgeResponse struct {
	Removed int `json:"removed"`
}

type httpErrorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code,omitempty"`
	CurrentCredits   *int64 `json:"currentCredits,omitempty"`
	RequiredCredits  *int64 `json:"requiredCredits,omitempty"`
	DeficitCredits   *int64 `json:"deficitCredits,omitempty"`
	RetryAfterMillis *int64 `json:"retryAfterMillis,omitempty"`
}

func fromDiscoverResult(result *DiscoverResult) httpDiscoverResponse {
	if result == nil {
		return httpDiscoverResponse{}
	}
	identifiers := result.Identifiers
	if identifiers == nil {
		identifiers = []string{}
	}
	return httpDiscoverResponse{
		Identifiers: identifiers,
		Cached:      result.Cached,
		CacheKey:    result.Key,
	}
}

func fromScoreResult(result *ScoreResult) httpScoreResponse {
	if result == nil {
		return httpScoreResponse{}
	}
	return httpScoreResponse{
		ASIN:    result.ASIN,
		Metrics: result.Metrics,
		Cached:  result.Cached,
	}
}

func fromHealthReport(report *HealthReport) httpHealthResponse {
	if report == nil {
		return httpHealthResponse{}
	}
	var fetchedAt int64
	if !report.Budget.FetchedAt.IsZero() {
		fetchedAt = report.Budget.FetchedAt.Unix()
	}
	return httpHealthResponse{
		Budget: httpBudgetStatus{
			Balance:       report.Budget.Balance,
			AgeMillis:     report.Budget.Age.Milliseconds(),
			Stale:         report.Budget.Stale,
			FetchedAtUnix: fetchedAt,
		},
		Breaker: httpBreakerStatus{
			State:            report.Breaker.State,
			Failures:         report.Breaker.Failures,
			RetryAfterMillis: report.Breaker.RetryAfter.Milliseconds(),
		},
		Bucket: httpBucketStatus{
			Tokens:   report.Bucket.Tokens,
			Capacity: report.Bucket.Capacity,
			Fill:     report.Bucket.Fill,
			Level:    string(report.Bucket.Level),
		},
	}
}
