package governor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_DiscoverRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})

	status, headers, body := env.postJSON(t, "/v1/discover", `{"filters":{"category":"books"}}`, nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%v", status, body)
	}
	if headers.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type: %q", headers.Get("Content-Type"))
	}
	identifiers, ok := body["identifiers"].([]any)
	if !ok || len(identifiers) != 2 {
		t.Fatalf("unexpected identifiers: %v", body["identifiers"])
	}
	if body["cached"] != false || body["cacheKey"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}

	status, _, body = env.postJSON(t, "/v1/discover", `{"filters":{"category":"books"}}`, nil)
	if status != http.StatusOK || body["cached"] != true {
		t.Fatalf("expected cached response, got %d %v", status, body)
	}
}

func TestHandler_DiscoverValidation(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})

	resp, err := http.Get(env.server.URL + "/v1/discover")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"filters":`},
		{"unknown_field", `{"filters":{"a":"b"},"page":2}`},
		{"empty_filters", `{"filters":{}}`},
		{"trailing_data", `{"filters":{"a":"b"}}{"x":1}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, _, body := env.postJSON(t, "/v1/discover", tc.body, nil)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %v", status, body)
			}
			if body["code"] != string(CodeInvalidInput) {
				t.Fatalf("unexpected code: %v", body["code"])
			}
		})
	}
}

func TestHandler_ScoreRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})

	status, _, body := env.postJSON(t, "/v1/score", `{"asin":"b07pgl2zsl"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%v", status, body)
	}
	if body["asin"] != "B07PGL2ZSL" {
		t.Fatalf("expected normalized identifier, got %v", body["asin"])
	}
	metrics, ok := body["metrics"].(map[string]any)
	if !ok || metrics["salesRank"] != float64(1234) {
		t.Fatalf("unexpected metrics payload: %v", body["metrics"])
	}
}

func TestHandler_BudgetExhaustedReturns429(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true, env: governorEnvConfig{balance: 5}})

	status, headers, body := env.postJSON(t, "/v1/discover", `{"filters":{"category":"books"}}`, nil)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %v", status, body)
	}
	if body["code"] != string(CodeInsufficientBudget) {
		t.Fatalf("unexpected code: %v", body["code"])
	}
	if body["currentCredits"] != float64(5) || body["requiredCredits"] != float64(50) || body["deficitCredits"] != float64(45) {
		t.Fatalf("unexpected credit detail: %v", body)
	}
	if headers.Get("Retry-After") != "" {
		t.Fatalf("budget rejections carry no retry hint, got %q", headers.Get("Retry-After"))
	}
}

func TestHandler_RateLimitedReturns429WithRetryAfter(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true, env: governorEnvConfig{capacity: 40}})

	status, headers, body := env.postJSON(t, "/v1/discover", `{"filters":{"category":"books"}}`, nil)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %v", status, body)
	}
	if body["code"] != string(CodeRateLimitTimeout) {
		t.Fatalf("unexpected code: %v", body["code"])
	}
	if body["retryAfterMillis"] != float64(10000) {
		t.Fatalf("unexpected retry hint: %v", body["retryAfterMillis"])
	}
	if headers.Get("Retry-After") != "10" {
		t.Fatalf("unexpected Retry-After header: %q", headers.Get("Retry-After"))
	}
}

func TestHandler_CircuitOpenReturns503(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})
	for i := 0; i < 5; i++ {
		env.breaker.RecordFailure()
	}

	status, headers, body := env.postJSON(t, "/v1/score", `{"asin":"B00EXAMPLE"}`, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %v", status, body)
	}
	if body["code"] != string(CodeCircuitOpen) {
		t.Fatalf("unexpected code: %v", body["code"])
	}
	if headers.Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After header: %q", headers.Get("Retry-After"))
	}
	if body["retryAfterMillis"] != float64(60000) {
		t.Fatalf("unexpected retry hint: %v", body["retryAfterMillis"])
	}
}

func TestHandler_UpstreamFailureReturns502(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true, env: governorEnvConfig{failures: 5}})

	status, _, body := env.postJSON(t, "/v1/score", `{"asin":"B00EXAMPLE"}`, nil)
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %v", status, body)
	}
	if body["code"] != string(CodeUpstreamError) {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestHandler_RequestTimeoutReturns504(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{
		ready:          true,
		requestTimeout: 50 * time.Millisecond,
		env:            governorEnvConfig{upstreamDelay: 300 * time.Millisecond},
	})

	status, _, body := env.postJSON(t, "/v1/score", `{"asin":"B00EXAMPLE"}`, nil)
	if status != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d %v", status, body)
	}
}

func TestHandler_GovernorHealth(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})

	resp, err := http.Get(env.server.URL + "/v1/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body struct {
		Budget  httpBudgetStatus  `json:"budget"`
		Breaker httpBreakerStatus `json:"breaker"`
		Bucket  httpBucketStatus  `json:"bucket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !body.Budget.Stale {
		t.Fatalf("expected stale budget before first probe: %#v", body.Budget)
	}
	if body.Breaker.State != "closed" {
		t.Fatalf("unexpected breaker state: %q", body.Breaker.State)
	}
	if body.Bucket.Fill != 1 || body.Bucket.Capacity != 200 {
		t.Fatalf("unexpected bucket status: %#v", body.Bucket)
	}
}

func TestHandler_PurgeRequiresAuth(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true, enableAuth: true, adminToken: "s3cret"})

	status, _, body := env.postJSON(t, "/v1/admin/purge", "", nil)
	if status != http.StatusUnauthorized || body["code"] != string(CodeUnauthorized) {
		t.Fatalf("expected 401, got %d %v", status, body)
	}

	status, _, _ = env.postJSON(t, "/v1/admin/purge", "", map[string]string{"Authorization": "Bearer wrong"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", status)
	}

	status, _, body = env.postJSON(t, "/v1/admin/purge", "", map[string]string{"Authorization": "Bearer s3cret"})
	if status != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d %v", status, body)
	}
	if body["removed"] != float64(0) {
		t.Fatalf("unexpected purge count: %v", body["removed"])
	}
}

func TestHandler_PurgeRemovesExpiredEntries(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})
	ctx := context.Background()

	env.cache.Set(ctx, TierDiscovery, "d1", []byte("ids"))
	env.cache.Set(ctx, TierScoring, "s1", []byte("{}"))
	env.clock.Advance(16 * time.Minute)

	status, _, body := env.postJSON(t, "/v1/admin/purge", "", nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d %v", status, body)
	}
	if body["removed"] != float64(1) {
		t.Fatalf("expected the scoring entry purged, got %v", body["removed"])
	}
}

func TestHandler_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})

	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHandler_ReadyzTracksReadiness(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: false})

	resp, err := http.Get(env.server.URL + "/readyz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", resp.StatusCode)
	}

	ready := newTestHandler(t, handlerConfig{ready: true})
	resp, err = http.Get(ready.server.URL + "/readyz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", resp.StatusCode)
	}
}

func TestHandler_MetricsSnapshot(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})

	if status, _, body := env.postJSON(t, "/v1/discover", `{"filters":{"category":"books"}}`, nil); status != http.StatusOK {
		t.Fatalf("warmup request failed: %d %v", status, body)
	}

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	counters, ok := body["counters"].(map[string]any)
	if !ok {
		t.Fatalf("expected counters in snapshot: %v", body)
	}
	if counters["upstream_call|finder|ok"] != float64(1) {
		t.Fatalf("unexpected upstream counter: %v", counters)
	}
}

func TestHandler_RequestIDPropagation(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, handlerConfig{ready: true})

	_, headers, _ := env.postJSON(t, "/v1/discover", `{"filters":{"category":"books"}}`, map[string]string{"X-Request-ID": "req-42"})
	if got := headers.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	_, headers, _ = env.postJSON(t, "/v1/score", `{"asin":"B00EXAMPLE"}`, nil)
	if got := headers.Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("expected generated request id, got %q", got)
	}
}

func TestHTTPTransport_RequiresRegisteredService(t *testing.T) {
	t.Parallel()

	transport := NewHTTPTransport(":0", nil)
	if _, err := transport.Handler(); err == nil {
		t.Fatalf("expected error before service registration")
	}
}

// handlerConfig assembles an HTTP test server over a full pipeline.
type handlerConfig struct {
	env            governorEnvConfig
	ready          bool
	enableAuth     bool
	adminToken     string
	requestTimeout time.Duration
}

type handlerEnv struct {
	*governorEnv
	transport *HTTPTransport
	server    *httptest.Server
}

func newTestHandler(t *testing.T, cfg handlerConfig) *handlerEnv {
	t.Helper()
	env := newGovernorEnv(t, cfg.env)
	transport := NewHTTPTransport(":0", func() bool { return cfg.ready })
	if err := transport.ServeGovernor(env.governor); err != nil {
		t.Fatalf("failed to register governor: %v", err)
	}
	if err := transport.ServePurger(env.cache); err != nil {
		t.Fatalf("failed to register purger: %v", err)
	}
	transport.Configure(HTTPTransportConfig{
		RequestTimeout: cfg.requestTimeout,
		EnableAuth:     cfg.enableAuth,
		AdminToken:     cfg.adminToken,
		Logger:         env.logs,
		Snapshot:       env.metrics.Snapshot,
		Now:            env.clock.Now,
	})
	handler, err := transport.Handler()
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &handlerEnv{
		governorEnv: env,
		transport:   transport,
		server:      server,
	}
}

// postJSON issues a POST and decodes the JSON response body.
func (e *handlerEnv) postJSON(t *testing.T, path, body string, headers map[string]string) (int, http.Header, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && !strings.Contains(err.Error(), "EOF") {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.StatusCode, resp.Header, decoded
}
