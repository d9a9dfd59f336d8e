package governor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPUpstream_CallRoutesOperations(t *testing.T) {
	t.Parallel()

	type seenRequest struct {
		path  string
		query map[string][]string
	}
	seen := make(chan seenRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- seenRequest{path: r.URL.Path, query: r.URL.Query()}
		w.Write([]byte(`{"asinList":["B00EXAMPLE"]}`))
	}))
	defer server.Close()

	upstream := newTestUpstream(t, server.URL, "secret")
	payload, err := upstream.Call(context.Background(), OpFinder, map[string]string{"category": "books"})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if string(payload) != `{"asinList":["B00EXAMPLE"]}` {
		t.Fatalf("unexpected payload: %q", payload)
	}
	request := <-seen
	if request.path != "/query" {
		t.Fatalf("unexpected path: %q", request.path)
	}
	if got := request.query["category"]; len(got) != 1 || got[0] != "books" {
		t.Fatalf("missing filter param: %v", request.query)
	}
	if got := request.query["key"]; len(got) != 1 || got[0] != "secret" {
		t.Fatalf("missing api key param: %v", request.query)
	}
}

func TestHTTPUpstream_OperationPaths(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	upstream := newTestUpstream(t, server.URL, "")
	cases := []struct {
		operation string
		path      string
	}{
		{OpProduct, "/product"},
		{OpFinder, "/query"},
		{OpToken, "/token"},
	}
	for _, tc := range cases {
		if _, err := upstream.Call(context.Background(), tc.operation, nil); err != nil {
			t.Fatalf("call %s failed: %v", tc.operation, err)
		}
		if got := <-paths; got != tc.path {
			t.Fatalf("operation %s hit %q, want %q", tc.operation, got, tc.path)
		}
	}
}

func TestHTTPUpstream_NonOKStatusBecomesUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer server.Close()

	logs := &captureLogger{}
	upstream := newTestUpstreamWithLogger(t, server.URL, logs)
	_, err := upstream.Call(context.Background(), OpProduct, map[string]string{"asin": "B00EXAMPLE"})

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upstreamErr.Operation != OpProduct || upstreamErr.Status != http.StatusPaymentRequired {
		t.Fatalf("unexpected error detail: %#v", upstreamErr)
	}
	if got := logs.count("upstream returned non-ok status"); got != 1 {
		t.Fatalf("expected status log, got %d", got)
	}
}

func TestHTTPUpstream_TransportFailureBecomesUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	upstream := newTestUpstream(t, server.URL, "")
	_, err := upstream.Call(context.Background(), OpProduct, nil)
	if CodeOf(err) != CodeUpstreamError {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestHTTPUpstream_UnknownOperationRejected(t *testing.T) {
	t.Parallel()

	upstream := newTestUpstream(t, "http://localhost:0", "")
	_, err := upstream.Call(context.Background(), "bulk_export", nil)
	if CodeOf(err) != CodeInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestHTTPUpstream_BalanceParsesTokensLeft(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		w.Write([]byte(`{"tokensLeft":274,"refillIn":42000}`))
	}))
	defer server.Close()

	upstream := newTestUpstream(t, server.URL, "")
	balance, err := upstream.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 274 {
		t.Fatalf("unexpected balance: %d", balance)
	}
}

func TestHTTPUpstream_BalanceRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	upstream := newTestUpstream(t, server.URL, "")
	_, err := upstream.Balance(context.Background())
	if CodeOf(err) != CodeUpstreamError {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestNewHTTPUpstream_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPUpstream(UpstreamOptions{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func newTestUpstream(t *testing.T, baseURL, apiKey string) *HTTPUpstream {
	t.Helper()
	upstream, err := NewHTTPUpstream(UpstreamOptions{BaseURL: baseURL, APIKey: apiKey})
	if err != nil {
		t.Fatalf("failed to create upstream: %v", err)
	}
	return upstream
}

func newTestUpstreamWithLogger(t *testing.T, baseURL string, logger Logger) *HTTPUpstream {
	t.Helper()
	upstream, err := NewHTTPUpstream(UpstreamOptions{BaseURL: baseURL, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create upstream: %v", err)
	}
	return upstream
}
