package governor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPTransport_DefaultsAddress(t *testing.T) {
	t.Parallel()

	transport := NewHTTPTransport("", nil)
	if transport.addr != ":8080" {
		t.Fatalf("unexpected default address: %q", transport.addr)
	}
	if transport.appReady() {
		t.Fatalf("default readiness must report not ready")
	}
}

func TestHTTPTransport_RegistrationValidation(t *testing.T) {
	t.Parallel()

	transport := NewHTTPTransport(":0", nil)
	if err := transport.ServeGovernor(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
	if err := transport.ServePurger(nil); err == nil {
		t.Fatalf("expected error for nil purger")
	}
}

func TestHTTPTransport_ShutdownWithoutStart(t *testing.T) {
	t.Parallel()

	transport := NewHTTPTransport(":0", nil)
	if err := transport.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown before start must be a no-op: %v", err)
	}
}

func TestHTTPTransport_EnforcesBodyLimit(t *testing.T) {
	t.Parallel()

	env := newGovernorEnv(t, governorEnvConfig{})
	transport := NewHTTPTransport(":0", func() bool { return true })
	if err := transport.ServeGovernor(env.governor); err != nil {
		t.Fatalf("failed to register governor: %v", err)
	}
	transport.Configure(HTTPTransportConfig{MaxBodyBytes: 16, Logger: env.logs})
	handler, err := transport.Handler()
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	recorder := newRecordedRequest(t, handler, `{"filters":{"category":"books","min_rank":"100"}}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("oversized body must be rejected, got %d", recorder.Code)
	}

	small := newRecordedRequest(t, handler, `{"filters":{}}`)
	if small.Code != http.StatusBadRequest {
		t.Fatalf("empty filters must be rejected, got %d", small.Code)
	}
}

func newRecordedRequest(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/discover", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}
