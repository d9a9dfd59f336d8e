// Package governor provides HTTP handlers.
package governor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const defaultMaxBodyBytes = 1 << 20

type contextKey int

const requestIDKey contextKey = 0

func (t *HTTPTransport) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/discover", t.withRequest(t.handleDiscover))
	mux.HandleFunc("/v1/score", t.withRequest(t.handleScore))
	mux.HandleFunc("/v1/health", t.withRequest(t.handleGovernorHealth))
	mux.HandleFunc("/v1/admin/purge", t.withRequest(t.handlePurge))
	mux.HandleFunc("/healthz", t.handleHealth)
	mux.HandleFunc("/readyz", t.handleReady)
	mux.HandleFunc("/metrics", t.handleMetrics)
}

// withRequest assigns a request ID and applies the per-request
// timeout before dispatching to the handler.
func (t *HTTPTransport) withRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		if t.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.requestTimeout)
			defer cancel()
		}
		next(w, r.WithContext(ctx))
	}
}

func (t *HTTPTransport) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var httpReq httpDiscoverRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(httpReq.Filters) == 0 {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	result, err := t.governor.Discover(r.Context(), FilterSet(httpReq.Filters))
	if err != nil {
		t.writeGovernorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromDiscoverResult(result))
}

func (t *HTTPTransport) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var httpReq httpScoreRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.ASIN == "" {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	result, err := t.governor.Score(r.Context(), httpReq.ASIN)
	if err != nil {
		t.writeGovernorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromScoreResult(result))
}

func (t *HTTPTransport) handleGovernorHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, fromHealthReport(t.governor.Health()))
}

func (t *HTTPTransport) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !t.authorizeAdmin(w, r) {
		return
	}
	if t.purger == nil {
		t.writeError(w, r, http.StatusInternalServerError, errors.New("cache purger is not configured"))
		return
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	removed, err := t.purger.PurgeExpired(r.Context(), now())
	if err != nil {
		t.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, httpPurgeResponse{Removed: removed})
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.appReady != nil && t.appReady() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (t *HTTPTransport) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.metricsHandler != nil {
		t.metricsHandler.ServeHTTP(w, r)
		return
	}
	if t.snapshot == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, t.snapshot())
}

func (t *HTTPTransport) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return ErrInvalidInput
	}
	maxBytes := t.maxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return ErrInvalidInput
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return ErrInvalidInput
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *HTTPTransport) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if t != nil {
		t.logRequestError(r, status, err)
	}
	writeJSON(w, status, httpErrorResponse{Error: err.Error(), Code: string(CodeOf(err))})
}

// writeGovernorError maps pipeline errors onto HTTP statuses and
// attaches the structured detail fields callers schedule retries on.
func (t *HTTPTransport) writeGovernorError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		t.writeError(w, r, http.StatusGatewayTimeout, err)
		return
	}
	resp := httpErrorResponse{Error: err.Error(), Code: string(CodeOf(err))}
	status := statusForCode(CodeOf(err))

	var budgetErr *BudgetError
	if errors.As(err, &budgetErr) {
		current, required, deficit := budgetErr.Current, budgetErr.Required, budgetErr.Deficit
		resp.CurrentCredits = &current
		resp.RequiredCredits = &required
		resp.DeficitCredits = &deficit
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		setRetryAfter(w, &resp, rateErr.Wait)
	}
	var circuitErr *CircuitError
	if errors.As(err, &circuitErr) && circuitErr.RetryAfter > 0 {
		setRetryAfter(w, &resp, circuitErr.RetryAfter)
	}

	if t != nil {
		t.logRequestError(r, status, err)
	}
	writeJSON(w, status, resp)
}

func setRetryAfter(w http.ResponseWriter, resp *httpErrorResponse, wait time.Duration) {
	if wait <= 0 {
		return
	}
	millis := wait.Milliseconds()
	resp.RetryAfterMillis = &millis
	seconds := int64(wait / time.Second)
	if wait%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
}

func statusForCode(code ErrorCode) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeInsufficientBudget, CodeRateLimitTimeout:
		return http.StatusTooManyRequests
	case CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeUpstreamError:
		return http.StatusBadGateway
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (t *HTTPTransport) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if t == nil || !t.enableAuth {
		return true
	}
	expected := "Bearer " + t.adminToken
	if r.Header.Get("Authorization") != expected {
		t.writeError(w, r, http.StatusUnauthorized, Wrap(CodeUnauthorized, "unauthorized", nil))
		return false
	}
	return true
}

func (t *HTTPTransport) logRequestError(r *http.Request, status int, err error) {
	if t == nil || t.logger == nil || r == nil || err == nil {
		return
	}
	fields := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	}
	if requestID, ok := r.Context().Value(requestIDKey).(string); ok && requestID != "" {
		fields["requestID"] = requestID
	}
	if status >= http.StatusInternalServerError {
		t.logger.Error("http request error", fields)
		return
	}
	t.logger.Info("http request error", fields)
}
