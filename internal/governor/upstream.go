// Package governor provides the upstream API client.
package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Upstream is the metered product-data transport. Call returns the raw
// response payload; the governor never interprets it beyond what its
// own API surface requires.
type Upstream interface {
	Call(ctx context.Context, operation string, params map[string]string) ([]byte, error)
}

const maxUpstreamBodyBytes = 8 << 20

// UpstreamOptions configures the HTTP upstream client.
type UpstreamOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
	Logger Logger
}

// HTTPUpstream calls the metered product-data API over HTTP. It
// implements both Upstream and BalanceProber.
type HTTPUpstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  Logger
}

// NewHTTPUpstream constructs an HTTP upstream client.
func NewHTTPUpstream(opts UpstreamOptions) (*HTTPUpstream, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("upstream base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	return &HTTPUpstream{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		client:  client,
		logger:  logger,
	}, nil
}

// Call performs one upstream request and returns the raw payload.
// Non-200 responses and transport failures become UpstreamErrors.
func (u *HTTPUpstream) Call(ctx context.Context, operation string, params map[string]string) ([]byte, error) {
	if u == nil || u.client == nil {
		return nil, errors.New("upstream client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint, err := u.endpoint(operation)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	if u.apiKey != "" {
		values.Set("key", u.apiKey)
	}
	requestURL := endpoint
	if encoded := values.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		u.logger.Info("upstream returned non-ok status", map[string]any{
			"operation": operation,
			"status":    resp.StatusCode,
		})
		return nil, &UpstreamError{Operation: operation, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return body, nil
}

// Balance probes the remaining credit balance.
func (u *HTTPUpstream) Balance(ctx context.Context) (int64, error) {
	payload, err := u.Call(ctx, OpToken, nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		TokensLeft int64 `json:"tokensLeft"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, &UpstreamError{Operation: OpToken, Err: fmt.Errorf("decode balance: %w", err)}
	}
	return body.TokensLeft, nil
}

func (u *HTTPUpstream) endpoint(operation string) (string, error) {
	var path string
	switch operation {
	case OpProduct:
		path = "/product"
	case OpFinder:
		path = "/query"
	case OpToken:
		path = "/token"
	default:
		return "", Wrap(CodeInvalidInput, fmt.Sprintf("unknown upstream operation %q", operation), nil)
	}
	return u.baseURL + path, nil
}
