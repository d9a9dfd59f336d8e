// Package governor provides an HTTP transport.
package governor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPTransport serves the governor and admin APIs over HTTP.
type HTTPTransport struct {
	addr           string
	srv            *http.Server
	governor       GovernorService
	purger         CachePurger
	appReady       func() bool
	metricsHandler http.Handler
	snapshot       func() map[string]any
	mux            http.Handler
	mu             sync.Mutex
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	requestTimeout time.Duration
	maxBodyBytes   int64
	enableAuth     bool
	adminToken     string
	logger         Logger
	baseCtx        context.Context
	now            func() time.Time
}

// HTTPTransportConfig configures the HTTP transport.
type HTTPTransportConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	EnableAuth     bool
	AdminToken     string
	Logger         Logger
	// MetricsHandler serves GET /metrics when set, typically a
	// Prometheus handler. Snapshot is the JSON fallback.
	MetricsHandler http.Handler
	Snapshot       func() map[string]any
	Now            func() time.Time
}

// NewHTTPTransport constructs a transport bound to an address.
func NewHTTPTransport(addr string, ready func() bool) *HTTPTransport {
	if addr == "" {
		addr = ":8080"
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	return &HTTPTransport{addr: addr, appReady: ready, now: time.Now}
}

// ServeGovernor registers the governor service.
func (t *HTTPTransport) ServeGovernor(service GovernorService) error {
	if service == nil {
		return errors.New("governor service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.governor = service
	return nil
}

// ServePurger registers the cache purger for the admin API.
func (t *HTTPTransport) ServePurger(purger CachePurger) error {
	if purger == nil {
		return errors.New("cache purger is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purger = purger
	return nil
}

// Configure applies transport configuration values.
func (t *HTTPTransport) Configure(cfg HTTPTransportConfig) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = cfg.ReadTimeout
	t.writeTimeout = cfg.WriteTimeout
	t.idleTimeout = cfg.IdleTimeout
	t.requestTimeout = cfg.RequestTimeout
	if cfg.MaxBodyBytes > 0 {
		t.maxBodyBytes = cfg.MaxBodyBytes
	}
	t.enableAuth = cfg.EnableAuth
	t.adminToken = cfg.AdminToken
	t.logger = cfg.Logger
	t.metricsHandler = cfg.MetricsHandler
	t.snapshot = cfg.Snapshot
	if cfg.Now != nil {
		t.now = cfg.Now
	}
}

// Start begins serving HTTP requests. The base context, when set, is
// propagated to every request so in-flight token waits unblock on
// shutdown.
func (t *HTTPTransport) Start() error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	handler, err := t.handler()
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.srv == nil {
		t.srv = &http.Server{
			Addr:         t.addr,
			Handler:      handler,
			ReadTimeout:  t.readTimeout,
			WriteTimeout: t.writeTimeout,
			IdleTimeout:  t.idleTimeout,
		}
		if t.baseCtx != nil {
			base := t.baseCtx
			t.srv.BaseContext = func(net.Listener) context.Context { return base }
		}
	}
	srv := t.srv
	t.mu.Unlock()

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	srv := t.srv
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (t *HTTPTransport) Handler() (http.Handler, error) {
	return t.handler()
}

func (t *HTTPTransport) handler() (http.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mux != nil {
		return t.mux, nil
	}
	if t.governor == nil {
		return nil, errors.New("governor service must be registered before starting")
	}
	mux := http.NewServeMux()
	t.registerRoutes(mux)
	t.mux = mux
	return mux, nil
}
