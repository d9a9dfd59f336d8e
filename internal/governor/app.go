// Package governor wires application dependencies.
package governor

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Application holds core components for the service.
type Application struct {
	Config        *Config
	Costs         *CostTable
	Bucket        *TokenBucket
	Budget        *BudgetTracker
	Breaker       *CircuitBreaker
	Cache         *TwoTierCache
	Governor      *Governor
	PurgeLoop     *PurgeLoop
	ready         atomic.Bool
	httpTransport *HTTPTransport
	transports    []Transport
	logger        Logger
	metrics       Metrics
	registry      *prometheus.Registry
	redisStore    *RedisStore
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewApplication validates configuration and prepares the application.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	applyConfigDefaults(cfg)

	logger := cfg.Logger
	if logger == nil {
		logger = NewStdLogger(os.Stderr)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var registry *prometheus.Registry
	metrics := cfg.Metrics
	if metrics == nil {
		if cfg.EnablePromMetrics {
			registry = prometheus.NewRegistry()
			metrics = NewPromMetrics(registry)
		} else {
			metrics = NewInMemoryMetrics()
		}
	}

	var redisStore *RedisStore
	store := cfg.Store
	if store == nil {
		if cfg.RedisAddr != "" {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			rs, err := NewRedisStore(pingCtx, RedisOptions{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
				Now:      now,
			})
			if err != nil {
				return nil, err
			}
			redisStore = rs
			store = rs
		} else {
			ms, err := NewMemoryStore(cfg.MemoryCacheMaxEntries, now)
			if err != nil {
				return nil, err
			}
			store = ms
		}
	}

	upstream := cfg.Upstream
	if upstream == nil {
		if cfg.UpstreamBaseURL == "" {
			return nil, errors.New("upstream base url is required")
		}
		hu, err := NewHTTPUpstream(UpstreamOptions{
			BaseURL: cfg.UpstreamBaseURL,
			APIKey:  cfg.UpstreamAPIKey,
			Timeout: cfg.UpstreamTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		upstream = hu
	}

	prober := cfg.Prober
	if prober == nil {
		if p, ok := upstream.(BalanceProber); ok {
			prober = p
		} else {
			return nil, errors.New("balance prober is required")
		}
	}

	costs, err := NewCostTable(cfg.OperationCosts, cfg.DefaultOperationCost)
	if err != nil {
		return nil, err
	}
	bucket, err := NewTokenBucket(BucketOptions{
		Capacity:         cfg.BucketCapacity,
		RefillPerMinute:  cfg.RefillPerMinute,
		MaxWait:          cfg.AcquireMaxWait,
		WarningFraction:  cfg.BucketWarningFraction,
		CriticalFraction: cfg.BucketCriticalFraction,
		Logger:           logger,
		Metrics:          metrics,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}
	budget, err := NewBudgetTracker(BudgetOptions{
		SnapshotValidity:       cfg.SnapshotValidity,
		WarningThreshold:       cfg.BudgetWarningThreshold,
		CriticalThreshold:      cfg.BudgetCriticalThreshold,
		OptimisticOnProbeError: cfg.OptimisticOnProbeError,
		Prober:                 prober,
		Logger:                 logger,
		Metrics:                metrics,
		Now:                    now,
	})
	if err != nil {
		return nil, err
	}
	breaker, err := NewCircuitBreaker(CircuitOptions{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		Logger:           logger,
		Metrics:          metrics,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}
	cache, err := NewTwoTierCache(CacheOptions{
		Store:        store,
		DiscoveryTTL: cfg.DiscoveryTTL,
		ScoringTTL:   cfg.ScoringTTL,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}
	gov, err := NewGovernor(GovernorOptions{
		Costs:        costs,
		Bucket:       bucket,
		Budget:       budget,
		Breaker:      breaker,
		Cache:        cache,
		Upstream:     upstream,
		Retries:      cfg.UpstreamRetries,
		SingleFlight: cfg.SingleFlightEnabled,
		Logger:       logger,
		Metrics:      metrics,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}
	purge := &PurgeLoop{cache: cache, interval: cfg.PurgeInterval, logger: logger, now: now}

	app := &Application{
		Config:     cfg,
		Costs:      costs,
		Bucket:     bucket,
		Budget:     budget,
		Breaker:    breaker,
		Cache:      cache,
		Governor:   gov,
		PurgeLoop:  purge,
		logger:     logger,
		metrics:    metrics,
		registry:   registry,
		redisStore: redisStore,
	}

	if cfg.EnableHTTP {
		if cfg.EnableAuth && cfg.AdminToken == "" {
			return nil, errors.New("admin token is required when auth is enabled")
		}
		transport := NewHTTPTransport(cfg.HTTPListenAddr, app.Ready)
		if err := transport.ServeGovernor(app.Governor); err != nil {
			return nil, err
		}
		if err := transport.ServePurger(app.Cache); err != nil {
			return nil, err
		}
		transportCfg := HTTPTransportConfig{
			ReadTimeout:    cfg.HTTPReadTimeout,
			WriteTimeout:   cfg.HTTPWriteTimeout,
			IdleTimeout:    cfg.HTTPIdleTimeout,
			RequestTimeout: cfg.RequestTimeout,
			MaxBodyBytes:   cfg.MaxBodyBytes,
			EnableAuth:     cfg.EnableAuth,
			AdminToken:     cfg.AdminToken,
			Logger:         logger,
			Now:            now,
		}
		if registry != nil {
			transportCfg.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		} else if im, ok := metrics.(*InMemoryMetrics); ok {
			transportCfg.Snapshot = im.Snapshot
		}
		transport.Configure(transportCfg)
		app.httpTransport = transport
		app.transports = append(app.transports, transport)
	}

	return app, nil
}

// applyConfigDefaults fills zero values so a sparse config is usable.
// Negative values are left alone for the component constructors to
// reject.
func applyConfigDefaults(cfg *Config) {
	defaults := defaultConfig()
	if cfg.BucketCapacity == 0 {
		cfg.BucketCapacity = defaults.BucketCapacity
	}
	if cfg.RefillPerMinute == 0 {
		cfg.RefillPerMinute = defaults.RefillPerMinute
	}
	if cfg.AcquireMaxWait == 0 {
		cfg.AcquireMaxWait = defaults.AcquireMaxWait
	}
	if cfg.BucketWarningFraction == 0 {
		cfg.BucketWarningFraction = defaults.BucketWarningFraction
	}
	if cfg.BucketCriticalFraction == 0 {
		cfg.BucketCriticalFraction = defaults.BucketCriticalFraction
	}
	if cfg.SnapshotValidity == 0 {
		cfg.SnapshotValidity = defaults.SnapshotValidity
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = defaults.BreakerFailureThreshold
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = defaults.BreakerCooldown
	}
	if cfg.DiscoveryTTL == 0 {
		cfg.DiscoveryTTL = defaults.DiscoveryTTL
	}
	if cfg.ScoringTTL == 0 {
		cfg.ScoringTTL = defaults.ScoringTTL
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = defaults.PurgeInterval
	}
	if cfg.MemoryCacheMaxEntries == 0 {
		cfg.MemoryCacheMaxEntries = defaults.MemoryCacheMaxEntries
	}
	if cfg.OperationCosts == nil {
		cfg.OperationCosts = defaults.OperationCosts
	}
	if cfg.DefaultOperationCost == 0 {
		cfg.DefaultOperationCost = defaults.DefaultOperationCost
	}
	if cfg.UpstreamTimeout == 0 {
		cfg.UpstreamTimeout = defaults.UpstreamTimeout
	}
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = defaults.HTTPListenAddr
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
}

// Start begins background work for the application.
func (app *Application) Start(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if app.Budget != nil {
		if err := app.Budget.Refresh(ctx); err != nil {
			app.logger.Warn("initial balance probe failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	if app.PurgeLoop != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.PurgeLoop.Start(ctx)
		}()
	}
	if app.httpTransport != nil {
		app.httpTransport.baseCtx = ctx
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.httpTransport.Start()
		}()
	}

	app.ready.Store(true)

	return nil
}

// Shutdown stops background work for the application.
func (app *Application) Shutdown(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if app.cancel != nil {
		app.cancel()
	}
	app.ready.Store(false)
	for _, transport := range app.transports {
		if transport == nil {
			continue
		}
		_ = transport.Shutdown(ctx)
	}
	if app.redisStore != nil {
		_ = app.redisStore.Close()
	}
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the application has completed startup.
func (app *Application) Ready() bool {
	if app == nil {
		return false
	}
	return app.ready.Load()
}
