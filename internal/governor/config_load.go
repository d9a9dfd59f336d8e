// Package governor provides configuration loading.
package governor

import (
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"strconv"
	"time"
)

// LoadOptions controls config loading.
type LoadOptions struct {
	ConfigPath string
	Args       []string
	Environ    []string
}

// LoadConfig loads configuration from defaults, file, env, and flags.
func LoadConfig(opts LoadOptions) (*Config, error) {
	args := opts.Args
	if args == nil {
		args = os.Args[1:]
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	flagOverrides, err := parseFlagOverrides(args)
	if err != nil {
		return nil, err
	}

	configPath := opts.ConfigPath
	if flagOverrides.ConfigPath != nil {
		configPath = *flagOverrides.ConfigPath
	}

	cfg := defaultConfig()
	if configPath != "" {
		fileOverrides, err := loadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		applyConfigOverrides(cfg, fileOverrides)
	}
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, flagOverrides)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		BucketCapacity:          300,
		RefillPerMinute:         60,
		AcquireMaxWait:          10 * time.Second,
		BucketWarningFraction:   0.25,
		BucketCriticalFraction:  0.10,
		SnapshotValidity:        60 * time.Second,
		BudgetWarningThreshold:  100,
		BudgetCriticalThreshold: 20,
		OptimisticOnProbeError:  true,
		BreakerFailureThreshold: 5,
		BreakerCooldown:         60 * time.Second,
		DiscoveryTTL:            24 * time.Hour,
		ScoringTTL:              15 * time.Minute,
		PurgeInterval:           5 * time.Minute,
		MemoryCacheMaxEntries:   8192,
		OperationCosts: map[string]int64{
			OpProduct: 1,
			OpFinder:  50,
			OpToken:   1,
		},
		DefaultOperationCost: 10,
		UpstreamTimeout:      30 * time.Second,
		UpstreamRetries:      1,
		SingleFlightEnabled:  true,
		EnableHTTP:           true,
		HTTPListenAddr:       ":8080",
		HTTPReadTimeout:      5 * time.Second,
		HTTPWriteTimeout:     60 * time.Second,
		HTTPIdleTimeout:      60 * time.Second,
		RequestTimeout:       45 * time.Second,
		MaxBodyBytes:         1 << 20,
		EnablePromMetrics:    true,
	}
}

type configOverrides struct {
	BucketCapacity          *int64           `json:"BucketCapacity"`
	RefillPerMinute         *float64         `json:"RefillPerMinute"`
	AcquireMaxWait          *durationValue   `json:"AcquireMaxWait"`
	BucketWarningFraction   *float64         `json:"BucketWarningFraction"`
	BucketCriticalFraction  *float64         `json:"BucketCriticalFraction"`
	SnapshotValidity        *durationValue   `json:"SnapshotValidity"`
	BudgetWarningThreshold  *int64           `json:"BudgetWarningThreshold"`
	BudgetCriticalThreshold *int64           `json:"BudgetCriticalThreshold"`
	OptimisticOnProbeError  *bool            `json:"OptimisticOnProbeError"`
	BreakerFailureThreshold *int64           `json:"BreakerFailureThreshold"`
	BreakerCooldown         *durationValue   `json:"BreakerCooldown"`
	DiscoveryTTL            *durationValue   `json:"DiscoveryTTL"`
	ScoringTTL              *durationValue   `json:"ScoringTTL"`
	PurgeInterval           *durationValue   `json:"PurgeInterval"`
	MemoryCacheMaxEntries   *int             `json:"MemoryCacheMaxEntries"`
	OperationCosts          map[string]int64 `json:"OperationCosts"`
	DefaultOperationCost    *int64           `json:"DefaultOperationCost"`
	UpstreamBaseURL         *string          `json:"UpstreamBaseURL"`
	UpstreamAPIKey          *string          `json:"UpstreamAPIKey"`
	UpstreamTimeout         *durationValue   `json:"UpstreamTimeout"`
	UpstreamRetries         *int             `json:"UpstreamRetries"`
	SingleFlightEnabled     *bool            `json:"SingleFlightEnabled"`
	RedisAddr               *string          `json:"RedisAddr"`
	RedisPassword           *string          `json:"RedisPassword"`
	RedisDB                 *int             `json:"RedisDB"`
	EnableHTTP              *bool            `json:"EnableHTTP"`
	HTTPListenAddr          *string          `json:"HTTPListenAddr"`
	HTTPReadTimeout         *durationValue   `json:"HTTPReadTimeout"`
	HTTPWriteTimeout        *durationValue   `json:"HTTPWriteTimeout"`
	HTTPIdleTimeout         *durationValue   `json:"HTTPIdleTimeout"`
	RequestTimeout          *durationValue   `json:"RequestTimeout"`
	MaxBodyBytes            *int64           `json:"MaxBodyBytes"`
	EnableAuth              *bool            `json:"EnableAuth"`
	AdminToken              *string          `json:"AdminToken"`
	EnablePromMetrics       *bool            `json:"EnablePromMetrics"`
}

type durationValue struct {
	Value time.Duration
	Set   bool
}

func (d *durationValue) UnmarshalJSON(data []byte) error {
	if d == nil {
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err == nil {
		value, err := number.Int64()
		if err != nil {
			return err
		}
		d.Value = time.Duration(value) * time.Millisecond
		d.Set = true
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		value, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return err
		}
		d.Value = time.Duration(value) * time.Millisecond
		d.Set = true
		return nil
	}
	return errors.New("invalid duration value")
}

type flagOverrides struct {
	ConfigPath       *string
	EnableHTTP       *bool
	HTTPListenAddr   *string
	EnableAuth       *bool
	AdminToken       *string
	RedisAddr        *string
	UpstreamBaseURL  *string
	UpstreamAPIKey   *string
	UpstreamRetries  *int
	BucketCapacity   *int
	RefillPerMinute  *float64
	AcquireMaxWaitMS *int
	BreakerThreshold *int
	BreakerCooldown  *int
}

func parseFlagOverrides(args []string) (flagOverrides, error) {
	fs := flag.NewFlagSet("governor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	setFlagUsage(fs)

	configPath := fs.String("config", "", "config file path")
	enableHTTP := fs.Bool("enable_http", false, "enable http")
	httpAddr := fs.String("http_addr", "", "http address")
	enableAuth := fs.Bool("enable_auth", false, "enable auth")
	adminToken := fs.String("admin_token", "", "admin token")
	redisAddr := fs.String("redis_addr", "", "redis address")
	upstreamURL := fs.String("upstream_url", "", "upstream base url")
	upstreamKey := fs.String("upstream_key", "", "upstream api key")
	upstreamRetries := fs.Int("upstream_retries", 0, "upstream retry count")
	bucketCapacity := fs.Int("bucket_capacity", 0, "token bucket capacity")
	refillPerMinute := fs.Float64("refill_per_minute", 0, "token refill per minute")
	acquireMaxWait := fs.Int("acquire_max_wait_ms", 0, "acquire max wait ms")
	breakerThreshold := fs.Int("breaker_failure_threshold", 0, "breaker failure threshold")
	breakerCooldown := fs.Int("breaker_cooldown_ms", 0, "breaker cooldown ms")

	if err := fs.Parse(args); err != nil {
		return flagOverrides{}, errors.New("invalid flag values")
	}

	overrides := flagOverrides{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			overrides.ConfigPath = configPath
		case "enable_http":
			overrides.EnableHTTP = enableHTTP
		case "http_addr":
			overrides.HTTPListenAddr = httpAddr
		case "enable_auth":
			overrides.EnableAuth = enableAuth
		case "admin_token":
			overrides.AdminToken = adminToken
		case "redis_addr":
			overrides.RedisAddr = redisAddr
		case "upstream_url":
			overrides.UpstreamBaseURL = upstreamURL
		case "upstream_key":
			overrides.UpstreamAPIKey = upstreamKey
		case "upstream_retries":
			overrides.UpstreamRetries = upstreamRetries
		case "bucket_capacity":
			overrides.BucketCapacity = bucketCapacity
		case "refill_per_minute":
			overrides.RefillPerMinute = refillPerMinute
		case "acquire_max_wait_ms":
			overrides.AcquireMaxWaitMS = acquireMaxWait
		case "breaker_failure_threshold":
			overrides.BreakerThreshold = breakerThreshold
		case "breaker_cooldown_ms":
			overrides.BreakerCooldown = breakerCooldown
		}
	})
	return overrides, nil
}

func setFlagUsage(fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Usage = func() {}
}

func loadConfigFile(path string) (*configOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overrides configOverrides
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, err
	}
	return &overrides, nil
}

func applyConfigOverrides(cfg *Config, overrides *configOverrides) {
	if cfg == nil || overrides == nil {
		return
	}
	if overrides.BucketCapacity != nil {
		cfg.BucketCapacity = *overrides.BucketCapacity
	}
	if overrides.RefillPerMinute != nil {
		cfg.RefillPerMinute = *overrides.RefillPerMinute
	}
	if overrides.AcquireMaxWait != nil && overrides.AcquireMaxWait.Set {
		cfg.AcquireMaxWait = overrides.AcquireMaxWait.Value
	}
	if overrides.BucketWarningFraction != nil {
		cfg.BucketWarningFraction = *overrides.BucketWarningFraction
	}
	if overrides.BucketCriticalFraction != nil {
		cfg.BucketCriticalFraction = *overrides.BucketCriticalFraction
	}
	if overrides.SnapshotValidity != nil && overrides.SnapshotValidity.Set {
		cfg.SnapshotValidity = overrides.SnapshotValidity.Value
	}
	if overrides.BudgetWarningThreshold != nil {
		cfg.BudgetWarningThreshold = *overrides.BudgetWarningThreshold
	}
	if overrides.BudgetCriticalThreshold != nil {
		cfg.BudgetCriticalThreshold = *overrides.BudgetCriticalThreshold
	}
	if overrides.OptimisticOnProbeError != nil {
		cfg.OptimisticOnProbeError = *overrides.OptimisticOnProbeError
	}
	if overrides.BreakerFailureThreshold != nil {
		cfg.BreakerFailureThreshold = *overrides.BreakerFailureThreshold
	}
	if overrides.BreakerCooldown != nil && overrides.BreakerCooldown.Set {
		cfg.BreakerCooldown = overrides.BreakerCooldown.Value
	}
	if overrides.DiscoveryTTL != nil && overrides.DiscoveryTTL.Set {
		cfg.DiscoveryTTL = overrides.DiscoveryTTL.Value
	}
	if overrides.ScoringTTL != nil && overrides.ScoringTTL.Set {
		cfg.ScoringTTL = overrides.ScoringTTL.Value
	}
	if overrides.PurgeInterval != nil && overrides.PurgeInterval.Set {
		cfg.PurgeInterval = overrides.PurgeInterval.Value
	}
	if overrides.MemoryCacheMaxEntries != nil {
		cfg.MemoryCacheMaxEntries = *overrides.MemoryCacheMaxEntries
	}
	if overrides.OperationCosts != nil {
		costs := make(map[string]int64, len(overrides.OperationCosts))
		for op, cost := range overrides.OperationCosts {
			costs[op] = cost
		}
		cfg.OperationCosts = costs
	}
	if overrides.DefaultOperationCost != nil {
		cfg.DefaultOperationCost = *overrides.DefaultOperationCost
	}
	if overrides.UpstreamBaseURL != nil {
		cfg.UpstreamBaseURL = *overrides.UpstreamBaseURL
	}
	if overrides.UpstreamAPIKey != nil {
		cfg.UpstreamAPIKey = *overrides.UpstreamAPIKey
	}
	if overrides.UpstreamTimeout != nil && overrides.UpstreamTimeout.Set {
		cfg.UpstreamTimeout = overrides.UpstreamTimeout.Value
	}
	if overrides.UpstreamRetries != nil {
		cfg.UpstreamRetries = *overrides.UpstreamRetries
	}
	if overrides.SingleFlightEnabled != nil {
		cfg.SingleFlightEnabled = *overrides.SingleFlightEnabled
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
	if overrides.RedisPassword != nil {
		cfg.RedisPassword = *overrides.RedisPassword
	}
	if overrides.RedisDB != nil {
		cfg.RedisDB = *overrides.RedisDB
	}
	if overrides.EnableHTTP != nil {
		cfg.EnableHTTP = *overrides.EnableHTTP
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.HTTPReadTimeout != nil && overrides.HTTPReadTimeout.Set {
		cfg.HTTPReadTimeout = overrides.HTTPReadTimeout.Value
	}
	if overrides.HTTPWriteTimeout != nil && overrides.HTTPWriteTimeout.Set {
		cfg.HTTPWriteTimeout = overrides.HTTPWriteTimeout.Value
	}
	if overrides.HTTPIdleTimeout != nil && overrides.HTTPIdleTimeout.Set {
		cfg.HTTPIdleTimeout = overrides.HTTPIdleTimeout.Value
	}
	if overrides.RequestTimeout != nil && overrides.RequestTimeout.Set {
		cfg.RequestTimeout = overrides.RequestTimeout.Value
	}
	if overrides.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *overrides.MaxBodyBytes
	}
	if overrides.EnableAuth != nil {
		cfg.EnableAuth = *overrides.EnableAuth
	}
	if overrides.AdminToken != nil {
		cfg.AdminToken = *overrides.AdminToken
	}
	if overrides.EnablePromMetrics != nil {
		cfg.EnablePromMetrics = *overrides.EnablePromMetrics
	}
}

func applyFlagOverrides(cfg *Config, overrides flagOverrides) {
	if cfg == nil {
		return
	}
	if overrides.EnableHTTP != nil {
		cfg.EnableHTTP = *overrides.EnableHTTP
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.EnableAuth != nil {
		cfg.EnableAuth = *overrides.EnableAuth
	}
	if overrides.AdminToken != nil {
		cfg.AdminToken = *overrides.AdminToken
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
	if overrides.UpstreamBaseURL != nil {
		cfg.UpstreamBaseURL = *overrides.UpstreamBaseURL
	}
	if overrides.UpstreamAPIKey != nil {
		cfg.UpstreamAPIKey = *overrides.UpstreamAPIKey
	}
	if overrides.UpstreamRetries != nil {
		cfg.UpstreamRetries = *overrides.UpstreamRetries
	}
	if overrides.BucketCapacity != nil {
		cfg.BucketCapacity = int64(*overrides.BucketCapacity)
	}
	if overrides.RefillPerMinute != nil {
		cfg.RefillPerMinute = *overrides.RefillPerMinute
	}
	if overrides.AcquireMaxWaitMS != nil {
		cfg.AcquireMaxWait = time.Duration(*overrides.AcquireMaxWaitMS) * time.Millisecond
	}
	if overrides.BreakerThreshold != nil {
		cfg.BreakerFailureThreshold = int64(*overrides.BreakerThreshold)
	}
	if overrides.BreakerCooldown != nil {
		cfg.BreakerCooldown = time.Duration(*overrides.BreakerCooldown) * time.Millisecond
	}
}
