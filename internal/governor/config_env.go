// Package governor provides environment config overrides.
package governor

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

func applyEnvOverrides(cfg *Config, environ []string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	values := envMap(environ)
	if value, ok := values["GOVERNOR_BUCKET_CAPACITY"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_BUCKET_CAPACITY", value)
		if err != nil {
			return err
		}
		cfg.BucketCapacity = parsed
	}
	if value, ok := values["GOVERNOR_REFILL_PER_MINUTE"]; ok {
		parsed, err := parseFloatEnv("GOVERNOR_REFILL_PER_MINUTE", value)
		if err != nil {
			return err
		}
		cfg.RefillPerMinute = parsed
	}
	if value, ok := values["GOVERNOR_ACQUIRE_MAX_WAIT_MS"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_ACQUIRE_MAX_WAIT_MS", value)
		if err != nil {
			return err
		}
		cfg.AcquireMaxWait = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["GOVERNOR_SNAPSHOT_VALIDITY_MS"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_SNAPSHOT_VALIDITY_MS", value)
		if err != nil {
			return err
		}
		cfg.SnapshotValidity = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["GOVERNOR_OPTIMISTIC_ON_PROBE_ERROR"]; ok {
		parsed, err := parseBoolEnv("GOVERNOR_OPTIMISTIC_ON_PROBE_ERROR", value)
		if err != nil {
			return err
		}
		cfg.OptimisticOnProbeError = parsed
	}
	if value, ok := values["GOVERNOR_BREAKER_FAILURE_THRESHOLD"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_BREAKER_FAILURE_THRESHOLD", value)
		if err != nil {
			return err
		}
		cfg.BreakerFailureThreshold = parsed
	}
	if value, ok := values["GOVERNOR_BREAKER_COOLDOWN_MS"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_BREAKER_COOLDOWN_MS", value)
		if err != nil {
			return err
		}
		cfg.BreakerCooldown = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["GOVERNOR_DISCOVERY_TTL_MS"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_DISCOVERY_TTL_MS", value)
		if err != nil {
			return err
		}
		cfg.DiscoveryTTL = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["GOVERNOR_SCORING_TTL_MS"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_SCORING_TTL_MS", value)
		if err != nil {
			return err
		}
		cfg.ScoringTTL = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["GOVERNOR_UPSTREAM_URL"]; ok {
		cfg.UpstreamBaseURL = value
	}
	if value, ok := values["GOVERNOR_UPSTREAM_KEY"]; ok {
		cfg.UpstreamAPIKey = value
	}
	if value, ok := values["GOVERNOR_UPSTREAM_RETRIES"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_UPSTREAM_RETRIES", value)
		if err != nil {
			return err
		}
		cfg.UpstreamRetries = int(parsed)
	}
	if value, ok := values["GOVERNOR_SINGLE_FLIGHT"]; ok {
		parsed, err := parseBoolEnv("GOVERNOR_SINGLE_FLIGHT", value)
		if err != nil {
			return err
		}
		cfg.SingleFlightEnabled = parsed
	}
	if value, ok := values["GOVERNOR_REDIS_ADDR"]; ok {
		cfg.RedisAddr = value
	}
	if value, ok := values["GOVERNOR_REDIS_PASSWORD"]; ok {
		cfg.RedisPassword = value
	}
	if value, ok := values["GOVERNOR_REDIS_DB"]; ok {
		parsed, err := parseIntEnv("GOVERNOR_REDIS_DB", value)
		if err != nil {
			return err
		}
		cfg.RedisDB = int(parsed)
	}
	if value, ok := values["GOVERNOR_ENABLE_HTTP"]; ok {
		parsed, err := parseBoolEnv("GOVERNOR_ENABLE_HTTP", value)
		if err != nil {
			return err
		}
		cfg.EnableHTTP = parsed
	}
	if value, ok := values["GOVERNOR_HTTP_ADDR"]; ok {
		cfg.HTTPListenAddr = value
	}
	if value, ok := values["GOVERNOR_ENABLE_AUTH"]; ok {
		parsed, err := parseBoolEnv("GOVERNOR_ENABLE_AUTH", value)
		if err != nil {
			return err
		}
		cfg.EnableAuth = parsed
	}
	if value, ok := values["GOVERNOR_ADMIN_TOKEN"]; ok {
		cfg.AdminToken = value
	}
	if value, ok := values["GOVERNOR_ENABLE_PROM_METRICS"]; ok {
		parsed, err := parseBoolEnv("GOVERNOR_ENABLE_PROM_METRICS", value)
		if err != nil {
			return err
		}
		cfg.EnablePromMetrics = parsed
	}
	return nil
}

func envMap(environ []string) map[string]string {
	values := make(map[string]string)
	for _, entry := range environ {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = parts[1]
	}
	return values
}

func parseBoolEnv(name, value string) (bool, error) {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseIntEnv(name, value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseFloatEnv(name, value string) (float64, error) {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}
