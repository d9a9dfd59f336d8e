// Package governor provides a Redis cache backend.
package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "gov:"

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys written by this store.
	Prefix string
	Now    func() time.Time
}

// RedisStore is a Redis-backed Store. Value keys carry the TTL so Redis
// expires entries on its own; hit counts live in one hash per tier and
// are swept by PurgeExpired once their value key is gone.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// redisEnvelope is the stored wire form of a cache entry.
type redisEnvelope struct {
	Payload  []byte `json:"p"`
	StoredAt int64  `json:"s"`
	Expires  int64  `json:"e"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, now: now}, nil
}

// Get returns the stored entry. Undecodable envelopes are deleted and
// reported as a CacheCorruptError so the caller can treat the read as
// a miss.
func (s *RedisStore) Get(ctx context.Context, tier, key string) (*Entry, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, errors.New("redis store is nil")
	}
	pipe := s.client.Pipeline()
	valueCmd := pipe.Get(ctx, s.valueKey(tier, key))
	hitsCmd := pipe.HGet(ctx, s.hitsKey(tier), key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, err
	}
	data, err := valueCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var envelope redisEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		_ = s.client.Del(ctx, s.valueKey(tier, key)).Err()
		return nil, false, &CacheCorruptError{Tier: tier, Key: key, Err: err}
	}
	hits, err := hitsCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		hits = 0
	}
	return &Entry{
		Payload:   envelope.Payload,
		StoredAt:  time.UnixMilli(envelope.StoredAt),
		ExpiresAt: time.UnixMilli(envelope.Expires),
		Hits:      hits,
	}, true, nil
}

// Set stores the payload with the tier TTL, overwriting any previous
// entry.
func (s *RedisStore) Set(ctx context.Context, tier, key string, payload []byte, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return errors.New("redis store is nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", ttl)
	}
	now := s.now()
	data, err := json.Marshal(redisEnvelope{
		Payload:  payload,
		StoredAt: now.UnixMilli(),
		Expires:  now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.valueKey(tier, key), data, ttl).Err()
}

// IncrementHit bumps the tier hit counter for the key.
func (s *RedisStore) IncrementHit(ctx context.Context, tier, key string) error {
	if s == nil || s.client == nil {
		return errors.New("redis store is nil")
	}
	return s.client.HIncrBy(ctx, s.hitsKey(tier), key, 1).Err()
}

// Delete removes the entry and its hit counter.
func (s *RedisStore) Delete(ctx context.Context, tier, key string) error {
	if s == nil || s.client == nil {
		return errors.New("redis store is nil")
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.valueKey(tier, key))
	pipe.HDel(ctx, s.hitsKey(tier), key)
	_, err := pipe.Exec(ctx)
	return err
}

// PurgeExpired sweeps hit counters whose value key has expired. Redis
// removes the value keys itself, so the swept counters are the entries
// that expired since the last sweep.
func (s *RedisStore) PurgeExpired(ctx context.Context, tier string, before time.Time) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis store is nil")
	}
	fields, err := s.client.HKeys(ctx, s.hitsKey(tier)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, field := range fields {
		exists, err := s.client.Exists(ctx, s.valueKey(tier, field)).Result()
		if err != nil {
			return removed, err
		}
		if exists != 0 {
			continue
		}
		if err := s.client.HDel(ctx, s.hitsKey(tier), field).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) valueKey(tier, key string) string {
	return s.prefix + tier + ":" + key
}

func (s *RedisStore) hitsKey(tier string) string {
	return s.prefix + "hits:" + tier
}
