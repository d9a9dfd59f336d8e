// Package governor provides cache persistence backends.
package governor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry is a cached payload with expiry and hit bookkeeping.
type Entry struct {
	Payload   []byte
	StoredAt  time.Time
	ExpiresAt time.Time
	Hits      int64
}

// Store persists cache entries keyed by tier and key. Implementations
// must treat expired entries as absent on Get and must hand out payload
// copies, never shared backing arrays.
type Store interface {
	Get(ctx context.Context, tier, key string) (*Entry, bool, error)
	Set(ctx context.Context, tier, key string, payload []byte, ttl time.Duration) error
	IncrementHit(ctx context.Context, tier, key string) error
	Delete(ctx context.Context, tier, key string) error
	PurgeExpired(ctx context.Context, tier string, before time.Time) (int, error)
}

// MemoryStore is a bounded in-memory Store. Entries past their expiry
// are dropped lazily on read and in bulk by PurgeExpired; the LRU bound
// evicts the least recently used entry when full.
type MemoryStore struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *memoryEntry]
	now func() time.Time
}

type memoryEntry struct {
	payload   []byte
	storedAt  time.Time
	expiresAt time.Time
	hits      int64
}

// NewMemoryStore constructs a bounded in-memory store.
func NewMemoryStore(maxEntries int, now func() time.Time) (*MemoryStore, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("memory store capacity must be positive, got %d", maxEntries)
	}
	if now == nil {
		now = time.Now
	}
	lru, err := simplelru.NewLRU[string, *memoryEntry](maxEntries, nil)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{lru: lru, now: now}, nil
}

// Get returns a copy of the stored entry. Expired entries are removed
// and reported as a miss.
func (s *MemoryStore) Get(ctx context.Context, tier, key string) (*Entry, bool, error) {
	if s == nil {
		return nil, false, errors.New("memory store is nil")
	}
	sk := storeKey(tier, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lru.Get(sk)
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.After(s.now()) {
		s.lru.Remove(sk)
		return nil, false, nil
	}
	return &Entry{
		Payload:   append([]byte(nil), entry.payload...),
		StoredAt:  entry.storedAt,
		ExpiresAt: entry.expiresAt,
		Hits:      entry.hits,
	}, true, nil
}

// Set stores a payload copy under the tier key, overwriting any
// previous entry regardless of its remaining TTL.
func (s *MemoryStore) Set(ctx context.Context, tier, key string, payload []byte, ttl time.Duration) error {
	if s == nil {
		return errors.New("memory store is nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", ttl)
	}
	now := s.now()
	entry := &memoryEntry{
		payload:   append([]byte(nil), payload...),
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	s.mu.Lock()
	s.lru.Add(storeKey(tier, key), entry)
	s.mu.Unlock()
	return nil
}

// IncrementHit bumps the hit count for a live entry. Missing or
// expired entries are ignored.
func (s *MemoryStore) IncrementHit(ctx context.Context, tier, key string) error {
	if s == nil {
		return errors.New("memory store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lru.Peek(storeKey(tier, key))
	if !ok || !entry.expiresAt.After(s.now()) {
		return nil
	}
	entry.hits++
	return nil
}

// Delete removes an entry.
func (s *MemoryStore) Delete(ctx context.Context, tier, key string) error {
	if s == nil {
		return errors.New("memory store is nil")
	}
	s.mu.Lock()
	s.lru.Remove(storeKey(tier, key))
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes entries in the tier that expired at or before
// the given time and returns how many were removed.
func (s *MemoryStore) PurgeExpired(ctx context.Context, tier string, before time.Time) (int, error) {
	if s == nil {
		return 0, errors.New("memory store is nil")
	}
	prefix := tier + keySeparator
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for _, sk := range s.lru.Keys() {
		if !strings.HasPrefix(sk, prefix) {
			continue
		}
		entry, ok := s.lru.Peek(sk)
		if !ok {
			continue
		}
		if !entry.expiresAt.After(before) {
			expired = append(expired, sk)
		}
	}
	for _, sk := range expired {
		s.lru.Remove(sk)
	}
	return len(expired), nil
}

// Len reports the number of stored entries across all tiers.
func (s *MemoryStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// storeKey builds a map key for cache entries.
func storeKey(tier, key string) string {
	return tier + keySeparator + key
}
