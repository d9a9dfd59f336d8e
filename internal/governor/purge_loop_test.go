package governor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPurgeLoop_RemovesExpiredEntries(t *testing.T) {
	t.Parallel()

	logs := &captureLogger{}
	store := newTestMemoryStore(t, 16, nil)
	cache := newTestCache(t, CacheOptions{
		Store:        store,
		DiscoveryTTL: time.Hour,
		ScoringTTL:   30 * time.Millisecond,
		Logger:       logs,
	})
	cache.Set(context.Background(), TierScoring, "B00EXAMPLE", []byte("{}"))

	loop := &PurgeLoop{cache: cache, interval: 20 * time.Millisecond, logger: logs}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expired entry was never purged")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("loop returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop after cancellation")
	}
	if got := logs.count("purged expired cache entries"); got < 1 {
		t.Fatalf("expected purge log, got %d", got)
	}
}

func TestPurgeLoop_ReportsStoreFailures(t *testing.T) {
	t.Parallel()

	logs := &captureLogger{}
	cache := newTestCache(t, CacheOptions{
		Store:        &failingStore{err: errors.New("backend down")},
		DiscoveryTTL: time.Hour,
		ScoringTTL:   time.Hour,
		Logger:       logs,
	})

	loop := &PurgeLoop{cache: cache, interval: 10 * time.Millisecond, logger: logs}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for logs.count("cache purge failed") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("purge failure was never logged")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestPurgeLoop_RequiresCache(t *testing.T) {
	t.Parallel()

	var missing *PurgeLoop
	if err := missing.Start(context.Background()); err == nil {
		t.Fatalf("expected error for nil loop")
	}
	if err := (&PurgeLoop{}).Start(context.Background()); err == nil {
		t.Fatalf("expected error for missing cache")
	}
}
