package billing

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestEventCacheMarkAndSeen(t *testing.T) {
	cache := NewEventCache(time.Hour)
	ctx := context.Background()

	seen, err := cache.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Error("expected unseen event before Mark")
	}

	if err := cache.Mark(ctx, "evt_1"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	seen, err = cache.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !seen {
		t.Error("expected seen event after Mark")
	}
}

func TestEventCacheTTLExpiry(t *testing.T) {
	cache := NewEventCache(time.Hour)
	ctx := context.Background()

	current := time.Now()
	cache.now = func() time.Time { return current }

	if err := cache.Mark(ctx, "evt_1"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	current = current.Add(30 * time.Minute)
	seen, _ := cache.Seen(ctx, "evt_1")
	if !seen {
		t.Error("expected event still suppressed within TTL")
	}

	current = current.Add(31 * time.Minute)
	seen, _ = cache.Seen(ctx, "evt_1")
	if seen {
		t.Error("expected event forgotten after TTL")
	}
	if cache.Len() != 0 {
		t.Errorf("expected lazy eviction on expired read, got %d entries", cache.Len())
	}
}

func TestEventCacheDefaultTTL(t *testing.T) {
	cache := NewEventCache(0)
	if cache.ttl != DefaultEventTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultEventTTL, cache.ttl)
	}
	cache = NewEventCache(-time.Minute)
	if cache.ttl != DefaultEventTTL {
		t.Errorf("expected default TTL for negative input, got %v", cache.ttl)
	}
}

func TestEventCacheAmortizedSweep(t *testing.T) {
	cache := NewEventCache(time.Hour)
	cache.sweepAtSize = 10
	ctx := context.Background()

	current := time.Now()
	cache.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		if err := cache.Mark(ctx, fmt.Sprintf("evt_old_%d", i)); err != nil {
			t.Fatalf("Mark failed: %v", err)
		}
	}
	if cache.Len() != 10 {
		t.Fatalf("expected 10 entries, got %d", cache.Len())
	}

	// Everything ages past the TTL; the next Mark crosses the size
	// threshold and sweeps the stale ids out.
	current = current.Add(2 * time.Hour)
	if err := cache.Mark(ctx, "evt_new"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("expected sweep to leave only the new entry, got %d", cache.Len())
	}

	seen, _ := cache.Seen(ctx, "evt_new")
	if !seen {
		t.Error("expected the new event to remain suppressed")
	}
}

func TestEventCacheConcurrentAccess(t *testing.T) {
	cache := NewEventCache(time.Hour)
	ctx := context.Background()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("evt_%d_%d", g, i)
				_ = cache.Mark(ctx, id)
				if seen, _ := cache.Seen(ctx, id); !seen {
					t.Errorf("event %s lost", id)
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if cache.Len() != 800 {
		t.Errorf("expected 800 entries, got %d", cache.Len())
	}
}
