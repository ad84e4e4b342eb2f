package billing

import (
	"context"
	"sync"
	"time"
)

// DefaultEventTTL is how long a processed event id stays suppressed.
// Providers redeliver within hours; a day covers their retry schedules.
const DefaultEventTTL = 24 * time.Hour

// defaultSweepAtSize triggers an amortized sweep of expired entries
// when the cache grows past this many ids.
const defaultSweepAtSize = 4096

// ProcessedEvents suppresses redelivered webhook events. The guard is
// advisory: downstream writes must stay idempotent on their own, since
// a process-local cache cannot survive restarts or horizontal scaling.
type ProcessedEvents interface {
	// Seen reports whether the event id was marked within the TTL.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark records the event id as processed.
	Mark(ctx context.Context, eventID string) error
}

// EventCache is the in-process ProcessedEvents implementation: a
// concurrent map with TTL eviction. Entries are evicted lazily when
// queried past TTL, or in an amortized sweep once the map exceeds a
// size threshold. There is no background timer.
type EventCache struct {
	mu          sync.Mutex
	seen        map[string]time.Time
	ttl         time.Duration
	sweepAtSize int
	now         func() time.Time
}

// NewEventCache creates an in-process event cache. A non-positive ttl
// falls back to DefaultEventTTL.
func NewEventCache(ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &EventCache{
		seen:        make(map[string]time.Time),
		ttl:         ttl,
		sweepAtSize: defaultSweepAtSize,
		now:         time.Now,
	}
}

// Seen implements ProcessedEvents.
func (c *EventCache) Seen(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	firstSeen, ok := c.seen[eventID]
	if !ok {
		return false, nil
	}
	if c.now().Sub(firstSeen) > c.ttl {
		delete(c.seen, eventID)
		return false, nil
	}
	return true, nil
}

// Mark implements ProcessedEvents.
func (c *EventCache) Mark(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.seen) >= c.sweepAtSize {
		c.sweepExpired()
	}
	c.seen[eventID] = c.now()
	return nil
}

// Len returns the number of tracked ids, expired or not.
func (c *EventCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// sweepExpired removes entries older than the TTL. Caller holds mu.
func (c *EventCache) sweepExpired() {
	cutoff := c.now().Add(-c.ttl)
	for id, firstSeen := range c.seen {
		if firstSeen.Before(cutoff) {
			delete(c.seen, id)
		}
	}
}
