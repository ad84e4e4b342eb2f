// Package redis provides a Redis-backed processed-event registry, the
// idempotency guard to use when multiple webhook instances share one
// delivery stream.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
)

// EventRegistry implements billing.ProcessedEvents using Redis.
type EventRegistry struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis event registry configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billing:event:").
	KeyPrefix string

	// EventTTL is how long a processed event id is remembered
	// (default: billing.DefaultEventTTL).
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "billing:event:",
		EventTTL:  billing.DefaultEventTTL,
	}
}

// New creates a new Redis event registry.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*EventRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "billing:event:"
	}
	if config.EventTTL <= 0 {
		config.EventTTL = billing.DefaultEventTTL
	}
	return &EventRegistry{client: client, config: config}, nil
}

func (r *EventRegistry) key(eventID string) string {
	return r.config.KeyPrefix + eventID
}

// Seen reports whether the event id was already processed.
func (r *EventRegistry) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// Mark records the event id as processed. SET NX keeps the first
// recorded timestamp if two instances race on the same delivery.
func (r *EventRegistry) Mark(ctx context.Context, eventID string) error {
	err := r.client.SetNX(ctx, r.key(eventID),
		time.Now().UTC().Format(time.RFC3339), r.config.EventTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return nil
}

// Ping verifies Redis connectivity.
func (r *EventRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
