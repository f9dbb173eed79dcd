// Package store defines the shared key-value store consumed by the rate
// limiter and result cache, with Redis and in-memory implementations. The
// contract every implementation must honor is that IncrementWithTTL is a
// single atomic operation: two concurrent increments of the same key must
// never observe the same count.
package store

import (
	"context"
	"time"
)

// Store is a key-value store with atomic increment-and-expire support.
type Store interface {
	// IncrementWithTTL atomically increments the counter at key, creating
	// it with the given expiry if absent, and returns the new count.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the value at key, or nil with no error on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key with the given expiry, replacing any
	// existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
