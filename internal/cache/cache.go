// Package cache provides a content-addressed result cache: identical input
// bytes from the same owner always map to the same entry, so expensive
// remote work is never repeated.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/store"
)

// Fingerprint returns the hex sha256 digest of the exact bytes that will be
// sent to the external provider.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Config holds cache tuning.
type Config struct {
	// TTL is the fixed expiry applied on every Set.
	TTL time.Duration `yaml:"ttl" env:"CACHE_TTL"`
}

// ResultCache maps (owner, fingerprint) to a serialized result.
type ResultCache struct {
	store store.Store
	ttl   time.Duration
	log   logger.Logger
}

// New creates a result cache over the given store.
func New(st store.Store, cfg Config, log logger.Logger) *ResultCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ResultCache{store: st, ttl: cfg.TTL, log: log}
}

// Get looks up a previously stored result and unmarshals it into dest.
// Misses, store failures, and corrupted entries all report false; a
// corrupted entry self-heals on the next Set.
func (c *ResultCache) Get(ctx context.Context, ownerID int64, fingerprint string, dest any) bool {
	key := c.key(ownerID, fingerprint)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("result cache read failed", logger.String("key", key), logger.Error(err))
		return false
	}
	if data == nil {
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Warn("discarding corrupted cache entry", logger.String("key", key), logger.Error(err))
		return false
	}
	return true
}

// Set serializes value and stores it under (owner, fingerprint), fully
// replacing any existing entry. Failures are logged, not fatal: the cache
// is an optimization, never a source of truth.
func (c *ResultCache) Set(ctx context.Context, ownerID int64, fingerprint string, value any) {
	key := c.key(ownerID, fingerprint)

	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("result cache marshal failed", logger.String("key", key), logger.Error(err))
		return
	}

	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.log.Warn("result cache write failed", logger.String("key", key), logger.Error(err))
	}
}

// key namespaces entries by owner so one owner can never read another's
// cached result.
func (c *ResultCache) key(ownerID int64, fingerprint string) string {
	return fmt.Sprintf("transcription:%d:%s", ownerID, fingerprint)
}
