// Package ratelimit implements per-owner sliding-window admission control
// over burst, minute, and hour windows, backed by a shared counter store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echoscribe/echoscribe/internal/faults"
	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/store"
)

// ErrRateLimited is returned by callers when admission is denied. The
// limiter itself only answers yes/no; the orchestrator attaches this error.
var ErrRateLimited = faults.Tag(errors.New("rate limit exceeded"), faults.RateLimited)

// Config holds the per-scope ceilings.
type Config struct {
	// Burst is the ceiling for any 10-second window.
	Burst int `yaml:"burst" env:"RATE_LIMIT_BURST"`
	// PerMinute is the ceiling for any one-minute window.
	PerMinute int `yaml:"per_minute" env:"RATE_LIMIT_PER_MINUTE"`
	// PerHour is the ceiling for any one-hour window.
	PerHour int `yaml:"per_hour" env:"RATE_LIMIT_PER_HOUR"`
}

func (c *Config) setDefaults() {
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.PerMinute <= 0 {
		c.PerMinute = 30
	}
	if c.PerHour <= 0 {
		c.PerHour = 100
	}
}

type scope struct {
	name    string
	window  time.Duration
	ceiling int
}

// Limiter admits or rejects attempts per owner. Counting is best-effort:
// if the counter store is unavailable the limiter fails open with a logged
// warning rather than blocking work.
type Limiter struct {
	store  store.Store
	scopes []scope
	log    logger.Logger

	now func() time.Time
}

// NewLimiter creates a limiter over the given counter store.
func NewLimiter(st store.Store, cfg Config, log logger.Logger) *Limiter {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	return &Limiter{
		store: st,
		scopes: []scope{
			{name: "burst", window: 10 * time.Second, ceiling: cfg.Burst},
			{name: "minute", window: time.Minute, ceiling: cfg.PerMinute},
			{name: "hour", window: time.Hour, ceiling: cfg.PerHour},
		},
		log: log,
		now: time.Now,
	}
}

// Admit reports whether the owner may proceed. Every scope's counter is
// incremented before any ceiling is checked, so rejected and retried
// attempts are counted too; a retry storm cannot slip past the limiter.
func (l *Limiter) Admit(ctx context.Context, ownerID int64) bool {
	now := l.now()
	admitted := true

	for _, sc := range l.scopes {
		bucket := now.Unix() / int64(sc.window.Seconds())
		key := fmt.Sprintf("ratelimit:%d:%s:%d", ownerID, sc.name, bucket)
		ttl := time.Unix((bucket+1)*int64(sc.window.Seconds()), 0).Sub(now)

		count, err := l.store.IncrementWithTTL(ctx, key, ttl)
		if err != nil {
			l.log.Warn("rate limit counter unavailable, admitting",
				logger.String("key", key),
				logger.Error(err),
			)
			continue
		}

		if count > int64(sc.ceiling) {
			l.log.Warn("rate limit exceeded",
				logger.Int64("owner_id", ownerID),
				logger.String("scope", sc.name),
				logger.Int64("count", count),
				logger.Int("ceiling", sc.ceiling),
			)
			admitted = false
		}
	}

	return admitted
}
