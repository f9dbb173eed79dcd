// Package retry provides bounded exponential backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/echoscribe/echoscribe/internal/faults"
)

// ErrRetriesExhausted is returned, wrapping the last underlying error, after
// the attempt budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	// BaseDelay is the backoff before the second attempt; attempt n waits
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY"`
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY"`
	// Jitter draws each wait uniformly from [0, backoff) so many concurrent
	// jobs retrying the same dependency do not synchronize.
	Jitter bool `yaml:"jitter" env:"RETRY_JITTER"`
	// IsRetryable decides whether an error is worth another attempt.
	// Defaults to faults.IsRetryable.
	IsRetryable func(error) bool `yaml:"-"`
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.IsRetryable == nil {
		c.IsRetryable = faults.IsRetryable
	}
}

// Do executes fn until it succeeds, a non-retryable error occurs, the
// context is cancelled, or the attempt budget is spent. Errors classified as
// non-retryable (including a circuit-open rejection from a breaker wrapped
// inside fn) propagate immediately, aborting the remaining schedule.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg.setDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, cfg.MaxAttempts, lastErr)
}

// backoff computes the wait before attempt+1.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay << (attempt - 1)
	if d <= 0 || d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}
