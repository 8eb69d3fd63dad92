// Package retry provides bounded exponential backoff for remote calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig is tuned for short in-call retries; longer-horizon
// retries belong to the outbox, not the transport.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. retryable classifies errors; a nil
// classifier retries everything. The last error is returned as-is.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, op func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delay(attempt)
		log.Debug().
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Retrying after transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// delay computes the wait before the next attempt, with optional jitter
// of up to 25% to spread concurrent retriers.
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && d > max {
		d = max
	}
	if c.Jitter {
		d += d * 0.25 * rand.Float64()
	}
	return time.Duration(d)
}
