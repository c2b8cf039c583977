// Package retry runs operations with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/hupe1980/convoflow/logging"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxRetries int           // Retries after the first attempt
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Upper bound for a single delay
	Multiplier float64       // Exponential factor applied per attempt
	Jitter     bool          // Randomize delays by up to 10%
}

// DefaultConfig returns the configuration used for outbound HTTP calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Result describes the outcome of a retried operation.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a permanent error, the retries are
// exhausted or ctx ends. The returned error is the last one observed, with
// any permanent marker removed.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error, logger logging.Logger) (Result, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	start := time.Now()
	res := Result{}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		err := op(ctx)
		if err == nil {
			res.TotalDuration = time.Since(start)
			res.LastError = nil
			return res, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			res.LastError = perm.err
			res.TotalDuration = time.Since(start)
			return res, perm.err
		}
		res.LastError = err

		if attempt >= cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			res.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(cfg, attempt)
		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_attempts", cfg.MaxRetries+1, "delay", delay.String(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = ctx.Err()
			res.TotalDuration = time.Since(start)
			return res, res.LastError
		case <-timer.C:
		}
	}

	res.TotalDuration = time.Since(start)
	return res, res.LastError
}

// calculateDelay computes baseDelay * multiplier^attempt, capped at MaxDelay.
func calculateDelay(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(cfg.BaseDelay) * math.Pow(mult, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}

	return time.Duration(delay)
}
