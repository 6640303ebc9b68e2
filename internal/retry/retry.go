// Package retry provides exponential backoff for calls to flaky backends.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tao-dividends/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts, including the first
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Cap on any single delay
	Multiplier   float64       // Growth factor between delays
	// Retryable decides whether err warrants another attempt. Nil retries every error.
	Retryable func(err error) bool
}

// DefaultConfig returns the default retry configuration.
// Pattern: 1s, 2s, 4s, 8s, max 30s
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Result describes a finished retry loop
type Result struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done
func Do(ctx context.Context, config *Config, fn Func) *Result {
	logger := logging.FromContext(ctx)
	start := time.Now()
	result := &Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Info("Operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if config.Retryable != nil && !config.Retryable(err) {
			break
		}
		if attempt >= config.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts": attempt,
				"error":    err.Error(),
			}).Error("Operation failed after max retry attempts")
			break
		}

		delay := Delay(config, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		if err := Sleep(ctx, delay); err != nil {
			result.LastError = err
			break
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// WithRetry runs fn with config and returns the last error on failure
func WithRetry(ctx context.Context, config *Config, fn Func) error {
	result := Do(ctx, config, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// Delay returns the wait after the given failed attempt:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay
func Delay(config *Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff tracks consecutive failures of a long-running loop
type Backoff struct {
	config   *Config
	failures int
}

// NewBackoff creates a backoff following config's delay curve
func NewBackoff(config *Config) *Backoff {
	return &Backoff{config: config}
}

// Next records a failure and returns the delay to wait before trying again
func (b *Backoff) Next() time.Duration {
	b.failures++
	return Delay(b.config, b.failures)
}

// Reset clears the failure count after a success
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the current consecutive failure count
func (b *Backoff) Failures() int {
	return b.failures
}
