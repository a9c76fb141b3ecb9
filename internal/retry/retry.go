// Package retry provides error classification and backoff for transient
// failures at the tool invocation boundary.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/velocityhq/velocity/pkg/schema"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     string        `json:"backoff"` // "exponential", "linear", "constant"
	Delay       time.Duration `json:"delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Jitter      bool          `json:"jitter"`
}

// DefaultPolicy matches the provider-facing defaults: up to 3 attempts with
// exponential backoff from 2s, capped at 30s, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     "exponential",
		Delay:       2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// IsRetryable classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: validation errors, cancelled contexts, typed EngineErrors
// with non-retryable codes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancellation means the run is shutting down, never retry.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return IsRateLimited(err)
}

// IsRateLimited reports whether an error looks like a provider rate limit.
// These are always worth backing off on, across provider phrasing variants.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"rate limit",
		"rate_limit",
		"ratelimit",
		"quota exceeded",
		"resource exhausted",
		"resourceexhausted",
		"429",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// NextDelay calculates the delay before the given zero-based attempt is
// retried, applying the policy's curve, cap, and jitter.
func (p Policy) NextDelay(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.curve() {
	case "exponential":
		delay = p.Delay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				break
			}
		}
	case "linear":
		delay = p.Delay * time.Duration(attempt+1)
	default:
		delay = p.Delay
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	// Jitter spreads simultaneous retries by +/- 25%.
	if p.Jitter && delay > 0 {
		f := 0.75 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * f)
	}

	return delay
}

func (p Policy) curve() string {
	if p.Backoff == "" {
		return "exponential"
	}
	return p.Backoff
}

// Wait sleeps for the delay or returns early when the context is cancelled.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn up to the policy's attempt limit, backing off between
// retryable failures. The last error is returned wrapped when every
// attempt fails.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := Wait(ctx, policy.NextDelay(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return schema.NewErrorf(schema.ErrCodeRetryExhausted, "gave up after %d attempts", attempts).WithCause(lastErr)
}
