package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityhq/velocity/pkg/schema"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"service unavailable", errors.New("503 Service Unavailable"), true},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"quota", errors.New("quota exceeded for project"), true},
		{"plain failure", errors.New("invalid credentials"), false},
		{"retryable engine error", schema.NewError(schema.ErrCodeToolFailed, "slow upstream"), true},
		{"non-retryable engine error", schema.NewError(schema.ErrCodeValidation, "bad input"), false},
		{"wrapped engine error", schema.NewErrorf(schema.ErrCodeStore, "upstream").WithCause(errors.New("x")), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("Rate limit reached")))
	assert.True(t, IsRateLimited(errors.New("RESOURCE_EXHAUSTED: try later")))
	assert.False(t, IsRateLimited(errors.New("connection refused")))
	assert.False(t, IsRateLimited(nil))
}

func TestNextDelayExponential(t *testing.T) {
	p := Policy{Backoff: "exponential", Delay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(1))
	assert.Equal(t, 4*time.Second, p.NextDelay(2))
	// Capped at MaxDelay.
	assert.Equal(t, 10*time.Second, p.NextDelay(6))
}

func TestNextDelayLinear(t *testing.T) {
	p := Policy{Backoff: "linear", Delay: time.Second}

	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, 3*time.Second, p.NextDelay(2))
}

func TestNextDelayConstant(t *testing.T) {
	p := Policy{Backoff: "constant", Delay: 500 * time.Millisecond}

	assert.Equal(t, 500*time.Millisecond, p.NextDelay(0))
	assert.Equal(t, 500*time.Millisecond, p.NextDelay(5))
}

func TestNextDelayJitterStaysInBounds(t *testing.T) {
	p := Policy{Backoff: "constant", Delay: time.Second, Jitter: true}

	for i := 0; i < 50; i++ {
		d := p.NextDelay(0)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestNextDelayZero(t *testing.T) {
	p := Policy{Delay: 0}
	assert.Equal(t, time.Duration(0), p.NextDelay(3))
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitZeroDelay(t *testing.T) {
	require.NoError(t, Wait(context.Background(), 0))
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	policy := Policy{MaxAttempts: 3, Backoff: "constant", Delay: time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	failure := schema.NewError(schema.ErrCodeValidation, "bad input")
	err := Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		calls++
		return failure
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, failure)
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 2, Backoff: "constant", Delay: time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		return errors.New("i/o timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeRetryExhausted, engErr.Code)
}
