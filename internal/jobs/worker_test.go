package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	pool.Wait()

	assert.Equal(t, int64(5), ran.Load())
	m := pool.Metrics()
	assert.Equal(t, int64(5), m.Completed)
	assert.Equal(t, int64(0), m.Active)
}

func TestPoolCountsFailures(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))
	pool.Wait()

	assert.Equal(t, int64(1), pool.Metrics().Failed)
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		panic("worker exploded")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)

	// The slot was released; new work still runs.
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}

func TestPoolBackpressureRespectsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	// Pool is full: a submit with a short deadline gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Wait()
}

func TestDispatchReturnsWhilePoolSaturated(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	// The only slot is held, yet the hand-off must not block the caller.
	var ran atomic.Bool
	start := time.Now()
	require.NoError(t, pool.Dispatch(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, ran.Load())

	close(release)
	pool.Wait()
	assert.True(t, ran.Load())
	assert.Equal(t, int64(2), pool.Metrics().Completed)
}

func TestDispatchAbandonsOnCancelledContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	require.NoError(t, pool.Dispatch(ctx, func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	cancel()
	// Give the queued hand-off time to observe the cancellation while the
	// slot is still held, then free the pool.
	time.Sleep(50 * time.Millisecond)

	close(release)
	pool.Wait()
	assert.False(t, ran.Load())
}

func TestDispatchRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Dispatch(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestPoolShutdownRejectsNewWork(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)

	// Shutdown twice is safe.
	pool.Shutdown()
}

func TestPoolShutdownWaitsForActiveWork(t *testing.T) {
	pool := NewWorkerPool(1)

	var finished atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	pool.Shutdown()
	assert.True(t, finished.Load())
}

func TestNewWorkerPoolClampsSize(t *testing.T) {
	pool := NewWorkerPool(0)
	defer pool.Shutdown()
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}
