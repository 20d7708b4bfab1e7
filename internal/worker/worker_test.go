package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewPool(Config{})
	pool.Start()

	var ran atomic.Int64
	for i := 0; i < 25; i++ {
		require.NoError(t, pool.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	pool.Stop()

	assert.Equal(t, int64(25), ran.Load())
	stats := pool.Stats()
	assert.Equal(t, uint64(25), stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.InFlight)
}

func TestPool_FailuresAreCountedNotReturned(t *testing.T) {
	pool := NewPool(Config{})

	require.NoError(t, pool.Submit("fail", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, pool.Submit("ok", func(ctx context.Context) error { return nil }))
	pool.Stop()

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestPool_PanicIsRecovered(t *testing.T) {
	pool := NewPool(Config{})

	require.NoError(t, pool.Submit("panic", func(ctx context.Context) error {
		panic("evaluation exploded")
	}))
	pool.Stop()

	assert.Equal(t, uint64(1), pool.Stats().Failed)
}

func TestPool_MaxInFlight(t *testing.T) {
	const limit = 3
	pool := NewPool(Config{MaxInFlight: limit})

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit("bounded", func(ctx context.Context) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}))
	}
	pool.Stop()

	assert.LessOrEqual(t, peak, limit)
	assert.Equal(t, uint64(20), pool.Stats().Processed)
}

func TestPool_SubmitReturnsBeforeTaskCompletes(t *testing.T) {
	pool := NewPool(Config{})
	release := make(chan struct{})

	start := time.Now()
	require.NoError(t, pool.Submit("slow", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.Eventually(t, func() bool { return pool.Stats().InFlight == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	pool.Stop()
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(Config{})
	pool.Stop()

	err := pool.Submit("late", func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_TaskTimeout(t *testing.T) {
	pool := NewPool(Config{TaskTimeout: 10 * time.Millisecond})

	require.NoError(t, pool.Submit("timeout", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	pool.Stop()

	assert.Equal(t, uint64(1), pool.Stats().Failed)
}

func TestPool_StopDrainsQueuedTasksWithLiveContext(t *testing.T) {
	p := NewPool(Config{MaxInFlight: 1})
	p.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	var queuedErr atomic.Value
	ran := make(chan struct{})
	require.NoError(t, p.Submit("queued", func(ctx context.Context) error {
		queuedErr.Store(fmt.Sprint(ctx.Err()))
		close(ran)
		return nil
	}))

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	assert.Eventually(t, func() bool {
		return errors.Is(p.Submit("late", func(context.Context) error { return nil }), ErrPoolStopped)
	}, time.Second, 5*time.Millisecond)
	close(release)

	<-stopped
	<-ran
	assert.Equal(t, "<nil>", queuedErr.Load())
	assert.Equal(t, uint64(2), p.Stats().Processed)
}
