package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T, workers, queueSize int) *WorkerPool {
	t.Helper()
	return NewWorkerPool(context.Background(), workers, queueSize, "test", zap.NewNop().Sugar())
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := newTestPool(t, 2, 4)
	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolNotRunning)
}

func TestWorkerPoolProcessesAllTasks(t *testing.T) {
	pool := newTestPool(t, 4, 32)
	pool.Start()

	var processed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			processed.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	pool.Stop()

	assert.Equal(t, int64(20), processed.Load())
}

func TestWorkerPoolQueueFull(t *testing.T) {
	pool := newTestPool(t, 1, 1)
	pool.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// Single worker is blocked, so the queue slot stays occupied.
	require.NoError(t, pool.Submit(func() {}))
	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolQueueFull)

	close(release)
	pool.Stop()
}

func TestWorkerPoolCancelRunsQueuedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(ctx, 1, 64, "test", zap.NewNop().Sugar())
	pool.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	var processed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			processed.Add(1)
		}))
	}

	// Cancel with the worker blocked and 20 tasks queued behind it.
	cancel()
	assert.ErrorIs(t, pool.Submit(func() {}), ErrWorkerPoolNotRunning)
	close(release)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued tasks were stranded after context cancel")
	}
	assert.Equal(t, int64(20), processed.Load())
	pool.Stop()
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := newTestPool(t, 1, 4)
	pool.Start()
	pool.Stop()

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolNotRunning)
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	pool := newTestPool(t, 1, 4)
	pool.Start()

	panicked := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(panicked)
		panic("boom")
	}))
	<-panicked

	done := make(chan struct{})
	deadline := time.After(5 * time.Second)
	require.NoError(t, pool.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-deadline:
		t.Fatal("worker did not survive task panic")
	}
	pool.Stop()
}

func TestWorkerPoolStartIdempotent(t *testing.T) {
	pool := newTestPool(t, 2, 4)
	pool.Start()
	pool.Start()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pool.Submit(func() {
		defer wg.Done()
		ran.Store(true)
	}))
	wg.Wait()
	pool.Stop()
	pool.Stop()

	assert.True(t, ran.Load())
}
