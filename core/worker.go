package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"opspulse/metrics"

	"go.uber.org/zap"
)

// Worker pool errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)

// WorkerPool runs independent tasks with bounded concurrency. The evaluation
// run fans out per-tenant work through it; tasks must not share mutable state.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
	poolName  string
}

// NewWorkerPool creates a pool; workers start on Start and stop on Stop.
// Cancelling parentCtx closes intake: Submit starts failing, already-queued
// tasks still run.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, poolName string, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if poolName == "" {
		poolName = "default"
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		poolName:  poolName,
	}
}

// Start launches the worker goroutines. Safe to call more than once.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}
	wp.running = true
	wp.logger.Infof("Starting worker pool %s with %d workers", wp.poolName, wp.workers)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolName).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains queued tasks and waits for workers, bounded by a timeout so a
// wedged task cannot deadlock shutdown.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}
	wp.running = false
	wp.cancel()
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool", wp.poolName)
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Worker pool shutdown timed out, goroutines leaked",
			"pool", wp.poolName, "workers", wp.workers)
	}
}

// Submit queues a task; returns an error when the pool is stopped, canceled,
// or full. Every accepted task runs exactly once, even if the pool context is
// canceled while it is still queued.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running || wp.ctx.Err() != nil {
		return ErrWorkerPoolNotRunning
	}
	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolName).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			// Submit rejects once the context is canceled, so the queue can
			// only shrink from here. Run everything already accepted until
			// Stop closes the channel; submitters waiting on those tasks must
			// not be stranded.
			wp.drain(id)
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			wp.runTask(id, task)
		}
	}
}

func (wp *WorkerPool) drain(id int) {
	for task := range wp.taskCh {
		wp.runTask(id, task)
	}
}

func (wp *WorkerPool) runTask(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Task panicked in worker",
				"pool", wp.poolName, "worker_id", id, "panic", r)
		}
	}()
	task()
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolName).Inc()
}
