package core

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"soctriage/metrics"
	"soctriage/util/goroutine"

	"go.uber.org/zap"
)

var poolTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
// The worker count is the hard bound on concurrently executing tasks.
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
	poolType  string // metrics label
}

// NewWorkerPool creates a worker pool bound to a background context
func NewWorkerPool(workers int, queueSize int, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), workers, queueSize, "default", logger)
}

// NewWorkerPoolWithContext creates a worker pool whose workers exit when parentCtx is cancelled.
// Workers are not started until Start is called. A non-positive worker count is raised to 1.
func NewWorkerPoolWithContext(parentCtx context.Context, workers int, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if poolType == "" {
		poolType = "default"
	}
	if !poolTypePattern.MatchString(poolType) {
		logger.Warnw("Invalid poolType, using default", "poolType", poolType)
		poolType = "default"
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		poolType:  poolType,
	}
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return nil
	}
	if wp.ctx.Err() != nil {
		return ErrWorkerPoolStopped
	}

	wp.running = true
	wp.logger.Debugw("Starting worker pool", "pool_type", wp.poolType, "workers", wp.workers, "queue_size", wp.queueSize)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	return nil
}

// Stop cancels the workers and waits for them to exit. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		wp.cancel()
		return
	}

	wp.running = false
	wp.logger.Debugw("Stopping worker pool", "pool_type", wp.poolType, "workers", wp.workers)

	wp.cancel()
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Debugw("Worker pool stopped", "pool_type", wp.poolType)
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Worker pool shutdown timed out - goroutines leaked",
			"pool_type", wp.poolType,
			"workers", wp.workers,
			"timeout_seconds", 30)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(-1)
		return
	}
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(0)
}

// Submit queues a task without blocking; it fails with ErrWorkerPoolQueueFull when the queue is full
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// SubmitContext queues a task, blocking until a slot frees up or ctx is done
func (wp *WorkerPool) SubmitContext(ctx context.Context, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.ctx.Done():
		return ErrWorkerPoolStopped
	}
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   wp.queueSize,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.poolType, wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			wp.run(id, task)
		}
	}
}

// run executes one task; a panicking task is logged and does not take the worker down
func (wp *WorkerPool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Task panicked in worker",
				"pool_type", wp.poolType,
				"worker_id", id,
				"panic", r)
		}
	}()
	task()
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
}

// WorkerPoolStats contains statistics about the worker pool
type WorkerPoolStats struct {
	Workers     int  `json:"workers"`
	QueueSize   int  `json:"queue_size"`
	Running     bool `json:"running"`
	QueuedTasks int  `json:"queued_tasks"`
}

// Errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
	ErrWorkerPoolStopped    = errors.New("worker pool stopped")
)
