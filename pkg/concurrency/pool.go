// Package concurrency wraps alitto/pond with the logging and sizing conventions used across the app
package concurrency

import (
	"context"
	"fmt"

	"index_trader/internal/core"

	"github.com/alitto/pond"
)

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	NonBlocking bool // If true, Submit() returns error instead of blocking when full
}

// WorkerPool wraps alitto/pond with panic logging and standardized config
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 64
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	// No pre-started workers: an idle worker makes pond queue every new task
	// behind it, and sibling agents must start together.
	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.Strategy(pond.Eager()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Worker pool panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: log,
	}
}

// Submit adds a task to the pool
func (wp *WorkerPool) Submit(task func()) error {
	if wp.pool.Stopped() {
		return fmt.Errorf("worker pool '%s' is stopped", wp.config.Name)
	}
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool '%s' is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}

	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait submits a task and waits for it to complete
func (wp *WorkerPool) SubmitAndWait(task func()) {
	group := wp.pool.Group()
	group.Submit(task)
	group.Wait()
}

// RunAll runs every task on the pool and waits for all of them. Unlike an
// errgroup it never cancels siblings: each task's error lands at its own index.
func (wp *WorkerPool) RunAll(ctx context.Context, tasks []func(ctx context.Context) error) []error {
	errs := make([]error, len(tasks))
	group := wp.pool.Group()
	for i, task := range tasks {
		i, task := i, task
		group.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("task panicked: %v", r)
				}
			}()
			errs[i] = task(ctx)
		})
	}
	group.Wait()
	return errs
}

// Stop stops the pool gracefully
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats returns pool statistics
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
	}
}
