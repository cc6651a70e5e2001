// Package performance runs independent analysis jobs concurrently on a bounded
// number of workers.
package performance

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolStopped is returned when submitting to a pool that is not running.
var ErrPoolStopped = errors.New("worker pool is not running")

// WorkerPool runs submitted tasks on a fixed set of goroutines.
type WorkerPool struct {
	workers   int
	taskQueue chan func(context.Context)
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool

	tasksTotal atomic.Uint64
	tasksDone  atomic.Uint64
}

// NewWorkerPool creates a pool. workers <= 0 defaults to runtime.NumCPU().
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(context.Context), workers*4),
	}
}

// Start launches the workers. Tasks receive ctx.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.taskQueue {
		task(ctx)
		p.tasksDone.Add(1)
	}
}

// Submit queues a task, blocking while the queue is full. It fails when the pool
// is stopped or ctx is done first.
func (p *WorkerPool) Submit(ctx context.Context, task func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.taskQueue <- task:
		p.tasksTotal.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued tasks and waits for the workers to exit.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	return PoolStats{
		Workers:    p.workers,
		Running:    running,
		TasksTotal: p.tasksTotal.Load(),
		TasksDone:  p.tasksDone.Load(),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers    int    `json:"workers"`
	Running    bool   `json:"running"`
	TasksTotal uint64 `json:"tasks_total"`
	TasksDone  uint64 `json:"tasks_done"`
}

// Map applies fn to every item on a pool of workers and returns the results in
// input order. Items not started before ctx is done keep the zero value.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) R) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	pool := NewWorkerPool(min(workers, len(items)))
	pool.Start(ctx)

	var submitErr error
	for i, item := range items {
		i, item := i, item
		if err := pool.Submit(ctx, func(ctx context.Context) {
			results[i] = fn(ctx, item)
		}); err != nil {
			submitErr = err
			break
		}
	}
	pool.Stop()
	return results, submitErr
}
