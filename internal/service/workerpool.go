package service

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of background work.
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of goroutines. Submit never
// blocks: when the queue is full the task is dropped and counted.
type WorkerPool struct {
	workers int
	tasks   chan Task
	logger  zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewWorkerPool(workers, queueSize int, logger zerolog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		logger:  logger,
	}
}

// Start launches the workers. Tasks see ctx and stop when it is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx, wp.cancel = context.WithCancel(ctx)
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case task := <-wp.tasks:
			wp.run(task)
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("worker panic recovered")
		}
	}()
	task(wp.ctx)
}

// Submit queues task and reports whether it was accepted.
func (wp *WorkerPool) Submit(task Task) bool {
	if wp.ctx == nil || wp.ctx.Err() != nil {
		wp.dropped.Add(1)
		return false
	}
	select {
	case wp.tasks <- task:
		return true
	default:
		wp.dropped.Add(1)
		return false
	}
}

// Stop cancels running tasks and waits for the workers to exit. Queued
// tasks are discarded.
func (wp *WorkerPool) Stop() {
	if wp.cancel == nil {
		return
	}
	wp.cancel()
	wp.wg.Wait()
}

func (wp *WorkerPool) Dropped() int64 {
	return wp.dropped.Load()
}

func (wp *WorkerPool) QueueDepth() int {
	return len(wp.tasks)
}
