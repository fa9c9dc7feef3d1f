// Package worker runs bounded-width fan-out work.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of work submitted to a Pool
type Task[T any] struct {
	Context context.Context
	Index   int
	Item    T
}

// Result pairs a task's output with its submission index
type Result[R any] struct {
	Index int
	Value R
}

// Pool manages a fixed set of worker goroutines
type Pool[T, R any] struct {
	name    string
	workers int
	tasks   chan Task[T]
	results chan Result[R]
	fn      func(ctx context.Context, item T) R
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool creates a pool of width workers that applies fn to each task
func NewPool[T, R any](name string, workers, queueSize int, fn func(ctx context.Context, item T) R) *Pool[T, R] {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool[T, R]{
		name:    name,
		workers: workers,
		tasks:   make(chan Task[T], queueSize),
		results: make(chan Result[R], queueSize),
		fn:      fn,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (p *Pool[T, R]) Start() {
	slog.Debug("Starting worker pool", "pool", p.name, "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the task channel, waits for the workers and closes Results
func (p *Pool[T, R]) Stop() {
	close(p.tasks)
	p.wg.Wait()
	close(p.results)
	p.cancel()

	slog.Debug("Worker pool stopped", "pool", p.name)
}

// Submit queues a task, blocking while the queue is full
func (p *Pool[T, R]) Submit(task Task[T]) error {
	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Results returns the results channel
func (p *Pool[T, R]) Results() <-chan Result[R] {
	return p.results
}

// QueueLength returns the number of tasks not yet picked up
func (p *Pool[T, R]) QueueLength() int {
	return len(p.tasks)
}

func (p *Pool[T, R]) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		ctx := task.Context
		if ctx == nil {
			ctx = p.ctx
		}
		value := p.fn(ctx, task.Item)

		select {
		case p.results <- Result[R]{Index: task.Index, Value: value}:
		case <-p.ctx.Done():
			return
		}
	}

	slog.Debug("Worker stopped", "pool", p.name, "worker_id", id)
}

// Map applies fn to every item with at most workers in flight and returns
// the outputs in input order.
func Map[T, R any](ctx context.Context, name string, workers int, items []T, fn func(ctx context.Context, item T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	if workers > len(items) {
		workers = len(items)
	}

	pool := NewPool(name, workers, len(items), fn)
	pool.Start()
	for i, item := range items {
		// The queue holds every item, so Submit never blocks here.
		_ = pool.Submit(Task[T]{Context: ctx, Index: i, Item: item})
	}

	go pool.Stop()
	for res := range pool.Results() {
		out[res.Index] = res.Value
	}
	return out
}
