package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool runs blocking work on at most size goroutines at a time. Submitted
// tasks always run to completion; a caller that stops waiting only gives up
// the result.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	wg     sync.WaitGroup
	active atomic.Int64
	logger *zap.Logger
}

// NewPool creates a pool of the given size (minimum 1).
func NewPool(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger.Named("workers"),
	}
}

// Outcome is the completion signal of a submitted task.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Submit schedules task and returns a channel that receives exactly one
// Outcome. The channel is buffered so an abandoned task never leaks.
func Submit[T any](p *Pool, task func() (T, error)) <-chan Outcome[T] {
	done := make(chan Outcome[T], 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Background context: queued tasks are never dropped.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)

		p.active.Add(1)
		defer p.active.Add(-1)

		var out Outcome[T]
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", zap.Any("panic", r))
				out = Outcome[T]{Err: fmt.Errorf("worker task panicked: %v", r)}
			}
			done <- out
		}()
		out.Value, out.Err = task()
	}()
	return done
}

// Await blocks until the task finishes or ctx ends, whichever is first.
func Await[T any](ctx context.Context, done <-chan Outcome[T]) (T, error) {
	select {
	case out := <-done:
		return out.Value, out.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Run is Submit followed by Await.
func Run[T any](ctx context.Context, p *Pool, task func() (T, error)) (T, error) {
	return Await(ctx, Submit(p, task))
}

// Size is the maximum number of concurrently running tasks.
func (p *Pool) Size() int {
	return p.size
}

// Active is the number of tasks currently running.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Wait blocks until every submitted task has finished or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d running tasks: %w", p.Active(), ctx.Err())
	}
}
