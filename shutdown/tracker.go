// Package shutdown coordinates graceful shutdown of the retouch backend:
// signal handling, draining in-flight requests and running cleanup in
// priority order.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrTrackerClosed is returned when an operation starts after shutdown began.
var ErrTrackerClosed = errors.New("shutdown: not accepting new operations")

// OperationTracker counts in-flight operations and lets shutdown wait for
// them.
type OperationTracker struct {
	mu     sync.RWMutex
	wg     sync.WaitGroup
	active atomic.Int64
	closed bool
}

func NewOperationTracker() *OperationTracker {
	return &OperationTracker{}
}

// Start registers an operation. When it returns true the caller must call
// Done exactly once.
func (t *OperationTracker) Start() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active.Add(1)
	return true
}

func (t *OperationTracker) Done() {
	t.active.Add(-1)
	t.wg.Done()
}

// Close stops new operations from starting. Running ones are unaffected.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until every started operation is done or ctx ends.
func (t *OperationTracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *OperationTracker) ActiveCount() int64 {
	return t.active.Load()
}

func (t *OperationTracker) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
