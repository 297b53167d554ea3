package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout bounds how long StopWithTimeout waits for the queue.
const DefaultDrainTimeout = 30 * time.Second

// WriteOperation is one queued write.
type WriteOperation struct {
	Data      any
	Timestamp time.Time
}

// WriteHandler performs a queued write. Its error is logged and counted;
// the operation is not retried.
type WriteHandler func(ctx context.Context, op WriteOperation) error

// AsyncWriter runs writes on a background goroutine fed by a buffered
// channel, so callers on the request path never wait for SQLite.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	logger    *zap.Logger

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncWriter creates a writer whose queue holds capacity operations.
// A capacity below 1 uses DefaultChannelCapacity.
func NewAsyncWriter(handler WriteHandler, capacity int, logger *zap.Logger) *AsyncWriter {
	if capacity < 1 {
		capacity = DefaultChannelCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, capacity),
		handler:   handler,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Extra calls are no-ops.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case op := <-w.writeChan:
			w.handle(op)
		}
	}
}

func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.writeChan:
			w.handle(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handle(op WriteOperation) {
	// The writer's own context is already cancelled while draining.
	if err := w.handler(context.WithoutCancel(w.ctx), op); err != nil {
		w.failed.Add(1)
		w.logger.Warn("async write failed",
			zap.Error(err),
			zap.Duration("queued_for", time.Since(op.Timestamp)))
	}
}

// Write queues data without blocking. It returns false when the queue is
// full or the writer has been stopped.
func (w *AsyncWriter) Write(data any) bool {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		w.dropped.Add(1)
		return false
	}

	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Pending is the number of queued operations.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Dropped counts writes refused because the queue was full or closed.
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Failed counts writes whose handler returned an error.
func (w *AsyncWriter) Failed() int64 {
	return w.failed.Load()
}

// Stop refuses new writes, drains the queue and waits for the goroutine.
func (w *AsyncWriter) Stop() {
	w.StopWithTimeout(0)
}

// StopWithTimeout is Stop with a bound; a timeout of 0 waits forever. It
// reports whether the queue drained in time.
func (w *AsyncWriter) StopWithTimeout(timeout time.Duration) bool {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
