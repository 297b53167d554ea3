package shutdown

import (
	"context"
	"errors"
	"net/http"
	"time"

	"retouch_backend/core"

	"go.uber.org/zap"
)

// HTTPServer stops srv from accepting connections and waits for active
// handlers until ctx ends.
func HTTPServer(srv *http.Server) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Drainer is a queue that can be flushed within a bound, such as
// db.AsyncWriter.
type Drainer interface {
	StopWithTimeout(timeout time.Duration) bool
	Pending() int
}

// Drain flushes d using whatever remains of ctx's deadline.
func Drain(d Drainer, logger *zap.Logger) core.ShutdownFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		timeout := time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if timeout <= 0 {
			timeout = time.Millisecond
		}
		if !d.StopWithTimeout(timeout) {
			logger.Warn("queue not drained before deadline", zap.Int("pending", d.Pending()))
			return context.DeadlineExceeded
		}
		return nil
	}
}

// Closer adapts a plain Close method.
func Closer(close func() error) core.ShutdownFunc {
	return func(context.Context) error {
		return close()
	}
}

// SyncLogger flushes logger. Errors from syncing a terminal are ignored.
func SyncLogger(sync func() error) core.ShutdownFunc {
	return func(context.Context) error {
		_ = sync()
		return nil
	}
}
