package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"retouch_backend/core"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager ties together signal handling, the in-flight OperationTracker and
// the cleanup Registry.
//
//	m := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	m.Register("http", 10, shutdown.HTTPServer(srv))
//	m.Start()
//	<-m.Context().Done()
//	err := m.Shutdown()
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *Registry
	signals  *SignalCounter
	sigChan  chan os.Signal

	mu       sync.Mutex
	started  bool
	shutdown bool
	exitCode int
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the shutdown budget. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithForceExit replaces the second-signal handler, which defaults to
// os.Exit(1).
func WithForceExit(fn func()) Option {
	return func(m *Manager) {
		m.signals = NewSignalCounter(2, fn)
	}
}

func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  DefaultTimeout,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 2),
		exitCode: core.ExitCodeSuccess,
	}
	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("second signal received, exiting immediately")
		os.Exit(core.ExitCodeError)
	})
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup function; see Registry for priorities.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. The first cancels Context; the
// second forces exit.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Increment() != 1 {
		return
	}
	m.mu.Lock()
	if sig == syscall.SIGTERM {
		m.exitCode = core.ExitCodeSIGTERM
	} else {
		m.exitCode = core.ExitCodeSIGINT
	}
	m.mu.Unlock()
	m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	m.cancel()
}

// Trigger begins shutdown without a signal, for example when the HTTP
// server fails.
func (m *Manager) Trigger(reason string) {
	m.logger.Info("shutdown triggered", zap.String("reason", reason))
	m.cancel()
}

// ExitCode is the process exit code implied by what started shutdown.
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// Track registers an in-flight operation. It returns ErrTrackerClosed once
// shutdown has begun; otherwise the caller must call the returned func.
func (m *Manager) Track() (func(), error) {
	if !m.tracker.Start() {
		return nil, ErrTrackerClosed
	}
	var once sync.Once
	return func() { once.Do(m.tracker.Done) }, nil
}

// ActiveOperations is the number of tracked operations still running.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

func (m *Manager) IsShuttingDown() bool {
	return m.tracker.IsClosed()
}

// RegisteredHandlers lists cleanup functions in run order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}

// Shutdown rejects new operations, waits for running ones and then runs
// the registry, all within the configured timeout. It is idempotent.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.tracker.Close()
	if n := m.tracker.ActiveCount(); n > 0 {
		m.logger.Info("waiting for in-flight operations", zap.Int64("active", n))
	}
	var errs []error
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("in-flight operations did not finish",
			zap.Int64("remaining", m.tracker.ActiveCount()),
			zap.Duration("waited", time.Since(start)))
		errs = append(errs, fmt.Errorf("waiting for operations: %w", err))
	}

	// Cleanup always gets at least a second, even after a slow drain.
	cleanupCtx := ctx
	if ctx.Err() != nil {
		var c context.CancelFunc
		cleanupCtx, c = context.WithTimeout(context.Background(), time.Second)
		defer c()
	}
	for _, err := range m.registry.Run(cleanupCtx) {
		m.logger.Error("cleanup failed", zap.Error(err))
		errs = append(errs, err)
	}

	if started {
		signal.Stop(m.sigChan)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}
