package shutdown

import (
	"context"
	"errors"
	"net"
	"net/http"
	"reflect"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"retouch_backend/core"

	"go.uber.org/zap/zaptest"
)

func TestOperationTracker(t *testing.T) {
	tr := NewOperationTracker()
	if !tr.Start() || !tr.Start() {
		t.Fatal("Start() = false on an open tracker")
	}
	if got := tr.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}

	tr.Close()
	if tr.Start() {
		t.Error("Start() = true after Close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}

	tr.Done()
	tr.Done()
	if err := tr.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v after all Done", err)
	}
}

func TestRegistry_OrderAndErrors(t *testing.T) {
	r := NewRegistry()
	var order []string
	add := func(name string, priority int, err error) {
		r.Register(name, priority, func(context.Context) error {
			order = append(order, name)
			return err
		})
	}
	add("db", 30, errors.New("locked"))
	add("http", 10, nil)
	add("writer", 20, nil)
	add("events", 20, nil)
	r.Register("boom", 40, func(context.Context) error { panic("bad handler") })
	add("logger", 90, nil)

	want := []string{"http", "writer", "events", "db", "boom", "logger"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	errs := r.Run(context.Background())
	if len(errs) != 2 {
		t.Fatalf("Run() returned %d errors, want 2: %v", len(errs), errs)
	}
	if errs[0].Error() != "db: locked" {
		t.Errorf("errs[0] = %q, want %q", errs[0], "db: locked")
	}
	if want := []string{"http", "writer", "events", "db", "logger"}; !reflect.DeepEqual(order, want) {
		t.Errorf("run order = %v, want %v", order, want)
	}

	if errs := r.Run(context.Background()); errs != nil {
		t.Errorf("second Run() = %v, want nil", errs)
	}
	r.Register("late", 1, nil)
	if len(r.Names()) != 6 {
		t.Error("registration after Run was accepted")
	}
}

func TestSignalCounter(t *testing.T) {
	var forced atomic.Int32
	s := NewSignalCounter(2, func() { forced.Add(1) })
	s.Increment()
	if forced.Load() != 0 {
		t.Error("forced after one signal")
	}
	s.Increment()
	s.Increment()
	if forced.Load() != 1 || s.Count() != 3 {
		t.Errorf("forced = %d, Count() = %d, want 1, 3", forced.Load(), s.Count())
	}
}

func TestManager_SignalSetsExitCode(t *testing.T) {
	var forced atomic.Bool
	m := NewManager(zaptest.NewLogger(t), WithForceExit(func() { forced.Store(true) }))

	m.handleSignal(syscall.SIGTERM)
	select {
	case <-m.Context().Done():
	default:
		t.Fatal("Context() not cancelled by signal")
	}
	if m.ExitCode() != core.ExitCodeSIGTERM {
		t.Errorf("ExitCode() = %d, want %d", m.ExitCode(), core.ExitCodeSIGTERM)
	}

	m.handleSignal(syscall.SIGINT)
	if !forced.Load() {
		t.Error("second signal did not force exit")
	}
	if m.ExitCode() != core.ExitCodeSIGTERM {
		t.Error("second signal changed the exit code")
	}
}

func TestManager_ShutdownWaitsForOperations(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), WithTimeout(2*time.Second))
	var cleaned atomic.Bool
	m.Register("cleanup", 10, func(context.Context) error {
		cleaned.Store(true)
		return nil
	})

	done, err := m.Track()
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	var finished atomic.Bool
	go func() {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		done()
		done()
	}()

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !finished.Load() {
		t.Error("Shutdown returned before the operation finished")
	}
	if !cleaned.Load() {
		t.Error("cleanup did not run")
	}
	if _, err := m.Track(); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("Track() after shutdown error = %v, want ErrTrackerClosed", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestManager_ShutdownTimeout(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), WithTimeout(30*time.Millisecond))
	var cleaned atomic.Bool
	m.Register("cleanup", 10, func(ctx context.Context) error {
		if ctx.Err() != nil {
			t.Error("cleanup got an expired context")
		}
		cleaned.Store(true)
		return nil
	})
	done, _ := m.Track()
	defer done()

	err := m.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if !cleaned.Load() {
		t.Error("cleanup skipped after drain timeout")
	}
	if !m.IsShuttingDown() {
		t.Error("IsShuttingDown() = false")
	}
}

type fakeDrainer struct {
	drained bool
	got     time.Duration
}

func (f *fakeDrainer) StopWithTimeout(d time.Duration) bool { f.got = d; return f.drained }
func (f *fakeDrainer) Pending() int                         { return 3 }

func TestDrain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ok := &fakeDrainer{drained: true}
	if err := Drain(ok, nil)(ctx); err != nil {
		t.Errorf("Drain() error = %v", err)
	}
	if ok.got <= 50*time.Second {
		t.Errorf("timeout passed = %v, want the remaining deadline", ok.got)
	}

	stuck := &fakeDrainer{}
	if err := Drain(stuck, zaptest.NewLogger(t))(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain() error = %v, want deadline exceeded", err)
	}
}

func TestHTTPServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	if err := HTTPServer(srv)(context.Background()); err != nil {
		t.Fatalf("HTTPServer() error = %v", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve() = %v, want ErrServerClosed", err)
	}
}
