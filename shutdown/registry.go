package shutdown

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"retouch_backend/core"
)

type entry struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// Registry holds cleanup functions. Lower priorities run first; equal
// priorities run in registration order.
//
// Priorities used by main:
//   - 10: HTTP server
//   - 20: background writers and publishers
//   - 30: databases
//   - 90: logger sync
type Registry struct {
	mu      sync.Mutex
	entries []entry
	ran     bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registrations after Run are ignored.
func (r *Registry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran {
		return
	}
	r.entries = append(r.entries, entry{name: name, priority: priority, fn: fn})
}

func (r *Registry) sorted() []entry {
	out := slices.Clone(r.entries)
	slices.SortStableFunc(out, func(a, b entry) int { return a.priority - b.priority })
	return out
}

// Run calls every function once, in order, even when earlier ones fail.
// It returns the failures with their names; a second Run returns nil.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil
	}
	r.ran = true
	entries := r.sorted()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := runOne(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func runOne(ctx context.Context, e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", e.name, r)
		}
	}()
	if err := e.fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

// Names lists registered functions in run order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}
