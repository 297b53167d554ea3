package sdruntime

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PipelineHandle is a constructed pipeline for one family. It is read-only
// after construction.
type PipelineHandle struct {
	family   Family
	modelID  string
	device   DeviceKind
	pipeline Pipeline

	// invokeMu serialises Invoke for non-reentrant pipelines; nil otherwise.
	invokeMu *sync.Mutex
}

func (h *PipelineHandle) Family() Family     { return h.family }
func (h *PipelineHandle) ModelID() string    { return h.modelID }
func (h *PipelineHandle) Device() DeviceKind { return h.device }

// Invoke runs the pipeline once.
func (h *PipelineHandle) Invoke(ctx context.Context, p InvokeParams) (img image.Image, err error) {
	if h.invokeMu != nil {
		h.invokeMu.Lock()
		defer h.invokeMu.Unlock()
	}
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("pipeline panicked: %v", r)
		}
	}()
	return h.pipeline.Invoke(ctx, p)
}

// familySlot holds one family's handle. handle is read without the lock on
// the fast path; mu guards only the build.
type familySlot struct {
	mu     sync.Mutex
	handle atomic.Pointer[PipelineHandle]
}

// Registry lazily builds at most one pipeline per family.
type Registry struct {
	cfg      PipelineConfig
	device   DeviceKind
	provider Provider
	logger   *zap.Logger

	slots         map[Family]*familySlot
	constructions atomic.Int64
}

// NewRegistry binds cfg to device. No pipeline is built here.
func NewRegistry(cfg PipelineConfig, device DeviceKind, provider Provider, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	slots := make(map[Family]*familySlot, len(Families))
	for _, f := range Families {
		slots[f] = &familySlot{}
	}
	return &Registry{
		cfg:      cfg,
		device:   device,
		provider: provider,
		logger:   logger.Named("registry"),
		slots:    slots,
	}
}

// Device is the device every pipeline is bound to.
func (r *Registry) Device() DeviceKind {
	return r.device
}

// Ensure returns f's handle, building it on first use. Concurrent callers
// for the same family wait for a single build; other families are not
// blocked. A failed build is not cached.
func (r *Registry) Ensure(ctx context.Context, f Family) (*PipelineHandle, error) {
	slot, ok := r.slots[f]
	if !ok {
		return nil, &Error{Kind: KindValidation, Err: fmt.Errorf("%w: %q", ErrUnknownOperation, f)}
	}

	if h := slot.handle.Load(); h != nil {
		return h, nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if h := slot.handle.Load(); h != nil {
		return h, nil
	}

	h, err := r.construct(ctx, f)
	if err != nil {
		return nil, err
	}
	slot.handle.Store(h)
	return h, nil
}

func (r *Registry) construct(ctx context.Context, f Family) (h *PipelineHandle, err error) {
	modelID := r.cfg.ModelFor(f)
	log := r.logger.With(
		zap.String("family", string(f)),
		zap.String("model", modelID),
		zap.String("device", string(r.device)),
	)
	log.Info("constructing pipeline", zap.String("provider", r.provider.Name()))

	r.constructions.Add(1)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			h = nil
			err = &Error{Kind: KindConstruction, Family: f, Err: fmt.Errorf("%w: provider panicked: %v", ErrModelLoadFailed, rec)}
		}
		if err != nil {
			log.Error("pipeline construction failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		}
	}()

	pipeline, err := r.provider.Construct(ctx, ConstructParams{
		Family:               f,
		ModelID:              modelID,
		Device:               r.device,
		Precision:            r.device.Precision(),
		DisableSafetyChecker: true,
	})
	if err != nil {
		return nil, &Error{Kind: KindConstruction, Family: f, Err: err}
	}
	if pipeline == nil {
		return nil, &Error{Kind: KindConstruction, Family: f, Err: fmt.Errorf("%w: provider returned no pipeline", ErrModelLoadFailed)}
	}

	h = &PipelineHandle{
		family:   f,
		modelID:  modelID,
		device:   r.device,
		pipeline: pipeline,
	}
	if !isReentrant(pipeline) {
		h.invokeMu = &sync.Mutex{}
	}

	log.Info("pipeline ready",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("serialized", h.invokeMu != nil))
	return h, nil
}

// Loaded reports whether f has a constructed pipeline.
func (r *Registry) Loaded(f Family) bool {
	slot, ok := r.slots[f]
	return ok && slot.handle.Load() != nil
}

// LoadedFamilies lists constructed families in Families order.
func (r *Registry) LoadedFamilies() []Family {
	var out []Family
	for _, f := range Families {
		if r.Loaded(f) {
			out = append(out, f)
		}
	}
	return out
}

// Constructions counts build attempts, successful or not.
func (r *Registry) Constructions() int64 {
	return r.constructions.Load()
}
