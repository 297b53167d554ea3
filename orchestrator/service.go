// Package orchestrator is the entry point for retouch requests. It owns
// service-level lazy initialization, offloads blocking work to a worker
// pool and turns every failure into a tagged *Failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"retouch_backend/enhance"
	"retouch_backend/logging"
	"retouch_backend/sdruntime"
)

// State is the service lifecycle. The only transitions are
// uninitialized -> loading -> ready, and loading -> uninitialized when a
// load fails.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Capabilities is what the service can do once loaded.
var Capabilities = []string{"txt2img", "img2img", "inpaint", "enhance_faces", "upscale"}

// Options configures a Service.
type Options struct {
	Pipelines sdruntime.PipelineConfig
	Provider  sdruntime.Provider

	// Workers bounds concurrent blocking work. Defaults to 2.
	Workers int

	// Selector picks the device during the first load. nil probes hardware.
	Selector *sdruntime.DeviceSelector

	// NewComposer builds the enhancement composer during the first load.
	// nil uses enhance.NewComposer.
	NewComposer func(*zap.Logger) *enhance.Composer

	Recorders []Recorder
	Logger    *zap.Logger
}

// components is everything built by the first load.
type components struct {
	device     sdruntime.DeviceKind
	registry   *sdruntime.Registry
	dispatcher *sdruntime.Dispatcher
	composer   *enhance.Composer
}

// Service is safe for concurrent use. Construct it once and share it.
type Service struct {
	opts   Options
	pool   *Pool
	logger *zap.Logger

	state atomic.Int32
	rt    atomic.Pointer[components]
	mu    sync.Mutex // guards the load transition only
	loads atomic.Int64
}

func New(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, errors.New("orchestrator: a capability provider is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Selector == nil {
		opts.Selector = sdruntime.NewDeviceSelector(opts.Logger)
	}
	if opts.NewComposer == nil {
		opts.NewComposer = enhance.NewComposer
	}
	logger := opts.Logger.Named("orchestrator")
	return &Service{
		opts:   opts,
		pool:   NewPool(opts.Workers, logger),
		logger: logger,
	}, nil
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Loads counts load transitions performed. It is 1 after any number of
// successful EnsureLoaded calls.
func (s *Service) Loads() int64 {
	return s.loads.Load()
}

// Pool exposes the worker pool so shutdown can drain it.
func (s *Service) Pool() *Pool {
	return s.pool
}

// EnsureLoaded selects the device and creates the pipeline registry and
// composer exactly once. No pipeline is built here. Concurrent callers
// wait for the single load; once ready the check is lock-free. A caller
// whose ctx ends stops waiting but the load still completes.
func (s *Service) EnsureLoaded(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}
	_, err := Run(ctx, s.pool, func() (struct{}, error) {
		return struct{}{}, s.load()
	})
	if err != nil {
		return classify(err, FailureConstruction)
	}
	return nil
}

// Warmup is EnsureLoaded under the name used at process start.
func (s *Service) Warmup(ctx context.Context) error {
	return s.EnsureLoaded(ctx)
}

func (s *Service) load() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateReady {
		return nil
	}
	s.state.Store(int32(StateLoading))
	s.loads.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service load panicked: %v", r)
		}
		if err != nil {
			s.state.Store(int32(StateUninitialized))
			s.logger.Error("service load failed", zap.Error(err))
		}
	}()

	device := s.opts.Selector.Select(context.Background(), s.opts.Pipelines.DeviceOverride)
	registry := sdruntime.NewRegistry(s.opts.Pipelines, device, s.opts.Provider, s.opts.Logger)
	rt := &components{
		device:     device,
		registry:   registry,
		dispatcher: sdruntime.NewDispatcher(registry, s.opts.Logger),
		composer:   s.opts.NewComposer(s.opts.Logger),
	}
	if rt.composer == nil {
		return errors.New("composer factory returned nil")
	}

	s.rt.Store(rt)
	s.state.Store(int32(StateReady))
	s.logger.Info("service ready",
		zap.String("device", string(device)),
		zap.String("provider", s.opts.Provider.Name()),
		zap.Int("workers", s.pool.Size()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Health loads the service if needed and reports its status.
type Health struct {
	Loaded         bool                 `json:"loaded"`
	Device         sdruntime.DeviceKind `json:"device"`
	Capabilities   []string             `json:"capabilities"`
	LoadedFamilies []sdruntime.Family   `json:"loaded_families"`
}

func (s *Service) Health(ctx context.Context) (Health, error) {
	if err := s.EnsureLoaded(ctx); err != nil {
		// No device has been selected yet.
		return Health{Loaded: false, Capabilities: Capabilities}, err
	}
	rt := s.rt.Load()
	return Health{
		Loaded:         true,
		Device:         rt.device,
		Capabilities:   Capabilities,
		LoadedFamilies: rt.registry.LoadedFamilies(),
	}, nil
}

// Process runs one request end to end: load, decode, generate, enhance,
// encode. Generation and enhancement run on the worker pool under a
// context detached from ctx, so they finish even if the caller leaves.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	if req.Operation == "" {
		req.Operation = sdruntime.DefaultOperation
	}

	res, err := s.process(ctx, req, id)
	s.record(req, id, start, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) process(ctx context.Context, req Request, id string) (*Result, error) {
	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	rt := s.rt.Load()
	log := s.logger.With(zap.String("request_id", id), zap.String("operation", req.Operation))

	genReq, err := decodeRequest(req)
	if err != nil {
		log.Info("rejected request", zap.Error(err))
		return nil, classify(err, FailureValidation)
	}

	work := context.WithoutCancel(ctx)
	gen, err := Run(ctx, s.pool, func() (*sdruntime.Generation, error) {
		return rt.dispatcher.Generate(work, genReq)
	})
	if err != nil {
		log.Warn("generation failed", zap.Error(err))
		return nil, classify(err, FailureInference)
	}

	img := gen.Image
	enhanced := req.EnhanceFaces || (req.Upscale && req.UpscaleScale > 1)
	if req.Upscale {
		if err := enhance.CheckScale(img.Bounds(), req.UpscaleScale); err != nil {
			log.Info("rejected upscale", zap.Error(err))
			return nil, newFailure(FailureValidation, err)
		}
	}
	if enhanced {
		img, err = Run(ctx, s.pool, func() (image.Image, error) {
			return rt.composer.Apply(gen.Image, req.EnhanceFaces, req.Upscale, req.UpscaleScale)
		})
		if err != nil {
			log.Warn("enhancement failed", zap.Error(err))
			return nil, classify(err, FailureEnhancement)
		}
	}

	png, err := sdruntime.EncodePNG(img)
	if err != nil {
		return nil, newFailure(FailureInference, err)
	}

	b := img.Bounds()
	res := &Result{
		ID:       id,
		ImagePNG: png,
		Meta: Meta{
			Operation:     req.Operation,
			Strength:      req.Strength,
			GuidanceScale: req.GuidanceScale,
			Steps:         req.Steps,
			Seed:          gen.Seed,
		},
		Model:  gen.Model,
		Device: rt.device,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
	return res, nil
}

// decodeRequest resolves the operation name and decodes image inputs.
// Undecodable inputs are validation failures.
func decodeRequest(req Request) (sdruntime.GenerationRequest, error) {
	family, err := sdruntime.ParseOperation(req.Operation)
	if err != nil {
		return sdruntime.GenerationRequest{}, err
	}
	if req.Upscale && req.UpscaleScale > enhance.MaxScale {
		return sdruntime.GenerationRequest{}, newFailure(FailureValidation,
			fmt.Errorf("upscale_scale %d exceeds maximum %d", req.UpscaleScale, enhance.MaxScale))
	}
	out := sdruntime.GenerationRequest{
		Operation:     family,
		Prompt:        req.Prompt,
		Strength:      req.Strength,
		GuidanceScale: req.GuidanceScale,
		Steps:         req.Steps,
		Seed:          req.Seed,
	}
	if len(req.Image) > 0 {
		img, err := sdruntime.DecodeImage(req.Image)
		if err != nil {
			return out, newFailure(FailureValidation, fmt.Errorf("image: %w", err))
		}
		if req.Upscale {
			if err := enhance.CheckScale(img.Bounds(), req.UpscaleScale); err != nil {
				return out, newFailure(FailureValidation, err)
			}
		}
		out.Image = img
	}
	if len(req.Mask) > 0 {
		mask, err := sdruntime.DecodeMask(req.Mask)
		if err != nil {
			return out, newFailure(FailureValidation, fmt.Errorf("mask: %w", err))
		}
		out.Mask = mask
	}
	return out, nil
}

func (s *Service) record(req Request, id string, start time.Time, res *Result, err error) {
	rec := Record{
		ID:            id,
		Operation:     req.Operation,
		Prompt:        req.Prompt,
		Strength:      req.Strength,
		GuidanceScale: req.GuidanceScale,
		Steps:         req.Steps,
		Seed:          req.Seed,
		EnhanceFaces:  req.EnhanceFaces,
		Upscale:       req.Upscale,
		UpscaleScale:  req.UpscaleScale,
		Duration:      time.Since(start),
		CreatedAt:     start.UTC(),
	}
	if rt := s.rt.Load(); rt != nil {
		rec.Device = string(rt.device)
	}

	if err != nil {
		rec.Status = StatusFailed
		if f, ok := AsFailure(err); ok {
			rec.FailureKind = f.Kind
			rec.Message = f.Message
		} else {
			rec.Message = err.Error()
		}
	} else {
		rec.Status = StatusSucceeded
		rec.Model = res.Model
		rec.Width, rec.Height = res.Width, res.Height
		seed := res.Meta.Seed
		rec.Seed = &seed

		s.logger.Info("retouch complete",
			zap.String("request_id", id),
			logging.GenerationFields(logging.GenerationMetrics{
				Operation: req.Operation,
				Device:    rec.Device,
				Width:     res.Width,
				Height:    res.Height,
				Seed:      seed,
				Steps:     req.Steps,
				Enhanced:  req.EnhanceFaces || req.Upscale,
				Duration:  rec.Duration,
			}))
	}

	for _, r := range s.opts.Recorders {
		r.Record(rec)
	}
}
