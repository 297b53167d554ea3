package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"retouch_backend/api"
	"retouch_backend/core"
	"retouch_backend/db"
	"retouch_backend/events"
	"retouch_backend/logging"
	"retouch_backend/lut"
	"retouch_backend/metrics"
	"retouch_backend/orchestrator"
	"retouch_backend/sdruntime"
	"retouch_backend/segmentation"
	"retouch_backend/shutdown"

	"go.uber.org/zap"
)

// Shutdown priorities. Lower runs first.
const (
	priorityHTTP    = 10
	priorityWriters = 20
	priorityStores  = 30
	priorityLogger  = 90
)

// app is the wired process: one orchestrator service behind one HTTP
// server, plus the optional history store and event publisher.
type app struct {
	cfg    *core.Config
	logger *logging.Logger

	service   *orchestrator.Service
	store     *db.Database
	history   *db.History
	publisher *events.Publisher
	stats     *metrics.Store
	limiter   *api.RateLimiter
	server    *http.Server
}

// newApp builds every component from cfg. Nothing is started; the tracker
// gates mutating requests once shutdown begins.
func newApp(cfg *core.Config, logger *logging.Logger, tracker api.Tracker) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	zl := logger.Zap()

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	a.stats = metrics.NewStore(metrics.DefaultCapacity, time.Now())
	recorders := []orchestrator.Recorder{
		orchestrator.RecorderFunc(func(r orchestrator.Record) { a.stats.Record(sampleFor(r)) }),
	}
	if cfg.HistoryDBPath != "" {
		store, err := db.Open(cfg.HistoryDBPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.store = store
		a.history = db.NewHistory(store, zl)
		recorders = append(recorders, orchestrator.RecorderFunc(func(r orchestrator.Record) {
			a.history.Record(historyRecord(r))
		}))
	}
	if cfg.RedisURL != "" {
		pub, err := events.NewPublisher(events.Options{
			URL:    cfg.RedisURL,
			Key:    cfg.EventsKey,
			MaxLen: int64(cfg.EventsMaxLen),
		}, zl)
		if err != nil {
			a.closeStores()
			return nil, fmt.Errorf("events: %w", err)
		}
		a.publisher = pub
		recorders = append(recorders, orchestrator.RecorderFunc(func(r orchestrator.Record) {
			a.publisher.Enqueue(eventFor(r))
		}))
	}

	a.service, err = orchestrator.New(orchestrator.Options{
		Pipelines: sdruntime.PipelineConfig{
			BaseModel:      cfg.BaseModel,
			Img2ImgModel:   cfg.Img2ImgModel,
			InpaintModel:   cfg.InpaintModel,
			DeviceOverride: cfg.DeviceOverride,
		},
		Provider:  provider,
		Workers:   cfg.Workers,
		Recorders: recorders,
		Logger:    zl,
	})
	if err != nil {
		a.closeStores()
		return nil, err
	}

	catalog, err := lut.LoadCatalog(cfg.LUTPresetsFile)
	if err != nil {
		logger.Warn("falling back to built-in LUT presets", zap.Error(err))
		catalog = lut.NewCatalog()
	}

	if cfg.RateLimitPerMinute > 0 {
		a.limiter = api.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	opts := api.Options{
		Retoucher:      a.service,
		LUTs:           catalog,
		Segmenter:      segmentation.NewSegmenter(nil, zl),
		Stats:          a.stats,
		Tracker:        tracker,
		Limiter:        a.limiter,
		Prefix:         cfg.APIPrefix,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         zl,
	}
	// Leave the interfaces nil rather than holding nil pointers.
	if a.history != nil {
		opts.History = a.history
	}
	if a.publisher != nil {
		opts.Events = a.publisher
	}

	srv, err := api.NewServer(opts)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return a, nil
}

func newProvider(cfg *core.Config) (sdruntime.Provider, error) {
	switch cfg.Provider {
	case core.ProviderOpenAI:
		return sdruntime.NewOpenAIProvider(sdruntime.OpenAIProviderConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Size:    cfg.OpenAIImageSize,
		})
	case core.ProviderSynthetic:
		return sdruntime.NewSyntheticProvider(cfg.ImageSize), nil
	default:
		return nil, core.ErrUnknownProvider(cfg.Provider)
	}
}

// start launches background work tied to ctx. Warmup failures are logged;
// the next request retries the load.
func (a *app) start(ctx context.Context) {
	if a.history != nil {
		a.history.Start()
		if a.cfg.HistoryRetention > 0 {
			a.history.StartPruning(ctx, a.cfg.HistoryRetention, db.DefaultPruneInterval)
		}
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx, 5*time.Minute)
	}
	if a.publisher != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.publisher.Ping(pingCtx); err != nil {
			a.logger.Warn("redis unreachable, events will be dropped until it returns", zap.Error(err))
		}
		cancel()
	}
	if a.cfg.WarmupOnStart {
		go func() {
			if err := a.service.Warmup(ctx); err != nil {
				a.logger.Warn("warmup failed", zap.Error(err))
			}
		}()
	}
}

// serve blocks until the listener stops. A clean Shutdown returns nil.
func (a *app) serve() error {
	a.logger.Info("listening", zap.String("addr", a.server.Addr), zap.String("prefix", a.cfg.APIPrefix))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// register hands every resource to the shutdown manager. The HTTP server
// stops first so no new records arrive while the writers drain.
func (a *app) register(m *shutdown.Manager) {
	stopHTTP := shutdown.HTTPServer(a.server)
	m.Register("http", priorityHTTP, func(ctx context.Context) error {
		if err := stopHTTP(ctx); err != nil {
			return err
		}
		return a.service.Pool().Wait(ctx)
	})
	if a.history != nil {
		m.Register("history-writer", priorityWriters, shutdown.Drain(a.history.Writer(), a.logger.Zap()))
	}
	if a.publisher != nil {
		m.Register("events", priorityWriters, a.publisher.Close)
	}
	if a.store != nil {
		m.Register("history-db", priorityStores, shutdown.Closer(a.store.Close))
	}
	m.Register("logger", priorityLogger, shutdown.SyncLogger(a.logger.Sync))
}

// closeStores releases what newApp opened when a later step fails.
func (a *app) closeStores() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.publisher.Close(ctx)
	}
}

func historyRecord(r orchestrator.Record) db.GenerationRecord {
	return db.GenerationRecord{
		ID:            r.ID,
		Operation:     r.Operation,
		Prompt:        r.Prompt,
		Strength:      r.Strength,
		GuidanceScale: r.GuidanceScale,
		Steps:         r.Steps,
		Seed:          r.Seed,
		EnhanceFaces:  r.EnhanceFaces,
		Upscale:       r.Upscale,
		UpscaleScale:  r.UpscaleScale,
		Status:        r.Status,
		FailureKind:   string(r.FailureKind),
		Message:       r.Message,
		Device:        r.Device,
		Model:         r.Model,
		Width:         r.Width,
		Height:        r.Height,
		DurationMS:    r.Duration.Milliseconds(),
		CreatedAt:     r.CreatedAt,
	}
}

func eventFor(r orchestrator.Record) events.Event {
	return events.Event{
		ID:          r.ID,
		Operation:   r.Operation,
		Status:      r.Status,
		FailureKind: string(r.FailureKind),
		Seed:        r.Seed,
		Device:      r.Device,
		Width:       r.Width,
		Height:      r.Height,
		DurationMS:  r.Duration.Milliseconds(),
		CreatedAt:   r.CreatedAt,
	}
}

func sampleFor(r orchestrator.Record) metrics.Sample {
	return metrics.Sample{
		ID:          r.ID,
		Operation:   r.Operation,
		Succeeded:   r.Status == orchestrator.StatusSucceeded,
		FailureKind: string(r.FailureKind),
		Device:      r.Device,
		Duration:    r.Duration,
		At:          r.CreatedAt,
	}
}
