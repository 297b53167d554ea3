package main

import (
	"fmt"
	"os"
	"sync"

	"retouch_backend/core"
	"retouch_backend/core/validation"
	"retouch_backend/logging"
	"retouch_backend/shutdown"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if handled, err := HandleServiceCommand(os.Args, os.Stdout); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(core.ExitCodeError)
		}
		return
	}

	r := &runner{}
	isService, err := RunAsService(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(core.ExitCodeError)
	}
	if isService {
		return
	}
	os.Exit(r.run())
}

// runner owns one server lifetime. stop may be called from another
// goroutine, as the service manager does.
type runner struct {
	mu      sync.Mutex
	manager *shutdown.Manager
	stopped bool
}

// run loads configuration, serves until a signal, stop or listener
// failure, then shuts down. It returns the process exit code.
func (r *runner) run() int {
	if err := godotenv.Load(); err != nil {
		// Logger isn't up yet.
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg := core.LoadConfig()
	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}

	if code := runStartupValidation(logger, cfg); code != core.ExitCodeSuccess {
		_ = logger.Sync()
		return code
	}
	logConfig(logger, cfg)

	m := shutdown.NewManager(logger.Zap(), shutdown.WithTimeout(cfg.ShutdownTimeout))
	if !r.attach(m) {
		return core.ExitCodeSuccess
	}

	a, err := newApp(cfg, logger, m)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		_ = logger.Sync()
		return core.ExitCodeError
	}
	a.register(m)
	m.Start()
	a.start(m.Context())

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.serve() }()

	exitCode := core.ExitCodeSuccess
	select {
	case <-m.Context().Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			exitCode = core.ExitCodeError
		}
		m.Trigger("http server stopped")
	}

	if err := m.Shutdown(); err != nil {
		logger.Warn("Shutdown finished with errors", zap.Error(err))
	}
	if exitCode == core.ExitCodeSuccess {
		exitCode = m.ExitCode()
	}
	logger.Info("Goodbye!", zap.String("exit", core.ExitCodeName(exitCode)))
	return exitCode
}

// attach records the manager so stop can reach it. It reports false when
// stop already ran.
func (r *runner) attach(m *shutdown.Manager) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.manager = m
	return true
}

func (r *runner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.manager != nil {
		r.manager.Trigger("service stop")
	}
}

func (r *runner) stopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// runStartupValidation runs the validation suite and maps a failure to
// ExitCodeConfig.
func runStartupValidation(logger *logging.Logger, cfg *core.Config) int {
	logger.Info("Starting startup validation...")

	result := validation.NewValidationSuite().
		WithShowProgress(true).
		Validate(cfg)

	if !result.Success {
		logger.Error("Configuration validation failed",
			zap.Int("passed", result.PassedSteps),
			zap.Int("failed", result.FailedSteps),
			zap.Duration("duration", result.Duration),
		)
		for _, step := range result.Steps {
			if step.Status == validation.StepFailed {
				logger.Error("Validation step failed",
					zap.String("step", step.Name),
					zap.String("message", step.Message),
					zap.Error(step.Error),
				)
			}
		}
		return core.ExitCodeConfig
	}

	logger.Info("Configuration validation passed",
		zap.Int("checks_passed", result.PassedSteps),
		zap.Int("warnings", result.Warnings),
		zap.Duration("duration", result.Duration),
	)
	return core.ExitCodeSuccess
}

func logConfig(logger *logging.Logger, cfg *core.Config) {
	logger.Info("Configuration loaded",
		zap.String("provider", cfg.Provider),
		zap.String("base_model", cfg.BaseModel),
		zap.String("img2img_model", cfg.Img2ImgModel),
		zap.String("inpaint_model", cfg.InpaintModel),
		zap.String("device_override", cfg.DeviceOverride),
		zap.Int("workers", cfg.Workers),
		zap.Bool("warmup_on_start", cfg.WarmupOnStart),
		zap.Bool("openai_api_key_set", cfg.OpenAIAPIKey != ""),
		zap.String("addr", cfg.Addr()),
		zap.String("api_prefix", cfg.APIPrefix),
		zap.Strings("cors_origins", cfg.CORSAllowedOrigins),
		zap.Int64("max_upload_bytes", cfg.MaxUploadBytes),
		zap.Int("rate_limit_per_minute", cfg.RateLimitPerMinute),
		zap.String("history_db", cfg.HistoryDBPath),
		zap.Duration("history_retention", cfg.HistoryRetention),
		zap.Bool("events_enabled", cfg.RedisURL != ""),
		zap.Bool("dev_mode", cfg.DevMode),
	)
}
