package core

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Default model identifiers, matching the public Stable Diffusion checkpoints.
const (
	DefaultBaseModel    = "runwayml/stable-diffusion-v1-5"
	DefaultInpaintModel = "runwayml/stable-diffusion-inpainting"
)

// Provider names accepted in SD_PROVIDER.
const (
	ProviderSynthetic = "synthetic"
	ProviderOpenAI    = "openai"
)

// Config holds all process configuration. It is read once at startup.
type Config struct {
	// Model pipelines
	BaseModel      string // text-to-image model id
	Img2ImgModel   string
	InpaintModel   string
	DeviceOverride string // AI_DEVICE; empty means auto-detect
	Provider       string // synthetic or openai
	ImageSize      int    // text-to-image output edge in pixels
	Workers        int    // blocking-work pool size
	WarmupOnStart  bool

	// Remote provider
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIImageSize string

	// HTTP surface
	Host               string
	Port               int
	APIPrefix          string
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	RateLimitPerMinute int // per client on /retouch/process; 0 disables
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration

	// Supporting features
	LUTPresetsFile   string
	HistoryDBPath    string        // empty disables history
	SegmentationPath string        // SAM_MODEL_PATH; informational for the default predictor
	HistoryRetention time.Duration // zero keeps history forever

	// Generation events; empty RedisURL disables publishing
	RedisURL     string
	EventsKey    string
	EventsMaxLen int

	// Process
	DevMode         bool
	LogFile         string
	ShutdownTimeout time.Duration
}

// LoadConfig reads the environment. Call godotenv.Load first so .env values
// are visible. The returned config has not been validated; see Validate.
func LoadConfig() *Config {
	base := GetEnvOrDefault("SD_BASE_MODEL", DefaultBaseModel)

	cfg := &Config{
		BaseModel:      base,
		Img2ImgModel:   GetEnvOrDefault("SD_IMG2IMG_MODEL", base),
		InpaintModel:   GetEnvOrDefault("SD_INPAINT_MODEL", DefaultInpaintModel),
		DeviceOverride: strings.ToLower(strings.TrimSpace(os.Getenv("AI_DEVICE"))),
		Provider:       strings.ToLower(GetEnvOrDefault("SD_PROVIDER", ProviderSynthetic)),
		ImageSize:      ParseIntEnv("SD_IMAGE_SIZE", 512),
		Workers:        ParseIntEnv("SD_WORKERS", 2),
		WarmupOnStart:  ParseBoolEnv("WARMUP_ON_START", true),

		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OpenAIImageSize: GetEnvOrDefault("OPENAI_IMAGE_SIZE", "1024x1024"),

		Host:               GetEnvOrDefault("HOST", "0.0.0.0"),
		Port:               ParseIntEnv("PORT", 8000),
		APIPrefix:          normalizePrefix(GetEnvOrDefault("API_PREFIX", "/api/v1")),
		CORSAllowedOrigins: ParseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxUploadBytes:     int64(ParseIntEnv("MAX_UPLOAD_MB", 20)) << 20,
		RateLimitPerMinute: ParseIntEnv("RATE_LIMIT_PER_MINUTE", 0),
		ReadTimeout:        ParseDurationEnv("HTTP_READ_TIMEOUT_SECONDS", 60),
		WriteTimeout:       ParseDurationEnv("HTTP_WRITE_TIMEOUT_SECONDS", 600),

		LUTPresetsFile:   os.Getenv("LUT_PRESETS_FILE"),
		SegmentationPath: os.Getenv("SAM_MODEL_PATH"),
		HistoryRetention: time.Duration(ParseIntEnv("HISTORY_RETENTION_DAYS", 30)) * 24 * time.Hour,

		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		EventsKey:    GetEnvOrDefault("EVENTS_KEY", "retouch:events"),
		EventsMaxLen: ParseIntEnv("EVENTS_MAX_LEN", 1000),

		DevMode:         ParseBoolEnv("DEV_MODE", false),
		LogFile:         GetEnvOrDefault("LOG_FILE", "retouch.log"),
		ShutdownTimeout: ParseDurationEnv("SHUTDOWN_TIMEOUT_SECONDS", 30),
	}

	// An explicitly empty HISTORY_DB_PATH turns history off.
	if path, ok := os.LookupEnv("HISTORY_DB_PATH"); ok {
		cfg.HistoryDBPath = strings.TrimSpace(path)
	} else {
		cfg.HistoryDBPath = "data/history.db"
	}

	return cfg
}

// Validate returns the first problem found as a *ConfigError.
func (c *Config) Validate() error {
	for name, model := range map[string]string{
		"SD_BASE_MODEL":    c.BaseModel,
		"SD_IMG2IMG_MODEL": c.Img2ImgModel,
		"SD_INPAINT_MODEL": c.InpaintModel,
	} {
		if strings.TrimSpace(model) == "" {
			return ErrMissingConfig(name)
		}
	}

	switch c.DeviceOverride {
	case "", "cuda", "mps", "cpu":
	default:
		return ErrUnknownDevice(c.DeviceOverride)
	}

	switch c.Provider {
	case ProviderSynthetic:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrMissingAuth(ProviderOpenAI, "OPENAI_API_KEY")
		}
	default:
		return ErrUnknownProvider(c.Provider)
	}

	if c.ImageSize < 64 || c.ImageSize > 2048 || c.ImageSize%8 != 0 {
		return ErrInvalidValue("SD_IMAGE_SIZE", c.ImageSize, "must be a multiple of 8 between 64 and 2048")
	}
	if c.Workers < 1 {
		return ErrInvalidValue("SD_WORKERS", c.Workers, "must be at least 1")
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidValue("PORT", c.Port, "must be between 1 and 65535")
	}
	if c.RateLimitPerMinute < 0 {
		return ErrInvalidValue("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute, "must not be negative")
	}
	if c.HistoryRetention < 0 {
		return ErrInvalidValue("HISTORY_RETENTION_DAYS", int(c.HistoryRetention/(24*time.Hour)), "must not be negative")
	}
	if c.RedisURL != "" && c.EventsMaxLen < 1 {
		return ErrInvalidValue("EVENTS_MAX_LEN", c.EventsMaxLen, "must be at least 1")
	}
	if c.MaxUploadBytes <= 0 {
		return ErrInvalidValue("MAX_UPLOAD_MB", c.MaxUploadBytes>>20, "must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func normalizePrefix(p string) string {
	p = "/" + strings.Trim(strings.TrimSpace(p), "/")
	if p == "/" {
		return ""
	}
	return p
}
