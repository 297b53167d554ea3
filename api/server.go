// Package api exposes the retouch backend over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"retouch_backend/db"
	"retouch_backend/events"
	"retouch_backend/lut"
	"retouch_backend/metrics"
	"retouch_backend/orchestrator"
	"retouch_backend/segmentation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ServiceName is reported by the root route.
const ServiceName = "ai-retouch-studio"

// Retoucher is the orchestration surface the routes need.
type Retoucher interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Health(ctx context.Context) (orchestrator.Health, error)
}

// HistoryReader lists recent generations.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]db.GenerationRecord, error)
}

// EventReader lists recently published generation events.
type EventReader interface {
	Recent(ctx context.Context, n int64) ([]events.Event, error)
}

// StatsReader reports in-memory generation counters.
type StatsReader interface {
	Snapshot(recent int) metrics.Snapshot
}

// Tracker counts in-flight requests for graceful shutdown.
type Tracker interface {
	Track() (func(), error)
}

// Options configures the HTTP surface. Retoucher is required.
type Options struct {
	Retoucher Retoucher
	LUTs      *lut.Catalog
	Segmenter *segmentation.Segmenter
	History   HistoryReader // nil disables the history route
	Stats     StatsReader   // nil disables the stats route
	Events    EventReader   // nil disables the events route
	Tracker   Tracker
	Limiter   *RateLimiter // nil disables rate limiting of /retouch/process

	Prefix         string // e.g. /api/v1
	CORSOrigins    []string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	opts   Options
	logger *zap.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Retoucher == nil {
		return nil, fmt.Errorf("api: retoucher is required")
	}
	if opts.LUTs == nil {
		opts.LUTs = lut.NewCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Segmenter == nil {
		opts.Segmenter = segmentation.NewSegmenter(nil, opts.Logger)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	return &Server{opts: opts, logger: opts.Logger.Named("api")}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(s.logger), cors(s.opts.CORSOrigins))

	r.Get("/", s.handleRoot)

	prefix := s.opts.Prefix
	if prefix == "" {
		prefix = "/"
	}
	r.Route(prefix, func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/retouch", func(r chi.Router) {
			r.Get("/capabilities", s.handleCapabilities)
			r.With(rateLimit(s.opts.Limiter), track(s.opts.Tracker)).Post("/process", s.handleProcess)
			r.Get("/history", s.handleHistory)
			r.Get("/stats", s.handleStats)
			r.Get("/events", s.handleEvents)
		})

		r.Route("/luts", func(r chi.Router) {
			r.Get("/health", s.handleLUTHealth)
			r.Get("/list", s.handleLUTList)
			r.With(track(s.opts.Tracker)).Post("/apply", s.handleLUTApply)
		})

		r.Route("/segmentation", func(r chi.Router) {
			r.Use(track(s.opts.Tracker))
			r.Post("/segment-from-points", s.handleSegmentPoints)
			r.Post("/segment-from-box", s.handleSegmentBox)
		})
	})
	return r
}

// parseForm reads a multipart (or urlencoded) body capped at the upload
// limit.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	err := r.ParseMultipartForm(s.opts.MaxUploadBytes)
	if err == http.ErrNotMultipart {
		err = r.ParseForm()
	}
	return err
}

// formFile returns the named upload, or nil when it was not sent.
func formFile(r *http.Request, name string) ([]byte, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[name]) == 0 {
		return nil, nil
	}
	return readUpload(r.MultipartForm.File[name][0])
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formValue reports whether name was present at all, so defaults apply
// only to absent fields.
func formValue(r *http.Request, name string) (string, bool) {
	if vs, ok := r.Form[name]; ok && len(vs) > 0 {
		return vs[0], true
	}
	if r.MultipartForm != nil {
		if vs, ok := r.MultipartForm.Value[name]; ok && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

func formFloat(r *http.Request, name string, def float64) (float64, error) {
	v, ok := formValue(r, name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", name, v)
	}
	return f, nil
}

func formInt(r *http.Request, name string, def int) (int, error) {
	v, ok := formValue(r, name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func formBool(r *http.Request, name string, def bool) (bool, error) {
	v, ok := formValue(r, name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s must be a boolean, got %q", name, v)
}
