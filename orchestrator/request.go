package orchestrator

import (
	"time"

	"retouch_backend/sdruntime"
)

// Request is a retouch request as received from a client. Image and Mask
// are encoded image bytes; nil means absent.
type Request struct {
	Operation     string
	Prompt        string
	Image         []byte
	Mask          []byte
	Strength      float64
	GuidanceScale float64
	Steps         int
	Seed          *int64
	EnhanceFaces  bool
	Upscale       bool
	UpscaleScale  int
}

// DefaultRequest returns a Request with the documented form defaults.
func DefaultRequest() Request {
	return Request{
		Operation:     sdruntime.DefaultOperation,
		Strength:      sdruntime.DefaultStrength,
		GuidanceScale: sdruntime.DefaultGuidanceScale,
		Steps:         sdruntime.DefaultSteps,
		UpscaleScale:  DefaultUpscaleScale,
	}
}

const DefaultUpscaleScale = 2

// Meta echoes the parameters a result was produced with. Operation is the
// name the client sent; Seed is the seed actually used.
type Meta struct {
	Operation     string  `json:"operation"`
	Strength      float64 `json:"strength"`
	GuidanceScale float64 `json:"guidance_scale"`
	Steps         int     `json:"steps"`
	Seed          int64   `json:"seed"`
}

// Result is a successfully processed request.
type Result struct {
	ID       string
	ImagePNG []byte
	Meta     Meta

	Model  string
	Device sdruntime.DeviceKind
	Width  int
	Height int
}

// Status values of a Record.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record describes one processed request, successful or not.
type Record struct {
	ID            string
	Operation     string
	Prompt        string
	Strength      float64
	GuidanceScale float64
	Steps         int
	Seed          *int64
	EnhanceFaces  bool
	Upscale       bool
	UpscaleScale  int

	Status      string
	FailureKind FailureKind
	Message     string

	Device    string
	Model     string
	Width     int
	Height    int
	Duration  time.Duration
	CreatedAt time.Time
}

// Recorder receives a Record after every Process call. Record is called on
// the request path and must not block.
type Recorder interface {
	Record(Record)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Record)

func (f RecorderFunc) Record(r Record) { f(r) }
