// Package validation runs the startup checks that decide whether the
// retouch backend can serve requests, printing a colored report as it goes.
package validation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"retouch_backend/core"
)

// StepStatus is the outcome of one check.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepFailed
	StepWarning
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ValidationStep records one executed check.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// SuiteResult is the aggregate of every step.
type SuiteResult struct {
	Steps       []ValidationStep
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// check returns a status, a short message and an optional error.
type check func(cfg *core.Config) (StepStatus, string, error)

// ValidationSuite checks a loaded configuration before the server starts.
type ValidationSuite struct {
	output       io.Writer
	showProgress bool
}

// NewValidationSuite writes its report to stdout.
func NewValidationSuite() *ValidationSuite {
	return &ValidationSuite{output: os.Stdout, showProgress: true}
}

func (s *ValidationSuite) WithOutput(w io.Writer) *ValidationSuite {
	s.output = w
	return s
}

func (s *ValidationSuite) WithShowProgress(show bool) *ValidationSuite {
	s.showProgress = show
	return s
}

// Validate runs every check against cfg. Only failed steps make the
// result unsuccessful; warnings are reported and tolerated.
func (s *ValidationSuite) Validate(cfg *core.Config) SuiteResult {
	start := time.Now()
	if s.showProgress {
		s.printHeader("Retouch Studio Startup Validation")
	}

	checks := []struct {
		name string
		fn   check
	}{
		{"Configuration", checkConfig},
		{"Model References", checkModelPaths},
		{"History Store", checkHistoryDir},
		{"LUT Presets", checkLUTFile},
	}

	steps := make([]ValidationStep, 0, len(checks))
	configOK := true
	for _, c := range checks {
		if !configOK {
			step := ValidationStep{Name: c.name, Status: StepSkipped, Message: "skipped due to configuration errors"}
			s.printStep(step)
			steps = append(steps, step)
			continue
		}
		step := s.runStep(c.name, cfg, c.fn)
		steps = append(steps, step)
		if c.name == "Configuration" && step.Status == StepFailed {
			configOK = false
		}
	}

	result := buildResult(steps, start)
	s.printSummary(result)
	return result
}

func (s *ValidationSuite) runStep(name string, cfg *core.Config, fn check) ValidationStep {
	started := time.Now()
	status, msg, err := fn(cfg)
	step := ValidationStep{
		Name:    name,
		Status:  status,
		Message: msg,
		Error:   err,
		Latency: time.Since(started),
	}
	s.printStep(step)
	return step
}

func checkConfig(cfg *core.Config) (StepStatus, string, error) {
	if err := cfg.Validate(); err != nil {
		return StepFailed, "invalid configuration", err
	}
	return StepPassed, fmt.Sprintf("provider=%s device=%s", cfg.Provider, orAuto(cfg.DeviceOverride)), nil
}

// checkModelPaths verifies model ids that name local files. Hub-style ids
// such as "runwayml/stable-diffusion-v1-5" are resolved by the provider.
func checkModelPaths(cfg *core.Config) (StepStatus, string, error) {
	var missing []string
	for _, id := range []string{cfg.BaseModel, cfg.Img2ImgModel, cfg.InpaintModel} {
		if !looksLikeLocalPath(id) {
			continue
		}
		if _, err := os.Stat(id); err != nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return StepWarning, "missing: " + strings.Join(missing, ", "), nil
	}
	return StepPassed, "ok", nil
}

func checkHistoryDir(cfg *core.Config) (StepStatus, string, error) {
	if cfg.HistoryDBPath == "" {
		return StepSkipped, "history disabled", nil
	}
	dir := filepath.Dir(cfg.HistoryDBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StepFailed, "cannot create " + dir, err
	}
	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return StepFailed, dir + " is not writable", err
	}
	probe.Close()
	os.Remove(probe.Name())
	return StepPassed, cfg.HistoryDBPath, nil
}

func checkLUTFile(cfg *core.Config) (StepStatus, string, error) {
	if cfg.LUTPresetsFile == "" {
		return StepPassed, "built-in presets", nil
	}
	if _, err := os.Stat(cfg.LUTPresetsFile); err != nil {
		return StepWarning, "file not found, using built-in presets", nil
	}
	return StepPassed, cfg.LUTPresetsFile, nil
}

func looksLikeLocalPath(id string) bool {
	return filepath.IsAbs(id) || strings.HasPrefix(id, ".") ||
		strings.HasSuffix(id, ".safetensors") || strings.HasSuffix(id, ".ckpt")
}

func orAuto(device string) string {
	if device == "" {
		return "auto"
	}
	return device
}

func buildResult(steps []ValidationStep, start time.Time) SuiteResult {
	r := SuiteResult{Steps: steps, Duration: time.Since(start), Success: true}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			r.PassedSteps++
		case StepFailed:
			r.FailedSteps++
			r.Success = false
		case StepWarning:
			r.Warnings++
		}
	}
	return r
}

func (s *ValidationSuite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *ValidationSuite) printStep(step ValidationStep) {
	if !s.showProgress {
		return
	}

	icon, clr := "?", color.New(color.FgWhite)
	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	}

	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if step.Status == StepFailed && step.Error != nil {
		color.New(color.FgRed).Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *ValidationSuite) printSummary(r SuiteResult) {
	if !s.showProgress {
		return
	}
	fmt.Fprintln(s.output)
	if r.Success {
		color.New(color.FgGreen, color.Bold).Fprintf(s.output, "━━━ Validation Passed (%d/%d, %d warnings) ━━━\n",
			r.PassedSteps, len(r.Steps), r.Warnings)
	} else {
		color.New(color.FgRed, color.Bold).Fprintf(s.output, "━━━ Validation Failed (%d failed) ━━━\n", r.FailedSteps)
	}
	fmt.Fprintln(s.output)
}

// FirstError returns the first step error, or nil.
func (r SuiteResult) FirstError() error {
	for _, step := range r.Steps {
		if step.Error != nil {
			return step.Error
		}
	}
	return nil
}
