package sdruntime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DeviceKind names the compute device pipelines are bound to.
type DeviceKind string

const (
	DeviceCUDA DeviceKind = "cuda"
	DeviceMPS  DeviceKind = "mps"
	DeviceCPU  DeviceKind = "cpu"
)

// Known reports whether d is one of the devices probing can return.
func (d DeviceKind) Known() bool {
	switch d {
	case DeviceCUDA, DeviceMPS, DeviceCPU:
		return true
	}
	return false
}

// Precision is the numeric precision pipelines are loaded with.
type Precision string

const (
	PrecisionFP16 Precision = "fp16"
	PrecisionFP32 Precision = "fp32"
)

// Precision is half precision on CUDA and full precision elsewhere.
func (d DeviceKind) Precision() Precision {
	if d == DeviceCUDA {
		return PrecisionFP16
	}
	return PrecisionFP32
}

// Probe reports whether an accelerator is usable. An error means the same
// as false.
type Probe func(ctx context.Context) (bool, error)

// probeTimeout bounds the nvidia-smi call.
const probeTimeout = 5 * time.Second

// DeviceSelector chooses a DeviceKind once per process.
type DeviceSelector struct {
	CUDA   Probe
	MPS    Probe
	logger *zap.Logger
}

// NewDeviceSelector probes CUDA through nvidia-smi and MPS through the
// platform (Apple silicon).
func NewDeviceSelector(logger *zap.Logger) *DeviceSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceSelector{
		CUDA:   ProbeCUDA,
		MPS:    ProbeMPS,
		logger: logger,
	}
}

// Select returns override when it is non-empty, without checking the
// hardware. Otherwise it tries CUDA, then MPS, and falls back to CPU. It
// never fails: probe errors and panics count as "absent".
func (s *DeviceSelector) Select(ctx context.Context, override string) DeviceKind {
	if o := strings.ToLower(strings.TrimSpace(override)); o != "" {
		s.logger.Info("device override in effect", zap.String("device", o))
		return DeviceKind(o)
	}

	if s.available(ctx, "cuda", s.CUDA) {
		return DeviceCUDA
	}
	if s.available(ctx, "mps", s.MPS) {
		return DeviceMPS
	}
	return DeviceCPU
}

func (s *DeviceSelector) available(ctx context.Context, name string, probe Probe) (ok bool) {
	if probe == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("device probe panicked", zap.String("device", name), zap.Any("panic", r))
			ok = false
		}
	}()

	found, err := probe(ctx)
	if err != nil {
		s.logger.Debug("device probe failed", zap.String("device", name), zap.Error(err))
		return false
	}
	return found
}

// ProbeCUDA asks nvidia-smi to list GPUs.
func ProbeCUDA(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "nvidia-smi", "-L")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("nvidia-smi: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return strings.Contains(stdout.String(), "GPU "), nil
}

// ProbeMPS reports Metal availability, which exists on Apple silicon only.
func ProbeMPS(context.Context) (bool, error) {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64", nil
}
