package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GenerationMetrics summarises one processed retouch request.
type GenerationMetrics struct {
	Operation     string
	Device        string
	Width, Height int
	Seed          int64
	Steps         int
	Enhanced      bool
	Duration      time.Duration
}

func (m GenerationMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("operation", m.Operation)
	enc.AddString("device", m.Device)
	enc.AddInt("width", m.Width)
	enc.AddInt("height", m.Height)
	enc.AddInt64("seed", m.Seed)
	enc.AddInt("steps", m.Steps)
	enc.AddBool("enhanced", m.Enhanced)
	enc.AddInt64("duration_ms", m.Duration.Milliseconds())
	return nil
}

// GenerationFields nests m under the "generation" key.
//
//	logger.Info("retouch complete", logging.GenerationFields(m))
func GenerationFields(m GenerationMetrics) zap.Field {
	return zap.Object("generation", m)
}

// TimingFields logs a start time and the elapsed duration since it.
func TimingFields(start, end time.Time) []zap.Field {
	return []zap.Field{
		zap.Time("start_time", start),
		zap.Duration("duration", end.Sub(start)),
	}
}
