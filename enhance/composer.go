// Package enhance post-processes generated images: face restoration
// followed by resolution upscaling.
package enhance

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
)

var (
	ErrEnhancementFailed = errors.New("enhance: enhancement failed")
	ErrInvalidScale      = errors.New("enhance: invalid upscale factor")
	ErrOutputTooLarge    = errors.New("enhance: upscaled image too large")
)

// FaceRestorer improves faces in an image. Implementations must not modify
// their input.
type FaceRestorer interface {
	Restore(img image.Image) (image.Image, error)
}

// Upscaler enlarges an image by an integer factor greater than one.
// Implementations must not modify their input.
type Upscaler interface {
	Upscale(img image.Image, scale int) (image.Image, error)
}

// Composer runs the enabled enhancement steps in a fixed order.
type Composer struct {
	faces    FaceRestorer
	upscaler Upscaler
	logger   *zap.Logger
}

// NewComposer wires the default stages: identity face restoration and
// Catmull-Rom resampling.
func NewComposer(logger *zap.Logger) *Composer {
	return NewComposerWith(IdentityRestorer{}, ResampleUpscaler{}, logger)
}

func NewComposerWith(faces FaceRestorer, upscaler Upscaler, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{faces: faces, upscaler: upscaler, logger: logger.Named("enhance")}
}

// Apply restores faces when enhanceFaces is set, then upscales when upscale
// is set and scale > 1. With nothing enabled img is returned unchanged.
// Every failure wraps ErrEnhancementFailed.
func (c *Composer) Apply(img image.Image, enhanceFaces, upscale bool, scale int) (out image.Image, err error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrEnhancementFailed)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrEnhancementFailed, r)
		}
	}()

	out = img
	if enhanceFaces {
		out, err = c.faces.Restore(out)
		if err != nil {
			return nil, fmt.Errorf("%w: face restoration: %w", ErrEnhancementFailed, err)
		}
	}

	if upscale && scale > 1 {
		before := out.Bounds()
		out, err = c.upscaler.Upscale(out, scale)
		if err != nil {
			return nil, fmt.Errorf("%w: upscale x%d: %w", ErrEnhancementFailed, scale, err)
		}
		c.logger.Debug("upscaled",
			zap.Int("scale", scale),
			zap.Int("from_width", before.Dx()),
			zap.Int("to_width", out.Bounds().Dx()))
	}
	return out, nil
}
