// Package segmentation produces object masks from point or box prompts.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNoPoints             = errors.New("segmentation: no points provided")
	ErrInvalidPrompt        = errors.New("segmentation: invalid prompt")
	ErrPredictorUnavailable = errors.New("segmentation: predictor unavailable")
)

// IsValidation reports whether err was caused by bad client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoPoints) || errors.Is(err, ErrInvalidPrompt)
}

// Point is a prompt coordinate in image pixels.
type Point struct {
	X, Y int
}

// Box is a prompt rectangle with inclusive-exclusive corners.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Prediction is one candidate mask; white marks the object.
type Prediction struct {
	Mask  *image.Gray
	Score float64
}

// Predictor turns point prompts into candidate masks. Labels are 1 for
// foreground and 0 for background and always match points in length.
type Predictor interface {
	Predict(ctx context.Context, img *image.RGBA, points []Point, labels []int, multimask bool) ([]Prediction, error)
}

// PredictorFactory loads a Predictor. It is called lazily and again after
// a failure.
type PredictorFactory func(ctx context.Context) (Predictor, error)

type predictorHolder struct {
	p Predictor
}

// Segmenter lazily loads a predictor on first use and serves prompts
// against it.
type Segmenter struct {
	factory PredictorFactory
	logger  *zap.Logger

	mu        sync.Mutex
	predictor atomic.Pointer[predictorHolder]
	loads     atomic.Int64
}

// NewSegmenter uses factory to load the predictor. A nil factory selects
// the built-in RegionGrower.
func NewSegmenter(factory PredictorFactory, logger *zap.Logger) *Segmenter {
	if factory == nil {
		factory = func(context.Context) (Predictor, error) { return NewRegionGrower(), nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Segmenter{factory: factory, logger: logger.Named("segmentation")}
}

// Loaded reports whether the predictor has been loaded.
func (s *Segmenter) Loaded() bool {
	return s.predictor.Load() != nil
}

// Loads counts load attempts.
func (s *Segmenter) Loads() int64 {
	return s.loads.Load()
}

func (s *Segmenter) ensure(ctx context.Context) (Predictor, error) {
	if h := s.predictor.Load(); h != nil {
		return h.p, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.predictor.Load(); h != nil {
		return h.p, nil
	}

	s.loads.Add(1)
	start := time.Now()
	p, err := s.factory(ctx)
	if err == nil && p == nil {
		err = errors.New("factory returned no predictor")
	}
	if err != nil {
		s.logger.Error("predictor load failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPredictorUnavailable, err)
	}
	s.predictor.Store(&predictorHolder{p: p})
	s.logger.Info("predictor loaded", zap.Duration("duration", time.Since(start)))
	return p, nil
}

// SegmentFromPoints returns the highest-scoring mask for the prompts.
// Labels whose count differs from points are replaced by all-foreground.
func (s *Segmenter) SegmentFromPoints(ctx context.Context, img *image.RGBA, points []Point, labels []int, multimask bool) (Prediction, error) {
	if len(points) == 0 {
		return Prediction{}, ErrNoPoints
	}
	b := img.Bounds()
	for _, p := range points {
		if !(image.Point{X: p.X, Y: p.Y}).In(image.Rect(0, 0, b.Dx(), b.Dy())) {
			return Prediction{}, fmt.Errorf("%w: point (%d,%d) outside %dx%d image", ErrInvalidPrompt, p.X, p.Y, b.Dx(), b.Dy())
		}
	}
	if len(labels) != len(points) {
		labels = make([]int, len(points))
		for i := range labels {
			labels[i] = 1
		}
	}

	predictor, err := s.ensure(ctx)
	if err != nil {
		return Prediction{}, err
	}
	preds, err := predictor.Predict(ctx, img, points, labels, multimask)
	if err != nil {
		return Prediction{}, fmt.Errorf("segmentation: predict: %w", err)
	}
	if len(preds) == 0 {
		return Prediction{}, errors.New("segmentation: predictor returned no masks")
	}

	best := 0
	for i := range preds {
		if preds[i].Score > preds[best].Score {
			best = i
		}
	}
	return preds[best], nil
}

// SegmentFromBox returns the box, clipped to the image, as a mask with
// score 1.
func (s *Segmenter) SegmentFromBox(img image.Image, box Box) (Prediction, error) {
	b := img.Bounds()
	r := image.Rect(box.X1, box.Y1, box.X2, box.Y2)
	if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
		return Prediction{}, fmt.Errorf("%w: empty box %v", ErrInvalidPrompt, r)
	}
	r = r.Intersect(image.Rect(0, 0, b.Dx(), b.Dy()))
	if r.Empty() {
		return Prediction{}, fmt.Errorf("%w: box outside image", ErrInvalidPrompt)
	}

	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return Prediction{Mask: mask, Score: 1}, nil
}
