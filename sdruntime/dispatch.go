package sdruntime

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
)

// PipelineSource is the part of Registry the dispatcher needs.
type PipelineSource interface {
	Ensure(ctx context.Context, f Family) (*PipelineHandle, error)
}

// Generation is the output of one dispatch.
type Generation struct {
	Image  image.Image
	Family Family
	Seed   int64
	Model  string
}

// Dispatcher validates requests and routes them to their family's pipeline.
type Dispatcher struct {
	pipelines PipelineSource
	logger    *zap.Logger

	// newSeed supplies a seed when the request has none.
	newSeed func() int64
}

func NewDispatcher(pipelines PipelineSource, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pipelines: pipelines,
		logger:    logger.Named("dispatch"),
		newSeed:   RandomSeed,
	}
}

// Generate validates req, ensures its family's pipeline and invokes it
// exactly once. Invalid requests fail before the registry is consulted.
// A missing seed is replaced with a random one, reported in the result.
func (d *Dispatcher) Generate(ctx context.Context, req GenerationRequest) (*Generation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	handle, err := d.pipelines.Ensure(ctx, req.Operation)
	if err != nil {
		return nil, err
	}

	seed := d.newSeed()
	if req.Seed != nil {
		seed = *req.Seed
	}

	params := InvokeParams{
		Prompt:        req.Prompt,
		GuidanceScale: req.GuidanceScale,
		Steps:         req.Steps,
		Seed:          &seed,
	}
	switch req.Operation {
	case FamilyImg2Img:
		strength := req.Strength
		params.Image = req.Image
		params.Strength = &strength
	case FamilyInpaint:
		params.Image = req.Image
		params.Mask = req.Mask
	}

	start := time.Now()
	img, err := handle.Invoke(ctx, params)
	if err == nil && (img == nil || img.Bounds().Empty()) {
		err = fmt.Errorf("pipeline returned no image")
	}
	if err != nil {
		return nil, &Error{
			Kind:   KindInference,
			Family: req.Operation,
			Err:    fmt.Errorf("%w: %w", ErrGenerationFailed, err),
		}
	}

	d.logger.Debug("generation complete",
		zap.String("family", string(req.Operation)),
		zap.Int64("seed", seed),
		zap.Int("steps", req.Steps),
		zap.Duration("duration", time.Since(start)))

	return &Generation{
		Image:  img,
		Family: req.Operation,
		Seed:   seed,
		Model:  handle.ModelID(),
	}, nil
}
