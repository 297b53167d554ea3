package sdruntime

import (
	"context"
	"image"
)

// Provider builds pipelines. Implementations resolve model ids themselves
// (local file, hub cache, remote API); the registry only hands them the id.
type Provider interface {
	Name() string
	Construct(ctx context.Context, p ConstructParams) (Pipeline, error)
}

// Pipeline is one constructed, device-bound generation capability.
type Pipeline interface {
	Invoke(ctx context.Context, p InvokeParams) (image.Image, error)
}

// Reentrant is implemented by pipelines whose Invoke may run concurrently.
// Pipelines that do not implement it, or return false, get one invocation
// at a time per family.
type Reentrant interface {
	Reentrant() bool
}

func isReentrant(p Pipeline) bool {
	r, ok := p.(Reentrant)
	return ok && r.Reentrant()
}
