package sdruntime

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"
)

// fakeProvider counts constructions and can be told to fail or stall.
type fakeProvider struct {
	mu        sync.Mutex
	built     map[Family]int
	params    []ConstructParams
	failNext  map[Family]error
	delay     time.Duration
	reentrant bool

	invocations atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{built: map[Family]int{}, failNext: map[Family]error{}}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Construct(_ context.Context, cp ConstructParams) (Pipeline, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.params = append(p.params, cp)
	if err, ok := p.failNext[cp.Family]; ok {
		delete(p.failNext, cp.Family)
		return nil, err
	}
	p.built[cp.Family]++
	return &fakePipeline{provider: p, family: cp.Family}, nil
}

func (p *fakeProvider) builds(f Family) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built[f]
}

type fakePipeline struct {
	provider *fakeProvider
	family   Family

	// guarded by provider.mu
	last InvokeParams
	err  error
}

func (f *fakePipeline) lastParams() InvokeParams {
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	return f.last
}

func (f *fakePipeline) Reentrant() bool { return f.provider.reentrant }

func (f *fakePipeline) Invoke(_ context.Context, p InvokeParams) (image.Image, error) {
	n := f.provider.inFlight.Add(1)
	defer f.provider.inFlight.Add(-1)
	for {
		peak := f.provider.maxInFlight.Load()
		if n <= peak || f.provider.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	f.provider.invocations.Add(1)
	time.Sleep(5 * time.Millisecond)

	f.provider.mu.Lock()
	f.last = p
	err := f.err
	f.provider.mu.Unlock()
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	return img, nil
}

// refusingSource fails the test if the dispatcher reaches the registry.
type refusingSource struct {
	called atomic.Bool
}

func (r *refusingSource) Ensure(context.Context, Family) (*PipelineHandle, error) {
	r.called.Store(true)
	return nil, errors.New("registry must not be reached")
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
