package sdruntime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

var testPipelineConfig = PipelineConfig{
	BaseModel:    "base/model",
	Img2ImgModel: "img2img/model",
	InpaintModel: "inpaint/model",
}

func TestRegistry_EnsureReturnsSameHandle(t *testing.T) {
	for _, f := range Families {
		t.Run(string(f), func(t *testing.T) {
			provider := newFakeProvider()
			r := NewRegistry(testPipelineConfig, DeviceCPU, provider, zaptest.NewLogger(t))

			first, err := r.Ensure(context.Background(), f)
			if err != nil {
				t.Fatalf("Ensure() error = %v", err)
			}
			second, err := r.Ensure(context.Background(), f)
			if err != nil {
				t.Fatalf("second Ensure() error = %v", err)
			}
			if first != second {
				t.Error("Ensure() returned different handles for the same family")
			}
			if got := provider.builds(f); got != 1 {
				t.Errorf("constructions = %d, want 1", got)
			}
		})
	}
}

func TestRegistry_FamiliesAreIndependent(t *testing.T) {
	provider := newFakeProvider()
	r := NewRegistry(testPipelineConfig, DeviceCPU, provider, zaptest.NewLogger(t))

	if _, err := r.Ensure(context.Background(), FamilyInpaint); err != nil {
		t.Fatalf("Ensure(inpaint) error = %v", err)
	}

	if provider.builds(FamilyText2Img) != 0 || provider.builds(FamilyImg2Img) != 0 {
		t.Error("building inpaint constructed another family")
	}
	if got := r.LoadedFamilies(); len(got) != 1 || got[0] != FamilyInpaint {
		t.Errorf("LoadedFamilies() = %v, want [inpaint]", got)
	}
}

func TestRegistry_BindsModelDeviceAndDisablesSafety(t *testing.T) {
	provider := newFakeProvider()
	r := NewRegistry(testPipelineConfig, DeviceCUDA, provider, zaptest.NewLogger(t))

	h, err := r.Ensure(context.Background(), FamilyImg2Img)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	cp := provider.params[0]
	if cp.ModelID != "img2img/model" {
		t.Errorf("ModelID = %q, want img2img/model", cp.ModelID)
	}
	if cp.Device != DeviceCUDA || cp.Precision != PrecisionFP16 {
		t.Errorf("Device/Precision = %s/%s, want cuda/fp16", cp.Device, cp.Precision)
	}
	if !cp.DisableSafetyChecker {
		t.Error("DisableSafetyChecker = false, want true")
	}
	if h.ModelID() != "img2img/model" || h.Device() != DeviceCUDA || h.Family() != FamilyImg2Img {
		t.Errorf("handle = %s/%s/%s", h.Family(), h.ModelID(), h.Device())
	}
}

func TestRegistry_FailedConstructionCanRetry(t *testing.T) {
	provider := newFakeProvider()
	provider.failNext[FamilyText2Img] = errors.New("out of memory")
	r := NewRegistry(testPipelineConfig, DeviceCPU, provider, zaptest.NewLogger(t))

	_, err := r.Ensure(context.Background(), FamilyText2Img)
	if KindOf(err) != KindConstruction {
		t.Fatalf("Ensure() kind = %q, want construction (err = %v)", KindOf(err), err)
	}
	if r.Loaded(FamilyText2Img) {
		t.Fatal("family marked loaded after a failed build")
	}

	h, err := r.Ensure(context.Background(), FamilyText2Img)
	if err != nil || h == nil {
		t.Fatalf("retry Ensure() = %v, %v", h, err)
	}
	if got := r.Constructions(); got != 2 {
		t.Errorf("Constructions() = %d, want 2", got)
	}
}

type panickingProvider struct{}

func (panickingProvider) Name() string { return "panicky" }
func (panickingProvider) Construct(context.Context, ConstructParams) (Pipeline, error) {
	panic("cuda context lost")
}

func TestRegistry_ProviderPanicIsConstructionError(t *testing.T) {
	r := NewRegistry(testPipelineConfig, DeviceCPU, panickingProvider{}, zaptest.NewLogger(t))

	_, err := r.Ensure(context.Background(), FamilyInpaint)
	if KindOf(err) != KindConstruction || !errors.Is(err, ErrModelLoadFailed) {
		t.Errorf("Ensure() error = %v, want construction error wrapping ErrModelLoadFailed", err)
	}
}

func TestRegistry_UnknownFamily(t *testing.T) {
	r := NewRegistry(testPipelineConfig, DeviceCPU, newFakeProvider(), zaptest.NewLogger(t))

	_, err := r.Ensure(context.Background(), Family("upscale"))
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("Ensure(upscale) error = %v, want ErrUnknownOperation", err)
	}
}

func TestRegistry_ConcurrentEnsureBuildsOnce(t *testing.T) {
	provider := newFakeProvider()
	provider.delay = 20 * time.Millisecond
	r := NewRegistry(testPipelineConfig, DeviceCPU, provider, zaptest.NewLogger(t))

	const callers = 16
	handles := make([]*PipelineHandle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Ensure(context.Background(), FamilyText2Img)
			if err != nil {
				t.Errorf("Ensure() error = %v", err)
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if got := provider.builds(FamilyText2Img); got != 1 {
		t.Errorf("constructions = %d, want 1", got)
	}
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestRegistry_DifferentFamiliesBuildConcurrently(t *testing.T) {
	provider := newFakeProvider()
	provider.delay = 100 * time.Millisecond
	r := NewRegistry(testPipelineConfig, DeviceCPU, provider, zaptest.NewLogger(t))

	start := time.Now()
	var wg sync.WaitGroup
	for _, f := range Families {
		wg.Add(1)
		go func(f Family) {
			defer wg.Done()
			if _, err := r.Ensure(context.Background(), f); err != nil {
				t.Errorf("Ensure(%s) error = %v", f, err)
			}
		}(f)
	}
	wg.Wait()

	// Serial builds would take at least 300ms.
	if elapsed := time.Since(start); elapsed >= 280*time.Millisecond {
		t.Errorf("three families took %v, expected them to build concurrently", elapsed)
	}
}

func TestPipelineHandle_SerializesNonReentrant(t *testing.T) {
	tests := []struct {
		name      string
		reentrant bool
		wantMax   int64
	}{
		{"serialized", false, 1},
		{"reentrant", true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider()
			provider.reentrant = tt.reentrant
			r := NewRegistry(testPipelineConfig, DeviceCPU, provider, zaptest.NewLogger(t))
			h, err := r.Ensure(context.Background(), FamilyText2Img)
			if err != nil {
				t.Fatalf("Ensure() error = %v", err)
			}

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = h.Invoke(context.Background(), InvokeParams{Prompt: "x", Steps: 1})
				}()
			}
			wg.Wait()

			got := provider.maxInFlight.Load()
			if !tt.reentrant && got != 1 {
				t.Errorf("max concurrent invocations = %d, want 1", got)
			}
			if tt.reentrant && got < tt.wantMax {
				t.Logf("max concurrent invocations = %d; scheduler did not overlap calls", got)
			}
		})
	}
}
