package sdruntime

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	"math/rand/v2"
)

// SyntheticProvider renders deterministic procedural images. Identical
// model, device, prompt, parameters and seed give identical pixels. It
// stands in for a diffusion backend in tests and CPU-only deployments.
type SyntheticProvider struct {
	// Size is the text-to-image output edge in pixels.
	Size int
	// AllowConcurrent marks pipelines as reentrant.
	AllowConcurrent bool
}

func NewSyntheticProvider(size int) *SyntheticProvider {
	if size <= 0 {
		size = 512
	}
	return &SyntheticProvider{Size: size}
}

func (p *SyntheticProvider) Name() string { return "synthetic" }

// Construct rejects devices it does not know and local model files that
// are missing or fail their checksum. Hub ids are accepted as-is.
func (p *SyntheticProvider) Construct(_ context.Context, cp ConstructParams) (Pipeline, error) {
	if !cp.Device.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDevice, cp.Device)
	}
	if cp.ModelID == "" {
		return nil, fmt.Errorf("%w: empty model id for %s", ErrModelNotFound, cp.Family)
	}
	if IsLocalModel(cp.ModelID) {
		if err := VerifyModelFile(cp.ModelID); err != nil {
			return nil, err
		}
	}
	return &syntheticPipeline{
		family:     cp.Family,
		modelID:    cp.ModelID,
		device:     cp.Device,
		size:       p.Size,
		concurrent: p.AllowConcurrent,
	}, nil
}

type syntheticPipeline struct {
	family     Family
	modelID    string
	device     DeviceKind
	size       int
	concurrent bool
}

func (s *syntheticPipeline) Reentrant() bool { return s.concurrent }

func (s *syntheticPipeline) Invoke(ctx context.Context, p InvokeParams) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := RandomSeed()
	if p.Seed != nil {
		seed = *p.Seed
	}
	rng := rand.New(rand.NewPCG(s.fingerprint(p), uint64(seed)))

	switch s.family {
	case FamilyText2Img:
		return s.render(rng, s.size, s.size), nil
	case FamilyImg2Img:
		if p.Image == nil {
			return nil, fmt.Errorf("img2img pipeline invoked without an image")
		}
		strength := DefaultStrength
		if p.Strength != nil {
			strength = *p.Strength
		}
		return blend(p.Image, s.renderLike(rng, p.Image), constWeight(strength)), nil
	case FamilyInpaint:
		if p.Image == nil || p.Mask == nil {
			return nil, fmt.Errorf("inpaint pipeline invoked without image and mask")
		}
		return blend(p.Image, s.renderLike(rng, p.Image), maskWeight(p.Mask, p.Image.Bounds())), nil
	default:
		return nil, fmt.Errorf("unsupported family %q", s.family)
	}
}

// fingerprint hashes everything except the seed into the PCG stream id.
func (s *syntheticPipeline) fingerprint(p InvokeParams) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s.modelID))
	h.Write([]byte{0})
	h.Write([]byte(s.device))
	h.Write([]byte{0})
	h.Write([]byte(p.Prompt))

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.GuidanceScale))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(p.Steps))
	h.Write(buf[:])
	if p.Strength != nil {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(*p.Strength))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (s *syntheticPipeline) renderLike(rng *rand.Rand, ref image.Image) *image.RGBA {
	b := ref.Bounds()
	return s.render(rng, b.Dx(), b.Dy())
}

// render draws a two-color diagonal gradient with per-pixel grain.
func (s *syntheticPipeline) render(rng *rand.Rand, w, h int) *image.RGBA {
	from := randomColor(rng)
	to := randomColor(rng)
	out := image.NewRGBA(image.Rect(0, 0, w, h))

	span := float64(w + h - 2)
	if span <= 0 {
		span = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := float64(x+y) / span
			grain := rng.Float64()*16 - 8
			out.SetRGBA(x, y, color.RGBA{
				R: clamp8(lerp(float64(from.R), float64(to.R), t) + grain),
				G: clamp8(lerp(float64(from.G), float64(to.G), t) + grain),
				B: clamp8(lerp(float64(from.B), float64(to.B), t) + grain),
				A: 255,
			})
		}
	}
	return out
}

// blend mixes src toward gen by weight(x, y); weight 1 is fully generated.
// Weights outside [0,1] extrapolate and are clamped per channel.
func blend(src image.Image, gen *image.RGBA, weight func(x, y int) float64) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			sc := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			gc := gen.RGBAAt(x, y)
			w := weight(x, y)
			out.SetRGBA(x, y, color.RGBA{
				R: clamp8(lerp(float64(sc.R), float64(gc.R), w)),
				G: clamp8(lerp(float64(sc.G), float64(gc.G), w)),
				B: clamp8(lerp(float64(sc.B), float64(gc.B), w)),
				A: 255,
			})
		}
	}
	return out
}

func constWeight(w float64) func(int, int) float64 {
	return func(int, int) float64 { return w }
}

// maskWeight samples mask proportionally so masks of a different size than
// the image still line up.
func maskWeight(mask image.Image, target image.Rectangle) func(int, int) float64 {
	mb := mask.Bounds()
	tw, th := target.Dx(), target.Dy()
	return func(x, y int) float64 {
		mx := mb.Min.X + x*mb.Dx()/tw
		my := mb.Min.Y + y*mb.Dy()/th
		g := color.GrayModel.Convert(mask.At(mx, my)).(color.Gray)
		return float64(g.Y) / 255
	}
}

func randomColor(rng *rand.Rand) color.RGBA {
	return color.RGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
