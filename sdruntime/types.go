package sdruntime

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Family is one of the three operation families, each with its own pipeline.
type Family string

const (
	FamilyText2Img Family = "txt2img"
	FamilyImg2Img  Family = "img2img"
	FamilyInpaint  Family = "inpaint"
)

// Families lists every family in a stable order.
var Families = []Family{FamilyText2Img, FamilyImg2Img, FamilyInpaint}

var operationAliases = map[string]Family{
	"txt2img":        FamilyText2Img,
	"text2img":       FamilyText2Img,
	"text-to-image":  FamilyText2Img,
	"text_to_image":  FamilyText2Img,
	"img2img":        FamilyImg2Img,
	"image2image":    FamilyImg2Img,
	"image-to-image": FamilyImg2Img,
	"image_to_image": FamilyImg2Img,
	"inpaint":        FamilyInpaint,
	"inpainting":     FamilyInpaint,
}

// ParseOperation maps a client operation name to its family.
func ParseOperation(name string) (Family, error) {
	if f, ok := operationAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return f, nil
	}
	return "", &Error{Kind: KindValidation, Err: fmt.Errorf("%w: %q", ErrUnknownOperation, name)}
}

// Defaults applied by the transport when a field is omitted.
const (
	DefaultOperation     = "img2img"
	DefaultStrength      = 0.7
	DefaultGuidanceScale = 7.5
	DefaultSteps         = 30

	MinSteps        = 1
	MaxSteps        = 150
	MaxPromptLength = 2000
)

// PipelineConfig names the model behind each family plus an optional
// device override. It is built once and never mutated.
type PipelineConfig struct {
	BaseModel      string
	Img2ImgModel   string
	InpaintModel   string
	DeviceOverride string
}

// ModelFor returns the model id configured for f.
func (c PipelineConfig) ModelFor(f Family) string {
	switch f {
	case FamilyImg2Img:
		return c.Img2ImgModel
	case FamilyInpaint:
		return c.InpaintModel
	default:
		return c.BaseModel
	}
}

// GenerationRequest is one decoded generation request. Image is required
// for img2img and inpaint; Mask for inpaint only. Strength is forwarded for
// img2img alone and is not clamped.
type GenerationRequest struct {
	Operation     Family
	Prompt        string
	Image         image.Image
	Mask          image.Image
	Strength      float64
	GuidanceScale float64
	Steps         int
	Seed          *int64
}

// SeedPtr is a convenience for filling GenerationRequest.Seed.
func SeedPtr(seed int64) *int64 {
	return &seed
}

// Validate checks the per-family input requirements without touching any
// pipeline.
func (r GenerationRequest) Validate() error {
	f := r.Operation
	switch f {
	case FamilyText2Img, FamilyImg2Img, FamilyInpaint:
	default:
		return &Error{Kind: KindValidation, Err: fmt.Errorf("%w: %q", ErrUnknownOperation, f)}
	}

	prompt := strings.TrimSpace(r.Prompt)
	if prompt == "" {
		return validationError(f, "prompt is required")
	}
	if len(prompt) > MaxPromptLength {
		return validationError(f, "prompt length %d exceeds maximum %d", len(prompt), MaxPromptLength)
	}

	if (f == FamilyImg2Img || f == FamilyInpaint) && isAbsent(r.Image) {
		return validationError(f, "%s requires a source image", f)
	}
	if f == FamilyInpaint && isAbsent(r.Mask) {
		return validationError(f, "inpaint requires a mask image")
	}

	if r.Steps < MinSteps || r.Steps > MaxSteps {
		return validationError(f, "steps %d must be between %d and %d", r.Steps, MinSteps, MaxSteps)
	}
	if math.IsNaN(r.GuidanceScale) || math.IsInf(r.GuidanceScale, 0) {
		return validationError(f, "guidance_scale must be a finite number")
	}
	if f == FamilyImg2Img && (math.IsNaN(r.Strength) || math.IsInf(r.Strength, 0)) {
		return validationError(f, "strength must be a finite number")
	}
	return nil
}

func isAbsent(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}

// ConstructParams is what a Provider receives when building a pipeline.
type ConstructParams struct {
	Family    Family
	ModelID   string
	Device    DeviceKind
	Precision Precision

	// DisableSafetyChecker is always true: the product runs in a trusted
	// professional context and gates content elsewhere.
	DisableSafetyChecker bool
}

// InvokeParams is what a Pipeline receives for one generation. Image, Mask,
// Strength and Seed are nil when not applicable.
type InvokeParams struct {
	Prompt        string
	Image         image.Image
	Mask          image.Image
	Strength      *float64
	GuidanceScale float64
	Steps         int
	Seed          *int64
}
