package enhance

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

const (
	// MaxScale is the largest accepted upscale factor.
	MaxScale = 4
	// MaxOutputPixels caps the upscaled image area; 4096x4096 RGBA is 64 MiB.
	MaxOutputPixels = 4096 * 4096
)

// CheckScale reports whether an image of bounds b may be upscaled by scale.
// Factors of one or less are no-ops and always pass.
func CheckScale(b image.Rectangle, scale int) error {
	if scale <= 1 {
		return nil
	}
	if scale > MaxScale {
		return fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidScale, scale, MaxScale)
	}
	if px := int64(b.Dx()) * int64(b.Dy()) * int64(scale) * int64(scale); px > MaxOutputPixels {
		return fmt.Errorf("%w: %dx%d by %d is %d pixels, maximum %d",
			ErrOutputTooLarge, b.Dx(), b.Dy(), scale, px, MaxOutputPixels)
	}
	return nil
}

// ResampleUpscaler enlarges images with a Catmull-Rom kernel. The output is
// exactly width*scale by height*scale.
type ResampleUpscaler struct {
	// Kernel overrides the interpolator; nil means Catmull-Rom.
	Kernel draw.Interpolator
}

func (u ResampleUpscaler) Upscale(img image.Image, scale int) (image.Image, error) {
	if scale < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScale, scale)
	}
	b := img.Bounds()
	if scale == 1 {
		return clone(img), nil
	}

	if err := CheckScale(b, scale); err != nil {
		return nil, err
	}
	w, h := b.Dx()*scale, b.Dy()*scale

	kernel := u.Kernel
	if kernel == nil {
		kernel = draw.CatmullRom
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	kernel.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out, nil
}
