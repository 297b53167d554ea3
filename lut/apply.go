package lut

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Apply grades img with the named preset. The effective factor is the
// preset's factor times max(0, intensity); 0 gives grayscale, 1 leaves the
// image unchanged, larger values boost saturation. The result is a new
// image; img is not modified.
func (c *Catalog) Apply(img image.Image, name string, intensity float64) *image.RGBA {
	factor, _ := c.Factor(name)
	return Saturate(img, factor*math.Max(0, intensity))
}

// Saturate interpolates each pixel between its luma gray and itself by
// factor, clamping to the 8-bit range. Alpha is preserved.
func Saturate(img image.Image, factor float64) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			p := out.RGBAAt(x, y)
			// ITU-R 601-2 luma.
			gray := (float64(p.R)*299 + float64(p.G)*587 + float64(p.B)*114) / 1000
			out.SetRGBA(x, y, color.RGBA{
				R: clamp(gray + factor*(float64(p.R)-gray)),
				G: clamp(gray + factor*(float64(p.G)-gray)),
				B: clamp(gray + factor*(float64(p.B)-gray)),
				A: p.A,
			})
		}
	}
	return out
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
