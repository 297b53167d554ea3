package segmentation

import (
	"context"
	"image"
	"image/color"
)

// RegionGrower segments by flood-filling from each foreground point over
// pixels whose color is within a tolerance of the seed, then removing the
// regions grown from background points. Multimask mode yields one
// candidate per tolerance.
type RegionGrower struct {
	Tolerances []int // per-channel color distance, 0..255
}

func NewRegionGrower() *RegionGrower {
	return &RegionGrower{Tolerances: []int{16, 32, 64}}
}

func (g *RegionGrower) Predict(ctx context.Context, img *image.RGBA, points []Point, labels []int, multimask bool) ([]Prediction, error) {
	tolerances := g.Tolerances
	if len(tolerances) == 0 {
		tolerances = []int{32}
	}
	if !multimask {
		tolerances = tolerances[len(tolerances)/2 : len(tolerances)/2+1]
	}

	out := make([]Prediction, 0, len(tolerances))
	for _, tol := range tolerances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mask := g.grow(img, points, labels, tol)
		out = append(out, Prediction{Mask: mask, Score: score(mask, points, labels)})
	}
	return out, nil
}

func (g *RegionGrower) grow(img *image.RGBA, points []Point, labels []int, tol int) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	for i, p := range points {
		if labels[i] == 0 {
			continue
		}
		fill(img, mask, p, tol, 255)
	}
	for i, p := range points {
		if labels[i] != 0 {
			continue
		}
		fill(img, mask, p, tol, 0)
	}
	return mask
}

// fill sets value on every pixel connected to seed whose color is within
// tol of the seed color.
func fill(img *image.RGBA, mask *image.Gray, seed Point, tol int, value uint8) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	ref := img.RGBAAt(b.Min.X+seed.X, b.Min.Y+seed.Y)

	visited := make([]bool, w*h)
	stack := []Point{seed}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.X < 0 || p.Y < 0 || p.X >= w || p.Y >= h {
			continue
		}
		idx := p.Y*w + p.X
		if visited[idx] {
			continue
		}
		visited[idx] = true
		if !near(img.RGBAAt(b.Min.X+p.X, b.Min.Y+p.Y), ref, tol) {
			continue
		}
		mask.SetGray(p.X, p.Y, color.Gray{Y: value})
		stack = append(stack,
			Point{p.X + 1, p.Y}, Point{p.X - 1, p.Y},
			Point{p.X, p.Y + 1}, Point{p.X, p.Y - 1})
	}
}

func near(a, b color.RGBA, tol int) bool {
	return absDiff(a.R, b.R) <= tol && absDiff(a.G, b.G) <= tol && absDiff(a.B, b.B) <= tol
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// score rewards covering foreground points, penalises covering background
// points and prefers tighter masks.
func score(mask *image.Gray, points []Point, labels []int) float64 {
	var fg, fgHit, bg, bgHit int
	for i, p := range points {
		in := mask.GrayAt(p.X, p.Y).Y > 0
		if labels[i] == 0 {
			bg++
			if in {
				bgHit++
			}
			continue
		}
		fg++
		if in {
			fgHit++
		}
	}

	s := 1.0
	if fg > 0 {
		s *= float64(fgHit) / float64(fg)
	}
	if bg > 0 {
		s *= 1 - float64(bgHit)/float64(bg)
	}

	var covered int
	for _, v := range mask.Pix {
		if v > 0 {
			covered++
		}
	}
	coverage := float64(covered) / float64(len(mask.Pix))
	return s * (1 - 0.5*coverage)
}
