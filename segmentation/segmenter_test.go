package segmentation

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

// twoTone is a w x h image whose left half is red and right half is blue.
func twoTone(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 220, A: 255}
			if x >= w/2 {
				c = color.RGBA{B: 220, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func coverage(m *image.Gray) (left, right int) {
	b := m.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if m.GrayAt(x, y).Y == 0 {
				continue
			}
			if x < b.Dx()/2 {
				left++
			} else {
				right++
			}
		}
	}
	return left, right
}

func TestSegmentFromPoints_SelectsRegion(t *testing.T) {
	s := NewSegmenter(nil, zaptest.NewLogger(t))
	img := twoTone(10, 4)

	pred, err := s.SegmentFromPoints(context.Background(), img, []Point{{X: 1, Y: 1}}, nil, true)
	if err != nil {
		t.Fatalf("SegmentFromPoints() error = %v", err)
	}
	left, right := coverage(pred.Mask)
	if left != 20 || right != 0 {
		t.Errorf("mask covers left=%d right=%d, want 20/0", left, right)
	}
	if pred.Score <= 0 || pred.Score > 1 {
		t.Errorf("Score = %v, want (0,1]", pred.Score)
	}
}

func TestSegmentFromPoints_BackgroundLabelExcludes(t *testing.T) {
	s := NewSegmenter(nil, nil)
	img := twoTone(10, 4)

	points := []Point{{X: 1, Y: 1}, {X: 2, Y: 2}}
	pred, err := s.SegmentFromPoints(context.Background(), img, points, []int{1, 0}, false)
	if err != nil {
		t.Fatalf("SegmentFromPoints() error = %v", err)
	}
	if left, _ := coverage(pred.Mask); left != 0 {
		t.Errorf("background point left %d pixels selected", left)
	}
}

func TestSegmentFromPoints_Validation(t *testing.T) {
	s := NewSegmenter(nil, nil)
	img := twoTone(4, 4)

	tests := []struct {
		name    string
		points  []Point
		wantErr error
	}{
		{"no points", nil, ErrNoPoints},
		{"outside", []Point{{X: 4, Y: 0}}, ErrInvalidPrompt},
		{"negative", []Point{{X: -1, Y: 0}}, ErrInvalidPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SegmentFromPoints(context.Background(), img, tt.points, nil, true)
			if !errors.Is(err, tt.wantErr) || !IsValidation(err) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if s.Loaded() {
		t.Error("invalid prompts loaded the predictor")
	}
}

type recordingPredictor struct {
	labels []int
	preds  []Prediction
}

func (r *recordingPredictor) Predict(_ context.Context, _ *image.RGBA, _ []Point, labels []int, _ bool) ([]Prediction, error) {
	r.labels = labels
	return r.preds, nil
}

func TestSegmentFromPoints_LabelsAndBestScore(t *testing.T) {
	low := Prediction{Mask: image.NewGray(image.Rect(0, 0, 1, 1)), Score: 0.2}
	high := Prediction{Mask: image.NewGray(image.Rect(0, 0, 2, 2)), Score: 0.9}
	rec := &recordingPredictor{preds: []Prediction{low, high, low}}
	s := NewSegmenter(func(context.Context) (Predictor, error) { return rec, nil }, nil)

	pred, err := s.SegmentFromPoints(context.Background(), twoTone(4, 4), []Point{{0, 0}, {1, 1}}, []int{0}, true)
	if err != nil {
		t.Fatalf("SegmentFromPoints() error = %v", err)
	}
	if pred.Score != 0.9 {
		t.Errorf("Score = %v, want best 0.9", pred.Score)
	}
	if len(rec.labels) != 2 || rec.labels[0] != 1 || rec.labels[1] != 1 {
		t.Errorf("labels = %v, want [1 1] after count mismatch", rec.labels)
	}
}

func TestSegmenter_LazyLoadRetriesAfterFailure(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	factory := func(context.Context) (Predictor, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("checkpoint missing")
		}
		return NewRegionGrower(), nil
	}
	s := NewSegmenter(factory, zaptest.NewLogger(t))
	img := twoTone(4, 4)

	if _, err := s.SegmentFromPoints(context.Background(), img, []Point{{0, 0}}, nil, false); !errors.Is(err, ErrPredictorUnavailable) {
		t.Fatalf("first call error = %v, want ErrPredictorUnavailable", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SegmentFromPoints(context.Background(), img, []Point{{0, 0}}, nil, false); err != nil {
				t.Errorf("retry error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := s.Loads(); got != 2 {
		t.Errorf("Loads() = %d, want 2", got)
	}
}

func TestSegmentFromBox(t *testing.T) {
	s := NewSegmenter(nil, nil)
	img := twoTone(10, 10)

	pred, err := s.SegmentFromBox(img, Box{X1: 8, Y1: 8, X2: 20, Y2: 20})
	if err != nil {
		t.Fatalf("SegmentFromBox() error = %v", err)
	}
	if pred.Mask.GrayAt(9, 9).Y != 255 || pred.Mask.GrayAt(7, 7).Y != 0 {
		t.Error("box mask has the wrong extent")
	}

	for _, box := range []Box{{X1: 5, Y1: 5, X2: 5, Y2: 9}, {X1: 20, Y1: 20, X2: 30, Y2: 30}} {
		if _, err := s.SegmentFromBox(img, box); !errors.Is(err, ErrInvalidPrompt) {
			t.Errorf("SegmentFromBox(%v) error = %v, want ErrInvalidPrompt", box, err)
		}
	}
}

func TestParsePrompts(t *testing.T) {
	points, err := ParsePoints("[[1, 2], [3.6, 4]]")
	if err != nil || len(points) != 2 || points[1] != (Point{X: 4, Y: 4}) {
		t.Errorf("ParsePoints() = %v, %v", points, err)
	}
	if points, err := ParsePoints(""); err != nil || len(points) != 0 {
		t.Errorf("ParsePoints(\"\") = %v, %v", points, err)
	}
	if _, err := ParsePoints("[[1]]"); !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("ParsePoints([[1]]) error = %v", err)
	}
	if _, err := ParsePoints("not json"); !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("ParsePoints(garbage) error = %v", err)
	}

	labels, err := ParseLabels("[1,0,1]")
	if err != nil || len(labels) != 3 || labels[1] != 0 {
		t.Errorf("ParseLabels() = %v, %v", labels, err)
	}

	box, err := ParseBox("[1,2,3,4]")
	if err != nil || box != (Box{1, 2, 3, 4}) {
		t.Errorf("ParseBox() = %v, %v", box, err)
	}
	if _, err := ParseBox("[1,2]"); !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("ParseBox([1,2]) error = %v", err)
	}
}
