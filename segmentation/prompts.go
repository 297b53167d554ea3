package segmentation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ParsePoints decodes a JSON list of [x, y] pairs. Empty input is an empty
// list. Fractional coordinates are rounded.
func ParsePoints(s string) ([]Point, error) {
	var raw [][]float64
	if err := decode(s, &raw); err != nil {
		return nil, fmt.Errorf("%w: points: %v", ErrInvalidPrompt, err)
	}
	points := make([]Point, 0, len(raw))
	for i, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: point %d has %d coordinates", ErrInvalidPrompt, i, len(pair))
		}
		points = append(points, Point{X: int(math.Round(pair[0])), Y: int(math.Round(pair[1]))})
	}
	return points, nil
}

// ParseLabels decodes a JSON list of 0/1 labels.
func ParseLabels(s string) ([]int, error) {
	var labels []int
	if err := decode(s, &labels); err != nil {
		return nil, fmt.Errorf("%w: labels: %v", ErrInvalidPrompt, err)
	}
	return labels, nil
}

// ParseBox decodes a JSON [x1, y1, x2, y2] array.
func ParseBox(s string) (Box, error) {
	var raw []float64
	if err := decode(s, &raw); err != nil {
		return Box{}, fmt.Errorf("%w: box: %v", ErrInvalidPrompt, err)
	}
	if len(raw) != 4 {
		return Box{}, fmt.Errorf("%w: box needs 4 values, got %d", ErrInvalidPrompt, len(raw))
	}
	return Box{
		X1: int(math.Round(raw[0])), Y1: int(math.Round(raw[1])),
		X2: int(math.Round(raw[2])), Y2: int(math.Round(raw[3])),
	}, nil
}

func decode(s string, v any) error {
	s = strings.TrimSpace(s)
	if s == "" {
		s = "[]"
	}
	return json.Unmarshal([]byte(s), v)
}
