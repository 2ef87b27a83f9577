// Package mask renders wall segmentation scores into binary mask images.
package mask

import (
	"errors"
	"fmt"
	"image"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/tensor"
)

// DefaultThreshold is the score at or above which a cell counts as wall.
const DefaultThreshold = 0.5

const (
	foreground = 0xff
	background = 0x00
)

// ErrInvalidThreshold is returned for thresholds outside [0,1].
var ErrInvalidThreshold = errors.New("mask: threshold must be within [0,1]")

// Renderer binarizes probability maps.
type Renderer struct {
	threshold float32
}

// NewRenderer returns a Renderer for threshold.
func NewRenderer(threshold float64) (*Renderer, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	return &Renderer{threshold: float32(threshold)}, nil
}

// Threshold returns the configured threshold.
func (r *Renderer) Threshold() float64 { return float64(r.threshold) }

// Render maps each cell of a rank 2 view to one pixel: white when the score is
// at least the threshold, black otherwise. Rows follow the first dimension.
// No scaling is applied.
func (r *Renderer) Render(scores tensor.View) (*image.Gray, error) {
	if scores.Rank() != 2 {
		return nil, fmt.Errorf("%w: mask needs rank 2, got %d", tensor.ErrShapeMismatch, scores.Rank())
	}
	rows, cols := scores.Dim(0), scores.Dim(1)
	img := image.NewGray(image.Rect(0, 0, cols, rows))

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			v, err := scores.At(row, col)
			if err != nil {
				return nil, err
			}
			px := byte(background)
			if v >= r.threshold {
				px = foreground
			}
			img.Pix[row*img.Stride+col] = px
		}
	}
	return img, nil
}
