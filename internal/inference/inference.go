// Package inference talks to the segmentation and layout estimation models.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/tensor"
)

// Layout estimation output names.
const (
	OutputEdges       = "edges"
	OutputCorners     = "corners"
	OutputCornersFlip = "corners_flip"
	OutputType        = "type"
)

// ErrWorkerNotActive is returned when a request is made to a stopped worker.
var ErrWorkerNotActive = errors.New("inference: worker not active")

// Output is one named float array produced by a model.
// Strides holds what the backend reported; it is kept for diagnostics only.
type Output struct {
	Name    string
	Shape   []int
	Strides []int
	Data    []float32
}

// View returns a strided view whose strides are derived from Shape.
func (o Output) View() (tensor.View, error) {
	v, err := tensor.FromShape(o.Data, o.Shape...)
	if err != nil {
		return tensor.View{}, fmt.Errorf("output %q: %w", o.Name, err)
	}
	return v, nil
}

// Backend runs the two models. Implementations must honour ctx.
type Backend interface {
	// Segment returns the rank 2 wall probability map for img.
	Segment(ctx context.Context, img *image.RGBA) (Output, error)
	// EstimateLayout returns the named layout arrays for img.
	EstimateLayout(ctx context.Context, img *image.RGBA) ([]Output, error)
}

// Metrics summarizes a backend's activity.
type Metrics struct {
	Requests     uint64  `json:"requests"`
	Failures     uint64  `json:"failures"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	LastSeenAt   string  `json:"last_seen_at,omitempty"`
	Active       bool    `json:"active"`
	Restarts     uint32  `json:"restarts"`
}
