// Package synthesis produces seamless wallpaper tiles through the native
// texture synthesis routine.
package synthesis

import (
	"fmt"
	"image"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/imaging"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
)

// ErrPixelExtractionFailed is returned before any native call when the input
// cannot be converted to RGBA.
var ErrPixelExtractionFailed = imaging.ErrPixelExtractionFailed

// Adapter turns wallpaper photos into size x size RGBA tiles.
type Adapter struct {
	lib          native.Library
	size         int
	maxInputSide int
}

// NewAdapter returns an Adapter producing tiles of side size. Inputs larger
// than maxInputSide are downscaled first; 0 disables that.
func NewAdapter(lib native.Library, size, maxInputSide int) (*Adapter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("synthesis: invalid tile size %d", size)
	}
	return &Adapter{lib: lib, size: size, maxInputSide: maxInputSide}, nil
}

// TileSize returns the output side length.
func (a *Adapter) TileSize() int { return a.size }

// Synthesize returns an owned size x size tile.
func (a *Adapter) Synthesize(img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrPixelExtractionFailed)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrPixelExtractionFailed)
	}
	rgba, err := imaging.ToRGBA(imaging.FitWithin(img, a.maxInputSide))
	if err != nil {
		return nil, err
	}

	in := native.ImageInfo{
		Data:     rgba.Pix,
		Width:    rgba.Rect.Dx(),
		Height:   rgba.Rect.Dy(),
		Channels: 4,
	}
	pix, err := native.Consume(a.lib.SynthesizeTexture(in, a.size))
	if err != nil {
		return nil, fmt.Errorf("texture synthesis failed: %w", err)
	}
	return imaging.FromRGBA(pix, a.size, a.size)
}
