// Package compositor renders the final preview through the native
// compositing routine.
package compositor

import (
	"fmt"
	"image"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/imaging"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// Compositor wraps native.Library.GeneratePreview.
type Compositor struct {
	lib native.Library
}

// New returns a Compositor backed by lib.
func New(lib native.Library) *Compositor {
	return &Compositor{lib: lib}
}

// Compose returns an RGBA preview the size of room.
func (c *Compositor) Compose(room image.Image, mask *image.Gray, tile *image.RGBA, layout types.RoomLayout) (*image.RGBA, error) {
	rec, err := native.EncodeLayout(layout)
	if err != nil {
		return nil, fmt.Errorf("failed to encode layout: %w", err)
	}
	roomRGBA, err := imaging.ToRGBA(room)
	if err != nil {
		return nil, fmt.Errorf("room: %w", err)
	}
	maskGray, err := imaging.ToGray(mask)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	tileRGBA, err := imaging.ToRGBA(tile)
	if err != nil {
		return nil, fmt.Errorf("tile: %w", err)
	}

	w, h := roomRGBA.Rect.Dx(), roomRGBA.Rect.Dy()
	pix, err := native.Consume(c.lib.GeneratePreview(
		native.ImageInfo{Data: roomRGBA.Pix, Width: w, Height: h, Channels: 4},
		native.ImageInfo{Data: maskGray.Pix, Width: maskGray.Rect.Dx(), Height: maskGray.Rect.Dy(), Channels: 1},
		native.ImageInfo{Data: tileRGBA.Pix, Width: tileRGBA.Rect.Dx(), Height: tileRGBA.Rect.Dy(), Channels: 4},
		rec,
	))
	if err != nil {
		return nil, fmt.Errorf("preview generation failed: %w", err)
	}
	return imaging.FromRGBA(pix, w, h)
}
