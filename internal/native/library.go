// Package native is the boundary between the pipeline and the native image
// routines: layout decoding, texture synthesis and preview compositing.
//
// Every routine that returns an owned buffer goes through Acquire and the
// caller must Release it. Fixed-capacity records are converted with
// DecodeSlots and EncodeSlots.
package native

import (
	"errors"
	"fmt"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/tensor"
)

// ErrNativeUnavailable is returned when the cgo backend was not compiled in.
var ErrNativeUnavailable = errors.New("native: cgo backend not built (use -tags wallnative)")

// ImageInfo is an immutable view of a pixel buffer handed to a native routine.
type ImageInfo struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

// Validate checks the buffer length against the declared dimensions.
func (i ImageInfo) Validate() error {
	if i.Width <= 0 || i.Height <= 0 {
		return fmt.Errorf("native: invalid image size %dx%d", i.Width, i.Height)
	}
	if want := i.Width * i.Height * i.Channels; len(i.Data) != want {
		return fmt.Errorf("native: image buffer has %d bytes, want %d", len(i.Data), want)
	}
	return nil
}

// LayoutInputs packs the four layout estimation arrays for decode_layout.
type LayoutInputs struct {
	Edges       tensor.View
	Corners     tensor.View
	CornersFlip tensor.View
	Type        tensor.View
}

// Library is the contract of the native routines.
type Library interface {
	// Name identifies the backend in logs.
	Name() string
	// DecodeLayout maps the layout estimation arrays to a fixed-capacity record.
	DecodeLayout(in LayoutInputs) (LayoutRecord, error)
	// SynthesizeTexture returns an owned size*size*4 RGBA buffer.
	SynthesizeTexture(img ImageInfo, size int) (*Buffer, error)
	// GeneratePreview returns an owned RGBA buffer sized to room.
	GeneratePreview(room, mask, tile ImageInfo, layout LayoutRecord) (*Buffer, error)
}
