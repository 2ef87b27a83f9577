//go:build wallnative

package native

/*
#cgo CFLAGS: -I${SRCDIR}/include
#cgo LDFLAGS: -ltexture_synthesis_adapter -lm -ldl

#include <stdlib.h>
#include "texture_synthesis_adapter.h"
*/
import "C"

import (
	"fmt"
	"log/slog"
	"runtime"
	"unsafe"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/tensor"
)

// CGOAvailable reports whether the native adapter library is linked in.
const CGOAvailable = true

var _ Library = (*cgoLibrary)(nil)

type cgoLibrary struct{}

// OpenCGO returns the Library backed by the linked native adapter.
func OpenCGO() (Library, error) {
	return &cgoLibrary{}, nil
}

func (l *cgoLibrary) Name() string { return "cgo" }

func releaseImageBuffer(ptr unsafe.Pointer, count int) {
	C.release_image_buffer((*C.uint8_t)(ptr), C.uintptr_t(count))
}

// imageInfo builds the C view of img. The data pointer is pinned until the
// caller unpins p.
func imageInfo(p *runtime.Pinner, img ImageInfo) C.ImageInfo {
	ptr := unsafe.SliceData(img.Data)
	p.Pin(ptr)
	return C.ImageInfo{
		data:   (*C.uint8_t)(unsafe.Pointer(ptr)),
		count:  C.uintptr_t(len(img.Data)),
		width:  C.uintptr_t(img.Width),
		height: C.uintptr_t(img.Height),
	}
}

func array3D(p *runtime.Pinner, v tensor.View) (C.MLMultiArray3DInfo, error) {
	var out C.MLMultiArray3DInfo
	if v.Rank() != 3 {
		return out, fmt.Errorf("%w: want rank 3, got %d", tensor.ErrShapeMismatch, v.Rank())
	}
	ptr := unsafe.SliceData(v.Data())
	p.Pin(ptr)
	out.data = (*C.float)(unsafe.Pointer(ptr))
	shape, strides := v.Shape(), v.Stride()
	for i := 0; i < 3; i++ {
		out.shape[i] = C.uintptr_t(shape[i])
		out.strides[i] = C.uintptr_t(strides[i])
	}
	return out, nil
}

func array2D(p *runtime.Pinner, v tensor.View) (C.MLMultiArray2DInfo, error) {
	var out C.MLMultiArray2DInfo
	if v.Rank() != 2 {
		return out, fmt.Errorf("%w: want rank 2, got %d", tensor.ErrShapeMismatch, v.Rank())
	}
	ptr := unsafe.SliceData(v.Data())
	p.Pin(ptr)
	out.data = (*C.float)(unsafe.Pointer(ptr))
	shape, strides := v.Shape(), v.Stride()
	for i := 0; i < 2; i++ {
		out.shape[i] = C.uintptr_t(shape[i])
		out.strides[i] = C.uintptr_t(strides[i])
	}
	return out, nil
}

func (l *cgoLibrary) DecodeLayout(in LayoutInputs) (LayoutRecord, error) {
	var pinner runtime.Pinner
	defer pinner.Unpin()

	var res C.RoomLayoutEstimationResults
	var err error
	if res.edges, err = array3D(&pinner, in.Edges); err != nil {
		return LayoutRecord{}, fmt.Errorf("edges: %w", err)
	}
	if res.corners, err = array3D(&pinner, in.Corners); err != nil {
		return LayoutRecord{}, fmt.Errorf("corners: %w", err)
	}
	if res.corners_flip, err = array3D(&pinner, in.CornersFlip); err != nil {
		return LayoutRecord{}, fmt.Errorf("corners_flip: %w", err)
	}
	if res.type_, err = array2D(&pinner, in.Type); err != nil {
		return LayoutRecord{}, fmt.Errorf("type: %w", err)
	}

	data := C.process_room_layout_estimation_results(&res)
	return fromCLayout(data), nil
}

func (l *cgoLibrary) SynthesizeTexture(img ImageInfo, size int) (*Buffer, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	var pinner runtime.Pinner
	defer pinner.Unpin()

	info := imageInfo(&pinner, img)
	ptr := C.synthesize_texture(&info, C.uint32_t(size))
	return Acquire(unsafe.Pointer(ptr), size*size*4, releaseImageBuffer)
}

func (l *cgoLibrary) GeneratePreview(room, mask, tile ImageInfo, layout LayoutRecord) (*Buffer, error) {
	for name, img := range map[string]ImageInfo{"room": room, "mask": mask, "tile": tile} {
		if err := img.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	var pinner runtime.Pinner
	defer pinner.Unpin()

	roomInfo := imageInfo(&pinner, room)
	maskInfo := imageInfo(&pinner, mask)
	tileInfo := imageInfo(&pinner, tile)

	out := C.generate_preview(&roomInfo, &maskInfo, &tileInfo, toCLayout(layout))
	want := room.Width * room.Height * 4
	if out.data != nil && int(out.count) != want {
		slog.Warn("native preview count differs from room size",
			"reported", int(out.count),
			"expected", want,
		)
	}
	return Acquire(unsafe.Pointer(out.data), want, releaseImageBuffer)
}

func toCPoint(p Point) C.LayoutPoint {
	return C.LayoutPoint{x: C.int32_t(p.X), y: C.int32_t(p.Y)}
}

func fromCPoint(p C.LayoutPoint) Point {
	return Point{X: int32(p.x), Y: int32(p.y)}
}

func toCLayout(rec LayoutRecord) C.RoomLayoutData {
	var out C.RoomLayoutData
	for i, ln := range rec.Lines {
		out.lines[i].start = toCPoint(ln.Start)
		out.lines[i].end = toCPoint(ln.End)
	}
	for i, wp := range rec.WallPolygons {
		out.wall_polygons[i].top_left = toCPoint(wp.TopLeft)
		out.wall_polygons[i].top_right = toCPoint(wp.TopRight)
		out.wall_polygons[i].bottom_right = toCPoint(wp.BottomRight)
		out.wall_polygons[i].bottom_left = toCPoint(wp.BottomLeft)
	}
	out.num_lines = C.uint8_t(rec.NumLines)
	out.room_type = C.uint8_t(rec.RoomType)
	out.num_wall_polygons = C.uint8_t(rec.NumWallPolygons)
	return out
}

func fromCLayout(d C.RoomLayoutData) LayoutRecord {
	var rec LayoutRecord
	for i := range rec.Lines {
		rec.Lines[i] = Line{Start: fromCPoint(d.lines[i].start), End: fromCPoint(d.lines[i].end)}
	}
	for i := range rec.WallPolygons {
		wp := d.wall_polygons[i]
		rec.WallPolygons[i] = WallPolygon{
			TopLeft:     fromCPoint(wp.top_left),
			TopRight:    fromCPoint(wp.top_right),
			BottomRight: fromCPoint(wp.bottom_right),
			BottomLeft:  fromCPoint(wp.bottom_left),
		}
	}
	rec.NumLines = uint8(d.num_lines)
	rec.RoomType = uint8(d.room_type)
	rec.NumWallPolygons = uint8(d.num_wall_polygons)
	return rec
}
