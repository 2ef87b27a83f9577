package soft

import (
	"errors"
	"testing"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/tensor"
)

func solidRGBA(w, h int, r, g, b byte) native.ImageInfo {
	data := make([]byte, w*h*4)
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = r, g, b, 255
	}
	return native.ImageInfo{Data: data, Width: w, Height: h, Channels: 4}
}

// TestSynthesizeTextureSize verifies the tile is size*size*4 bytes and nothing leaks.
func TestSynthesizeTextureSize(t *testing.T) {
	lib := New(0)
	for _, size := range []int{16, 160, 320} {
		out, err := native.Consume(lib.SynthesizeTexture(solidRGBA(37, 23, 10, 20, 30), size))
		if err != nil {
			t.Fatalf("SynthesizeTexture(%d) failed: %v", size, err)
		}
		if len(out) != size*size*4 {
			t.Errorf("Expected %d bytes, got %d", size*size*4, len(out))
		}
	}

	stats := lib.Stats()
	if stats.Outstanding != 0 {
		t.Errorf("Expected no outstanding buffers, got %d", stats.Outstanding)
	}
	if stats.Allocations != stats.Releases || stats.InvalidFrees != 0 {
		t.Errorf("Expected balanced allocations, got %+v", stats)
	}
}

// TestSynthesizeTextureSeamless verifies opposite tile edges match after blending.
func TestSynthesizeTextureSeamless(t *testing.T) {
	src := solidRGBA(64, 64, 0, 0, 0)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			src.Data[(y*64+x)*4] = byte(x * 4)
		}
	}

	size := 64
	out, err := native.Consume(New(0).SynthesizeTexture(src, size))
	if err != nil {
		t.Fatalf("SynthesizeTexture failed: %v", err)
	}

	for y := 0; y < size; y++ {
		left := int(out[(y*size)*4])
		right := int(out[(y*size+size-1)*4])
		if d := left - right; d > 12 || d < -12 {
			t.Fatalf("row %d: edge mismatch left=%d right=%d", y, left, right)
		}
	}
}

// TestSynthesizeTextureAllocationFailure verifies a simulated null buffer surfaces as allocation failure.
func TestSynthesizeTextureAllocationFailure(t *testing.T) {
	lib := New(0)
	lib.FailAllocations(true)

	_, err := lib.SynthesizeTexture(solidRGBA(4, 4, 1, 2, 3), 8)
	if !errors.Is(err, native.ErrNativeAllocationFailed) {
		t.Errorf("Expected ErrNativeAllocationFailed, got %v", err)
	}
	if s := lib.Stats(); s.Allocations != 0 || s.Releases != 0 {
		t.Errorf("Expected no allocations or releases, got %+v", s)
	}
}

// TestDecodeLayoutArgmax verifies the room type is the class with the highest mean.
func TestDecodeLayoutArgmax(t *testing.T) {
	// 2 rows x 11 classes, class 7 wins on average though class 2 has the single highest cell.
	data := make([]float32, 2*11)
	data[0*11+2] = 0.9
	data[0*11+7] = 0.6
	data[1*11+7] = 0.6
	typ, err := tensor.FromShape(data, 2, 11)
	if err != nil {
		t.Fatalf("FromShape failed: %v", err)
	}

	rec, err := New(0).DecodeLayout(native.LayoutInputs{Type: typ})
	if err != nil {
		t.Fatalf("DecodeLayout failed: %v", err)
	}
	if rec.RoomType != 7 {
		t.Errorf("Expected room type 7, got %d", rec.RoomType)
	}
	if rec.NumLines != 0 || rec.NumWallPolygons != 0 {
		t.Errorf("Expected empty geometry, got %d lines %d polygons", rec.NumLines, rec.NumWallPolygons)
	}
}

// TestGeneratePreviewMasksWall verifies only masked pixels take the tile colour.
func TestGeneratePreviewMasksWall(t *testing.T) {
	lib := New(0)
	room := solidRGBA(4, 2, 255, 255, 255)
	tile := solidRGBA(2, 2, 200, 0, 0)
	// 2x1 mask: left half wall, right half background.
	mask := native.ImageInfo{Data: []byte{255, 0}, Width: 2, Height: 1, Channels: 1}

	out, err := native.Consume(lib.GeneratePreview(room, mask, tile, native.LayoutRecord{}))
	if err != nil {
		t.Fatalf("GeneratePreview failed: %v", err)
	}
	if len(out) != 4*2*4 {
		t.Fatalf("Expected %d bytes, got %d", 4*2*4, len(out))
	}

	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			o := (y*4 + x) * 4
			wall := x < 2
			if wall && (out[o] != 200 || out[o+1] != 0) {
				t.Errorf("(%d,%d): expected wallpaper, got %v", x, y, out[o:o+4])
			}
			if !wall && out[o+1] != 255 {
				t.Errorf("(%d,%d): expected room pixel, got %v", x, y, out[o:o+4])
			}
		}
	}
	if lib.Stats().Outstanding != 0 {
		t.Error("Expected preview buffer to be released")
	}
}

// TestGeneratePreviewPolygonClip verifies wall polygons restrict the painted region.
func TestGeneratePreviewPolygonClip(t *testing.T) {
	lib := New(8)
	room := solidRGBA(8, 8, 255, 255, 255)
	tile := solidRGBA(1, 1, 0, 0, 255)
	mask := native.ImageInfo{Data: []byte{255}, Width: 1, Height: 1, Channels: 1}

	var rec native.LayoutRecord
	rec.NumWallPolygons = 1
	rec.WallPolygons[0] = native.WallPolygon{
		TopLeft:     native.Point{X: 0, Y: 0},
		TopRight:    native.Point{X: 4, Y: 0},
		BottomRight: native.Point{X: 4, Y: 8},
		BottomLeft:  native.Point{X: 0, Y: 8},
	}

	out, err := native.Consume(lib.GeneratePreview(room, mask, tile, rec))
	if err != nil {
		t.Fatalf("GeneratePreview failed: %v", err)
	}

	inside := out[(3*8+1)*4 : (3*8+1)*4+4]
	outside := out[(3*8+6)*4 : (3*8+6)*4+4]
	if inside[0] != 0 || inside[2] != 255 {
		t.Errorf("Expected painted pixel inside polygon, got %v", inside)
	}
	if outside[0] != 255 {
		t.Errorf("Expected untouched pixel outside polygon, got %v", outside)
	}
}
