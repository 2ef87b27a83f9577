package soft

import (
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/image/vector"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
)

// GeneratePreview paints the tiled wallpaper over the wall region of room.
// The wall region is the mask scaled to the room, intersected with the wall
// polygons when the layout has any. Painted pixels keep the room's shading.
func (l *Library) GeneratePreview(room, mask, tile native.ImageInfo, layout native.LayoutRecord) (*native.Buffer, error) {
	if room.Channels != 4 || mask.Channels != 1 || tile.Channels != 4 {
		return nil, fmt.Errorf("soft: want RGBA room, gray mask, RGBA tile; got %d/%d/%d channels",
			room.Channels, mask.Channels, tile.Channels)
	}
	for name, img := range map[string]native.ImageInfo{"room": room, "mask": mask, "tile": tile} {
		if err := img.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	w, h := room.Width, room.Height
	coverage := l.wallCoverage(w, h, layout)

	count := w * h * 4
	ptr, out := l.mem.alloc(count)
	if ptr == nil {
		return native.Acquire(nil, count, l.mem.free)
	}

	for y := 0; y < h; y++ {
		my := y * mask.Height / h
		ty := y % tile.Height
		for x := 0; x < w; x++ {
			o := (y*w + x) * 4
			r, g, b, a := room.Data[o], room.Data[o+1], room.Data[o+2], room.Data[o+3]

			alpha := 0.0
			if mask.Data[my*mask.Width+x*mask.Width/w] >= 128 {
				alpha = 1
				if coverage != nil {
					alpha = float64(coverage.Pix[y*coverage.Stride+x]) / 255
				}
			}
			if alpha == 0 {
				out[o], out[o+1], out[o+2], out[o+3] = r, g, b, a
				continue
			}

			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 255
			shade := 0.35 + 0.65*lum
			t := (ty*tile.Width + x%tile.Width) * 4
			for c := 0; c < 3; c++ {
				painted := float64(tile.Data[t+c]) * shade
				v := float64(room.Data[o+c])*(1-alpha) + painted*alpha
				out[o+c] = uint8(min(v+0.5, 255))
			}
			out[o+3] = a
		}
	}
	return native.Acquire(ptr, count, l.mem.free)
}

// wallCoverage rasterizes the active wall polygons into a w x h alpha mask,
// scaling from layout space. It returns nil when the layout has no polygons.
func (l *Library) wallCoverage(w, h int, layout native.LayoutRecord) *image.Alpha {
	n := int(layout.NumWallPolygons)
	if n == 0 || n > len(layout.WallPolygons) {
		return nil
	}

	sx := float32(w) / float32(l.layoutSize)
	sy := float32(h) / float32(l.layoutSize)
	cov := image.NewAlpha(image.Rect(0, 0, w, h))
	r := vector.NewRasterizer(w, h)

	for _, poly := range layout.WallPolygons[:n] {
		r.Reset(w, h)
		r.MoveTo(float32(poly.TopLeft.X)*sx, float32(poly.TopLeft.Y)*sy)
		r.LineTo(float32(poly.TopRight.X)*sx, float32(poly.TopRight.Y)*sy)
		r.LineTo(float32(poly.BottomRight.X)*sx, float32(poly.BottomRight.Y)*sy)
		r.LineTo(float32(poly.BottomLeft.X)*sx, float32(poly.BottomLeft.Y)*sy)
		r.ClosePath()
		r.DrawOp = draw.Over
		r.Draw(cov, cov.Bounds(), image.Opaque, image.Point{})
	}
	return cov
}
