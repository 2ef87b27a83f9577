package soft

import (
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
)

// SynthesizeTexture resizes img to size x size and makes it tile seamlessly by
// cross-fading with a copy shifted by half the tile across a border band.
func (l *Library) SynthesizeTexture(img native.ImageInfo, size int) (*native.Buffer, error) {
	if img.Channels != 4 {
		return nil, fmt.Errorf("soft: synthesis needs RGBA input, got %d channels", img.Channels)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("soft: invalid tile size %d", size)
	}

	src := &image.RGBA{Pix: img.Data, Stride: img.Width * 4, Rect: image.Rect(0, 0, img.Width, img.Height)}
	base := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(base, base.Bounds(), src, src.Bounds(), draw.Src, nil)

	count := size * size * 4
	ptr, out := l.mem.alloc(count)
	if ptr == nil {
		return native.Acquire(nil, count, l.mem.free)
	}

	blendSeams(out, base.Pix, size)
	return native.Acquire(ptr, count, l.mem.free)
}

// blendSeams writes into dst a tile whose opposite edges match. Near the tile
// border the half-shifted copy dominates; the shifted copy's own seam sits in
// the middle where the original is used unmodified.
func blendSeams(dst, pix []byte, size int) {
	half := size / 2
	band := int(float64(half) * borderRatio)
	if band < 1 {
		band = 1
	}

	for y := 0; y < size; y++ {
		sy := (y + half) % size
		for x := 0; x < size; x++ {
			sx := (x + half) % size
			d := min(x, y, size-1-x, size-1-y)

			w := 0.0
			if d < band {
				w = 1 - float64(d)/float64(band)
			}

			o := (y*size + x) * 4
			s := (sy*size + sx) * 4
			for c := 0; c < 4; c++ {
				v := float64(pix[o+c])*(1-w) + float64(pix[s+c])*w
				dst[o+c] = uint8(v + 0.5)
			}
		}
	}
}
