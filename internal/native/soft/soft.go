// Package soft is a pure Go implementation of the native routines. It follows
// the same buffer ownership contract as the cgo adapter and tracks every
// allocation, so it also serves as the reference backend in tests.
package soft

import (
	"fmt"
	"math"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
)

// DefaultLayoutSize is the side of the square space layout coordinates live in.
const DefaultLayoutSize = 512

// borderRatio is the share of half the tile blended across the wrap seam.
const borderRatio = 0.16

var _ native.Library = (*Library)(nil)

// Stats reports allocator activity.
type Stats struct {
	Allocations  uint64
	Releases     uint64
	InvalidFrees uint64
	Outstanding  int
}

// Library is the pure Go native backend.
type Library struct {
	layoutSize int
	mem        *allocator
}

// New creates a Library. layoutSize <= 0 selects DefaultLayoutSize.
func New(layoutSize int) *Library {
	if layoutSize <= 0 {
		layoutSize = DefaultLayoutSize
	}
	return &Library{layoutSize: layoutSize, mem: newAllocator()}
}

// Name implements native.Library.
func (l *Library) Name() string { return "soft" }

// FailAllocations makes every following allocation return a null buffer.
func (l *Library) FailAllocations(fail bool) { l.mem.fail.Store(fail) }

// Stats returns a snapshot of allocator counters.
func (l *Library) Stats() Stats {
	return Stats{
		Allocations:  l.mem.allocs.Load(),
		Releases:     l.mem.frees.Load(),
		InvalidFrees: l.mem.invalidFrees.Load(),
		Outstanding:  l.mem.outstanding(),
	}
}

// DecodeLayout picks the room type as the argmax of the per-class mean over
// the first axis of the type array. Edges and wall polygons are left empty.
func (l *Library) DecodeLayout(in native.LayoutInputs) (native.LayoutRecord, error) {
	var rec native.LayoutRecord
	t := in.Type
	if t.Rank() != 2 {
		return rec, fmt.Errorf("soft: type array must be rank 2, got %d", t.Rank())
	}
	rows, classes := t.Dim(0), t.Dim(1)

	best, bestMean := 0, math.Inf(-1)
	for c := 0; c < classes; c++ {
		var sum float64
		for r := 0; r < rows; r++ {
			v, err := t.At(r, c)
			if err != nil {
				return rec, err
			}
			sum += float64(v)
		}
		if mean := sum / float64(rows); mean > bestMean {
			best, bestMean = c, mean
		}
	}
	if best > math.MaxUint8 {
		best = math.MaxUint8
	}
	rec.RoomType = uint8(best)
	return rec, nil
}
