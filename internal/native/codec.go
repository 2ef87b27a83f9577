package native

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded is returned when a list does not fit a fixed-capacity record.
var ErrCapacityExceeded = errors.New("native: capacity exceeded")

// DecodeSlots converts the first count slots of a fixed-capacity array into a
// domain list. Slots at or past count are padding and are never read.
func DecodeSlots[N, D any](slots []N, count int, conv func(N) D) ([]D, error) {
	if count < 0 || count > len(slots) {
		return nil, fmt.Errorf("%w: count %d for %d slots", ErrCapacityExceeded, count, len(slots))
	}
	out := make([]D, count)
	for i := 0; i < count; i++ {
		out[i] = conv(slots[i])
	}
	return out, nil
}

// EncodeSlots zeroes dst, fills it with the converted items and returns the
// count to store alongside it.
func EncodeSlots[D, N any](dst []N, items []D, conv func(D) N) (int, error) {
	if len(items) > len(dst) {
		return 0, fmt.Errorf("%w: %d items for %d slots", ErrCapacityExceeded, len(items), len(dst))
	}
	var zero N
	for i := range dst {
		dst[i] = zero
	}
	for i, it := range items {
		dst[i] = conv(it)
	}
	return len(items), nil
}
