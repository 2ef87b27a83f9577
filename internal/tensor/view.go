// Package tensor provides read-only strided views over flat float buffers
// produced by inference backends and native routines.
//
// Strides reported by a backend are never used. A View always derives
// canonical row-major strides from its shape.
package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned when an index is outside its dimension.
	ErrOutOfBounds = errors.New("tensor: index out of bounds")
	// ErrShapeMismatch is returned when the buffer length or index rank does not match the shape.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
)

// View is a borrowed window over data. It never owns the buffer and must
// not outlive the call that produced it.
type View struct {
	data    []float32
	shape   []int
	strides []int
}

// Strides computes canonical row-major strides for shape:
// stride[last] = 1, stride[i] = stride[i+1] * shape[i+1].
func Strides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// NumElements returns the product of shape.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// FromShape builds a view over data with strides derived from shape.
// data must hold exactly the number of elements the shape describes.
func FromShape(data []float32, shape ...int) (View, error) {
	if len(shape) == 0 {
		return View{}, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	for i, d := range shape {
		if d <= 0 {
			return View{}, fmt.Errorf("%w: dimension %d is %d", ErrShapeMismatch, i, d)
		}
	}
	if n := NumElements(shape); n != len(data) {
		return View{}, fmt.Errorf("%w: shape %v needs %d elements, buffer has %d", ErrShapeMismatch, shape, n, len(data))
	}
	return View{
		data:    data,
		shape:   append([]int(nil), shape...),
		strides: Strides(shape),
	}, nil
}

// Rank returns the number of dimensions.
func (v View) Rank() int { return len(v.shape) }

// Shape returns a copy of the shape.
func (v View) Shape() []int { return append([]int(nil), v.shape...) }

// Stride returns a copy of the derived strides.
func (v View) Stride() []int { return append([]int(nil), v.strides...) }

// Dim returns the size of dimension i.
func (v View) Dim(i int) int { return v.shape[i] }

// Len returns the number of elements.
func (v View) Len() int { return len(v.data) }

// Offset returns the flat buffer offset of indices.
func (v View) Offset(indices ...int) (int, error) {
	if len(indices) != len(v.shape) {
		return 0, fmt.Errorf("%w: got %d indices for rank %d", ErrShapeMismatch, len(indices), len(v.shape))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= v.shape[i] {
			return 0, fmt.Errorf("%w: index %d is %d, dimension size %d", ErrOutOfBounds, i, idx, v.shape[i])
		}
		off += idx * v.strides[i]
	}
	return off, nil
}

// At returns the element at indices.
func (v View) At(indices ...int) (float32, error) {
	off, err := v.Offset(indices...)
	if err != nil {
		return 0, err
	}
	return v.data[off], nil
}

// Data exposes the underlying buffer for bulk handoff to native routines.
// Callers must treat it as read-only.
func (v View) Data() []float32 { return v.data }
