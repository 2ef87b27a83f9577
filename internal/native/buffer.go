package native

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

var (
	// ErrNativeAllocationFailed is returned when a native routine hands back a null buffer.
	ErrNativeAllocationFailed = errors.New("native: allocation failed")
	// ErrBufferReleased is returned when a released buffer is read.
	ErrBufferReleased = errors.New("native: buffer already released")
)

// FreeFunc is the native routine that releases a buffer it allocated.
type FreeFunc func(ptr unsafe.Pointer, count int)

// Buffer owns one natively allocated byte buffer until Release.
// It is not safe to share across goroutines.
type Buffer struct {
	ptr   unsafe.Pointer
	count int
	free  FreeFunc
	once  sync.Once
}

// Acquire wraps a buffer returned by a native routine. count must come from the
// call's declared output dimensions, not from the routine's return value.
// A nil ptr fails with ErrNativeAllocationFailed and free is never called.
func Acquire(ptr unsafe.Pointer, count int, free FreeFunc) (*Buffer, error) {
	if ptr == nil {
		return nil, ErrNativeAllocationFailed
	}
	if count < 0 {
		free(ptr, 0)
		return nil, fmt.Errorf("native: negative element count %d", count)
	}
	return &Buffer{ptr: ptr, count: count, free: free}, nil
}

// Len returns the element count the buffer was acquired with.
func (b *Buffer) Len() int { return b.count }

// Released reports whether Release has run.
func (b *Buffer) Released() bool { return b.ptr == nil }

// CopyOut copies the buffer into Go memory.
func (b *Buffer) CopyOut() ([]byte, error) {
	if b.ptr == nil {
		return nil, ErrBufferReleased
	}
	out := make([]byte, b.count)
	copy(out, unsafe.Slice((*byte)(b.ptr), b.count))
	return out, nil
}

// Release hands the buffer back to the native allocator. The free routine runs
// exactly once no matter how many times Release is called; the pointer is
// cleared afterwards.
func (b *Buffer) Release() {
	b.once.Do(func() {
		ptr := b.ptr
		b.ptr = nil
		b.free(ptr, b.count)
	})
}

// Consume copies out and releases buf. It is the usual way to take ownership of
// a native result: release happens on every path, including a failed copy.
func Consume(buf *Buffer, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	return buf.CopyOut()
}
