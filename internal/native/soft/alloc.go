package soft

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"
)

// allocator hands out buffers the way the native adapter does: the library
// owns the memory until the matching free call.
type allocator struct {
	mu   sync.Mutex
	live map[unsafe.Pointer][]byte

	allocs       atomic.Uint64
	frees        atomic.Uint64
	invalidFrees atomic.Uint64
	fail         atomic.Bool
}

func newAllocator() *allocator {
	return &allocator{live: make(map[unsafe.Pointer][]byte)}
}

// alloc returns a zeroed buffer of n bytes and its pointer, or nil when
// allocation failure is being simulated.
func (a *allocator) alloc(n int) (unsafe.Pointer, []byte) {
	if a.fail.Load() || n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	ptr := unsafe.Pointer(&buf[0])

	a.mu.Lock()
	a.live[ptr] = buf
	a.mu.Unlock()
	a.allocs.Add(1)
	return ptr, buf
}

// free releases a buffer returned by alloc.
func (a *allocator) free(ptr unsafe.Pointer, count int) {
	a.mu.Lock()
	buf, ok := a.live[ptr]
	if ok {
		delete(a.live, ptr)
	}
	a.mu.Unlock()

	if !ok || len(buf) != count {
		a.invalidFrees.Add(1)
		slog.Error("invalid native buffer release",
			"known", ok,
			"count", count,
			"allocated", len(buf),
		)
		return
	}
	a.frees.Add(1)
}

func (a *allocator) outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
