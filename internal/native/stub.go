//go:build !wallnative

package native

// CGOAvailable reports whether the native adapter library is linked in.
const CGOAvailable = false

// OpenCGO returns ErrNativeUnavailable when built without the wallnative tag.
func OpenCGO() (Library, error) {
	return nil, ErrNativeUnavailable
}
