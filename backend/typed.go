package backend

import "unsafe"

// Bytes reinterprets a slice of plain values as its backing bytes.
func Bytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// HostMapped is implemented by buffers whose storage is host addressable.
type HostMapped interface {
	HostBytes() []byte
}

// View returns a typed view over a host mapped buffer. The second result is
// false when the buffer lives in memory the host cannot address.
func View[T any](b Buffer) ([]T, bool) {
	m, ok := b.(HostMapped)
	if !ok {
		return nil, false
	}
	raw := m.HostBytes()
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(raw) == 0 || size == 0 {
		return nil, true
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw))), len(raw)/size), true
}
