// Package vector holds typed device-resident arrays.
package vector

import (
	"unsafe"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/pkg/errors"
)

// Vector is a typed array in device memory on one queue.
type Vector[T any] struct {
	queue  backend.Queue
	buffer backend.Buffer
	n      int
}

func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// New allocates n zeroed-or-undefined elements on q.
func New[T any](q backend.Queue, n int) (*Vector[T], error) {
	if q == nil {
		return nil, backend.Unsupported("device vector needs a queue")
	}
	if n < 0 {
		return nil, errors.Errorf("negative vector length %d", n)
	}
	buf, err := q.Alloc(n * elemSize[T]())
	if err != nil {
		return nil, backend.OpError("alloc", err)
	}
	return &Vector[T]{queue: q, buffer: buf, n: n}, nil
}

// FromHost allocates a vector on q holding a copy of host.
func FromHost[T any](q backend.Queue, host []T) (*Vector[T], error) {
	v, err := New[T](q, len(host))
	if err != nil {
		return nil, err
	}
	if err := v.Write(host); err != nil {
		v.Release()
		return nil, err
	}
	return v, nil
}

func (v *Vector[T]) Len() int               { return v.n }
func (v *Vector[T]) Queue() backend.Queue   { return v.queue }
func (v *Vector[T]) Buffer() backend.Buffer { return v.buffer }

// Bytes returns the size of the vector's data.
func (v *Vector[T]) Bytes() int64 { return int64(v.n) * int64(elemSize[T]()) }

// Write copies host into the start of the vector.
func (v *Vector[T]) Write(host []T) error {
	if len(host) > v.n {
		return errors.Errorf("write of %d elements into vector of %d", len(host), v.n)
	}
	return backend.OpError("write", v.buffer.Write(backend.Bytes(host)))
}

// Read copies the start of the vector into host.
func (v *Vector[T]) Read(host []T) error {
	if len(host) > v.n {
		return errors.Errorf("read of %d elements from vector of %d", len(host), v.n)
	}
	return backend.OpError("read", v.buffer.Read(backend.Bytes(host)))
}

// ToHost returns a host copy of the vector.
func (v *Vector[T]) ToHost() ([]T, error) {
	host := make([]T, v.n)
	if err := v.Read(host); err != nil {
		return nil, err
	}
	return host, nil
}

// Release frees the device memory.
func (v *Vector[T]) Release() {
	if v.buffer != nil {
		v.buffer.Release()
		v.buffer = nil
	}
}
