package algorithm

import (
	"github.com/notargets/KernelDispatch/dispatch"
	"github.com/notargets/KernelDispatch/vector"
)

// Range is an algorithm input or output: a host slice or a device vector.
type Range[T Number] struct {
	host []T
	dev  *vector.Vector[T]
}

// Host wraps a host slice.
func Host[T Number](s []T) Range[T] { return Range[T]{host: s} }

// Device wraps a device-resident vector.
func Device[T Number](v *vector.Vector[T]) Range[T] { return Range[T]{dev: v} }

// Len is the number of elements in the range.
func (r Range[T]) Len() int {
	if r.dev != nil {
		return r.dev.Len()
	}
	return len(r.host)
}

// Location reports where the range's data lives.
func (r Range[T]) Location() dispatch.Location {
	if r.dev != nil {
		return dispatch.DeviceResident
	}
	return dispatch.HostResident
}

func (r Range[T]) bytes() int64 {
	var zero T
	return int64(r.Len()) * int64(sizeOf(zero))
}
