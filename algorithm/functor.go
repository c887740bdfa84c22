// Package algorithm is the STL-style entry layer: each call describes its
// work for the serial, multi-core and accelerator backends and hands it to
// the dispatcher.
//
// A functor carries both a Go function, used by the host backends and the
// emulated device, and kernel-language code defining a macro of the same
// name, used in generated kernels. The two must agree; nothing checks that
// they do.
package algorithm

import (
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/mat"
)

// Number is the element type set the algorithms accept. The accelerator
// backend additionally needs a kernel type (float32, float64, int32, int64).
type Number interface {
	constraints.Integer | constraints.Float
}

// BinaryOp is an associative binary functor. Name must be defined by Code as
// a two-argument macro or function.
type BinaryOp[T Number] struct {
	Name string
	Code string
	Fn   func(a, b T) T
	// Tables are static matrices referenced by Code, embedded column-major
	Tables map[string]mat.Matrix
}

// UnaryOp is a unary functor. Name must be defined by Code.
type UnaryOp[T Number] struct {
	Name   string
	Code   string
	Fn     func(x T) T
	Tables map[string]mat.Matrix
}

const identityName = "kd_identity"

// Plus returns a + b
func Plus[T Number]() BinaryOp[T] {
	return BinaryOp[T]{
		Name: "kd_plus",
		Code: "#define kd_plus(a, b) ((a) + (b))",
		Fn:   func(a, b T) T { return a + b },
	}
}

// Multiplies returns a * b
func Multiplies[T Number]() BinaryOp[T] {
	return BinaryOp[T]{
		Name: "kd_multiplies",
		Code: "#define kd_multiplies(a, b) ((a) * (b))",
		Fn:   func(a, b T) T { return a * b },
	}
}

// Maximum returns the larger of a and b
func Maximum[T Number]() BinaryOp[T] {
	return BinaryOp[T]{
		Name: "kd_maximum",
		Code: "#define kd_maximum(a, b) ((a) > (b) ? (a) : (b))",
		Fn:   func(a, b T) T { return max(a, b) },
	}
}

// Minimum returns the smaller of a and b
func Minimum[T Number]() BinaryOp[T] {
	return BinaryOp[T]{
		Name: "kd_minimum",
		Code: "#define kd_minimum(a, b) ((a) < (b) ? (a) : (b))",
		Fn:   func(a, b T) T { return min(a, b) },
	}
}

// Negate returns -x
func Negate[T Number]() UnaryOp[T] {
	return UnaryOp[T]{
		Name: "kd_negate",
		Code: "#define kd_negate(x) (-(x))",
		Fn:   func(x T) T { return -x },
	}
}

// Square returns x * x
func Square[T Number]() UnaryOp[T] {
	return UnaryOp[T]{
		Name: "kd_square",
		Code: "#define kd_square(x) ((x) * (x))",
		Fn:   func(x T) T { return x * x },
	}
}

func identity[T Number]() UnaryOp[T] {
	return UnaryOp[T]{Name: identityName, Fn: func(x T) T { return x }}
}
