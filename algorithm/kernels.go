package algorithm

import (
	"fmt"
	"unsafe"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/builder"
	"github.com/notargets/KernelDispatch/dispatch"
	"github.com/notargets/KernelDispatch/partitions"
	"github.com/notargets/KernelDispatch/vector"
	"gonum.org/v1/gonum/mat"
)

func sizeOf[T any](x T) int { return int(unsafe.Sizeof(x)) }

// kernelTypes is the per-call type information of a generated kernel
type kernelTypes struct {
	elem     string
	defs     *builder.TypeDefinitions
	preamble string
}

// typesFor builds the type preamble for element type T, embedding the
// functors' static tables.
func typesFor[T Number](acc *dispatch.Accelerator, tables ...map[string]mat.Matrix) (*kernelTypes, error) {
	dt := builder.DataTypeOf[T]()
	if dt == 0 {
		var zero T
		return nil, backend.Unsupported("no kernel type for %T", zero)
	}
	defs := builder.NewTypeDefinitions(dt, dispatch.InnerWidth)
	for _, t := range tables {
		for name, m := range t {
			defs.AddStaticMatrix(name, m)
		}
	}
	preamble := defs.Generate() + fmt.Sprintf("#define UNROLL_FACTOR %d\n", acc.Control().UnrollFactor)
	return &kernelTypes{elem: builder.TypeName(dt), defs: defs, preamble: preamble}, nil
}

// indexArg converts a count to the kernel's int_t.
func (kt *kernelTypes) indexArg(v int) any {
	if kt.defs.IntType == builder.INT32 {
		return int32(v)
	}
	return int64(v)
}

// offsetsBuffer uploads a plan's offsets as an int_t array.
func (kt *kernelTypes) offsetsBuffer(q backend.Queue, plan partitions.Plan) (backend.Buffer, error) {
	var raw []byte
	if kt.defs.IntType == builder.INT32 {
		offsets := make([]int32, len(plan.Offsets))
		for i, o := range plan.Offsets {
			offsets[i] = int32(o)
		}
		raw = backend.Bytes(offsets)
	} else {
		offsets := make([]int64, len(plan.Offsets))
		for i, o := range plan.Offsets {
			offsets[i] = int64(o)
		}
		raw = backend.Bytes(offsets)
	}
	buf, err := q.Alloc(len(raw))
	if err != nil {
		return nil, backend.OpError("alloc offsets", err)
	}
	if err := buf.Write(raw); err != nil {
		buf.Release()
		return nil, backend.OpError("write offsets", err)
	}
	return buf, nil
}

// userCode orders the generated preamble ahead of the functor code.
func userCode(kt *kernelTypes, functors ...string) []string {
	code := []string{kt.preamble}
	for _, f := range functors {
		if f != "" {
			code = append(code, f)
		}
	}
	return code
}

// onDevice returns the device vector an accelerator call reads, which must
// live in the accelerator's context.
func onDevice[T Number](acc *dispatch.Accelerator, v *vector.Vector[T]) (*vector.Vector[T], error) {
	if v == nil {
		return nil, fmt.Errorf("input was not staged to the device")
	}
	if v.Queue().Context().ID() != acc.Queue().Context().ID() {
		return nil, backend.Unsupported("device vector belongs to context %s, accelerator runs on %s",
			v.Queue().Context().ID(), acc.Queue().Context().ID())
	}
	return v, nil
}

// hostViews returns typed views of host mapped buffers for a kernel's host
// body.
func hostViews[T Number](name string, bufs ...backend.Buffer) ([][]T, error) {
	views := make([][]T, len(bufs))
	for i, b := range bufs {
		v, ok := backend.View[T](b)
		if !ok {
			return nil, fmt.Errorf("%s: buffer %d is not host addressable", name, i)
		}
		views[i] = v
	}
	return views, nil
}
