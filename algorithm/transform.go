package algorithm

import (
	"fmt"
	"strings"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/builder"
	"github.com/notargets/KernelDispatch/compiler"
	"github.com/notargets/KernelDispatch/control"
	"github.com/notargets/KernelDispatch/dispatch"
	"github.com/notargets/KernelDispatch/multicore"
	"github.com/notargets/KernelDispatch/vector"
	"github.com/pkg/errors"
)

// Transform writes op(in[i]) to out[i]. out must hold at least in.Len()
// elements and may be the same range as in.
func Transform[T Number](ctl *control.Control, in, out Range[T], op UnaryOp[T]) error {
	return transform(dispatch.Default(), ctl, compiler.Caller(1), in, out, op)
}

func transform[T Number](d *dispatch.Dispatcher, ctl *control.Control, site compiler.CallSite,
	in, out Range[T], op UnaryOp[T]) error {
	if op.Fn == nil {
		return errors.New("transform: functor without a Go function")
	}
	n := in.Len()
	if out.Len() < n {
		return errors.Errorf("transform: output holds %d elements, input %d", out.Len(), n)
	}

	host := in.host
	devIn := in.dev
	var staged *vector.Vector[T]
	defer func() {
		if staged != nil {
			staged.Release()
		}
	}()

	job := &dispatch.Job{
		Name:     "transform",
		Size:     n,
		Location: in.Location(),
		Bytes:    in.bytes(),
		Site:     site,
		StageToHost: func() (err error) {
			host, err = in.dev.ToHost()
			return err
		},
		StageToDevice: func(acc *dispatch.Accelerator) (err error) {
			staged, err = vector.FromHost(acc.Queue(), in.host)
			devIn = staged
			return err
		},
		Serial: func() error {
			return out.store(applyHost(host, n, op))
		},
		MultiCore: func(pool *multicore.Pool) error {
			dst := out.host
			if dst == nil {
				dst = make([]T, n)
			}
			plan := pool.Plan(n, control.OrDefault(ctl).WGPerComputeUnit)
			err := pool.ParallelFor(plan, func(_, start, end int) error {
				for i := start; i < end; i++ {
					dst[i] = op.Fn(host[i])
				}
				return nil
			})
			if err != nil {
				return err
			}
			return out.store(dst[:n])
		},
		Accelerator: func(acc *dispatch.Accelerator) error {
			v, err := onDevice(acc, devIn)
			if err != nil {
				return err
			}
			return transformOnDevice(acc, v, out, op)
		},
	}
	_, err := d.Run(ctl, job)
	return err
}

// applyHost computes op over the first n elements of src.
func applyHost[T Number](src []T, n int, op UnaryOp[T]) []T {
	dst := make([]T, n)
	for i := 0; i < n; i++ {
		dst[i] = op.Fn(src[i])
	}
	return dst
}

// store copies host results into the range.
func (r Range[T]) store(vals []T) error {
	if r.dev != nil {
		return r.dev.Write(vals)
	}
	copy(r.host, vals)
	return nil
}

func transformOnDevice[T Number](acc *dispatch.Accelerator, in *vector.Vector[T], out Range[T], op UnaryOp[T]) error {
	n := in.Len()
	if n == 0 {
		return nil
	}
	kt, err := typesFor[T](acc, op.Tables)
	if err != nil {
		return err
	}
	cp, err := acc.Program(builder.Assembly{
		Template:  transformTemplate,
		UserCode:  userCode(kt, op.Code),
		TypeNames: []string{kt.elem},
		Instantiate: func(typeNames []string) (string, []string) {
			var sb strings.Builder
			for _, tn := range typeNames {
				fmt.Fprintf(&sb, "KD_TRANSFORM_KERNEL(%s, %s, %s)\n", builder.EntryPoint("transform"), tn, op.Name)
			}
			return sb.String(), []string{"transform"}
		},
	})
	if err != nil {
		return err
	}

	q := acc.Queue()
	devOut := out.dev
	if devOut != nil {
		if devOut, err = onDevice(acc, devOut); err != nil {
			return err
		}
	} else {
		if devOut, err = vector.New[T](q, n); err != nil {
			return err
		}
		defer devOut.Release()
	}

	plan := acc.Plan(n)
	offsets, err := kt.offsetsBuffer(q, plan)
	if err != nil {
		return err
	}
	defer offsets.Release()

	err = acc.Launch(cp, builder.EntryPoint("transform"), backend.Launch{
		Outer: plan.NumPartitions,
		Inner: dispatch.InnerWidth,
		Args:  []any{kt.indexArg(plan.NumPartitions), offsets, in.Buffer(), devOut.Buffer()},
		Body: func(part int) error {
			views, err := hostViews[T]("transform", in.Buffer(), devOut.Buffer())
			if err != nil {
				return err
			}
			src, dst := views[0], views[1]
			lo, hi := plan.Range(part)
			for i := lo; i < hi; i++ {
				dst[i] = op.Fn(src[i])
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	if out.dev == nil {
		return devOut.Read(out.host[:n])
	}
	return nil
}
