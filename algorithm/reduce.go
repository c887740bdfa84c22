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
	"github.com/notargets/KernelDispatch/partitions"
	"github.com/notargets/KernelDispatch/program"
	"github.com/notargets/KernelDispatch/vector"
)

// Reduce folds in with op, starting from init. op must be associative; the
// accelerator backend also reorders operands, so it must be commutative for
// results to match the host backends exactly.
func Reduce[T Number](ctl *control.Control, in Range[T], init T, op BinaryOp[T]) (T, error) {
	return transformReduce(dispatch.Default(), ctl, compiler.Caller(1), "reduce", in, init, identity[T](), op)
}

// TransformReduce applies xf to every element of in and folds the results
// with op, starting from init.
func TransformReduce[T Number](ctl *control.Control, in Range[T], xf UnaryOp[T], init T, op BinaryOp[T]) (T, error) {
	return transformReduce(dispatch.Default(), ctl, compiler.Caller(1), "transform_reduce", in, init, xf, op)
}

func transformReduce[T Number](d *dispatch.Dispatcher, ctl *control.Control, site compiler.CallSite,
	name string, in Range[T], init T, xf UnaryOp[T], op BinaryOp[T]) (T, error) {
	if op.Fn == nil || xf.Fn == nil {
		return init, fmt.Errorf("%s: functor without a Go function", name)
	}

	host := in.host
	devIn := in.dev
	var staged *vector.Vector[T]
	defer func() {
		if staged != nil {
			staged.Release()
		}
	}()

	result := init
	job := &dispatch.Job{
		Name:     name,
		Size:     in.Len(),
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
			for _, x := range host {
				result = op.Fn(result, xf.Fn(x))
			}
			return nil
		},
		MultiCore: func(pool *multicore.Pool) error {
			plan := pool.Plan(len(host), control.OrDefault(ctl).WGPerComputeUnit)
			partials := make([]T, plan.NumPartitions)
			err := pool.ParallelFor(plan, func(part, start, end int) error {
				acc := xf.Fn(host[start])
				for i := start + 1; i < end; i++ {
					acc = op.Fn(acc, xf.Fn(host[i]))
				}
				partials[part] = acc
				return nil
			})
			if err != nil {
				return err
			}
			for _, p := range partials {
				result = op.Fn(result, p)
			}
			return nil
		},
		Accelerator: func(acc *dispatch.Accelerator) error {
			v, err := onDevice(acc, devIn)
			if err != nil {
				return err
			}
			r, err := reduceOnDevice(acc, v, init, xf, op)
			result = r
			return err
		},
	}
	_, err := d.Run(ctl, job)
	if err != nil {
		return init, err
	}
	return result, nil
}

func reduceOnDevice[T Number](acc *dispatch.Accelerator, in *vector.Vector[T], init T,
	xf UnaryOp[T], op BinaryOp[T]) (T, error) {
	n := in.Len()
	if n == 0 {
		return init, nil
	}
	kt, err := typesFor[T](acc, xf.Tables, op.Tables)
	if err != nil {
		return init, err
	}
	cp, err := acc.Program(builder.Assembly{
		Template:  reduceTemplate,
		UserCode:  userCode(kt, xf.Code, op.Code),
		TypeNames: []string{kt.elem},
		Instantiate: func(typeNames []string) (string, []string) {
			var sb strings.Builder
			for _, tn := range typeNames {
				fmt.Fprintf(&sb, "KD_REDUCE_KERNEL(%s, %s, %s, %s)\n", builder.EntryPoint("reduce"), tn, xf.Name, op.Name)
				fmt.Fprintf(&sb, "KD_REDUCE_FINAL_KERNEL(%s, %s, %s)\n", builder.EntryPoint("reduce_final"), tn, op.Name)
			}
			return sb.String(), []string{"reduce", "reduce_final"}
		},
	})
	if err != nil {
		return init, err
	}

	q := acc.Queue()
	plan := acc.Plan(n)
	var zero T
	widths := make([]int, plan.NumPartitions)
	for i := range widths {
		widths[i] = dispatch.InnerWidth
	}
	// Lane partials are laid out KpartMax per partition, which the kernel
	// indexes as part * KpartMax.
	poffsets, pbytes := partitions.AlignedOffsets(widths, int64(sizeOf(zero)), partitions.NoAlignment)

	offsets, err := kt.offsetsBuffer(q, plan)
	if err != nil {
		return init, err
	}
	defer offsets.Release()
	partials, err := q.Alloc(int(pbytes))
	if err != nil {
		return init, backend.OpError("alloc partials", err)
	}
	defer partials.Release()

	err = acc.Launch(cp, builder.EntryPoint("reduce"), backend.Launch{
		Outer: plan.NumPartitions,
		Inner: dispatch.InnerWidth,
		Args:  []any{kt.indexArg(plan.NumPartitions), offsets, in.Buffer(), partials},
		Body: func(part int) error {
			views, err := hostViews[T]("reduce", in.Buffer(), partials)
			if err != nil {
				return err
			}
			src, dst := views[0], views[1]
			lo, hi := plan.Range(part)
			for lane := 0; lane < dispatch.InnerWidth && lo+lane < hi; lane++ {
				a := xf.Fn(src[lo+lane])
				for i := lo + lane + dispatch.InnerWidth; i < hi; i += dispatch.InnerWidth {
					a = op.Fn(a, xf.Fn(src[i]))
				}
				dst[int(poffsets[part])+lane] = a
			}
			return nil
		},
	})
	if err != nil {
		return init, err
	}

	// NoUseHost keeps the final fold on the device and reads back one value.
	if acc.Control().UseHost == control.NoUseHost {
		return foldOnDevice(acc, cp, kt, plan, offsets, partials, poffsets, init, op)
	}
	host := make([]T, int(pbytes)/sizeOf(zero))
	if err := partials.Read(backend.Bytes(host)); err != nil {
		return init, backend.OpError("read partials", err)
	}
	return foldPartials(host, plan, poffsets, init, op), nil
}

// foldPartials folds the written lanes of every partition into init. A
// partition smaller than KpartMax leaves its upper lanes unwritten.
func foldPartials[T Number](partials []T, plan partitions.Plan, poffsets []int64, init T, op BinaryOp[T]) T {
	result := init
	for part := 0; part < plan.NumPartitions; part++ {
		lanes := min(plan.K[part], dispatch.InnerWidth)
		base := int(poffsets[part])
		for lane := 0; lane < lanes; lane++ {
			result = op.Fn(result, partials[base+lane])
		}
	}
	return result
}

func foldOnDevice[T Number](acc *dispatch.Accelerator, cp *program.CompiledProgram, kt *kernelTypes,
	plan partitions.Plan, offsets, partials backend.Buffer, poffsets []int64, init T, op BinaryOp[T]) (T, error) {
	result, err := vector.New[T](acc.Queue(), 1)
	if err != nil {
		return init, err
	}
	defer result.Release()

	err = acc.Launch(cp, builder.EntryPoint("reduce_final"), backend.Launch{
		Outer: 1,
		Inner: 1,
		Args:  []any{kt.indexArg(plan.NumPartitions), offsets, init, partials, result.Buffer()},
		Body: func(int) error {
			views, err := hostViews[T]("reduce_final", partials, result.Buffer())
			if err != nil {
				return err
			}
			views[1][0] = foldPartials(views[0], plan, poffsets, init, op)
			return nil
		},
	})
	if err != nil {
		return init, err
	}
	host, err := result.ToHost()
	if err != nil {
		return init, err
	}
	return host[0], nil
}
