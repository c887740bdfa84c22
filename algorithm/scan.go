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
	"github.com/pkg/errors"
)

// InclusiveScan writes op(in[0], ..., in[i]) to out[i]. op must be
// associative. Partitions are scanned independently and then offset by the
// running total of the partitions before them.
func InclusiveScan[T Number](ctl *control.Control, in, out Range[T], op BinaryOp[T]) error {
	return inclusiveScan(dispatch.Default(), ctl, compiler.Caller(1), in, out, op)
}

// ExclusiveScan writes op(init, in[0], ..., in[i-1]) to out[i], so out[0]
// is init. op must be associative. It runs the inclusive scan and then
// shifts it by one element, seeding every output with init.
func ExclusiveScan[T Number](ctl *control.Control, in, out Range[T], init T, op BinaryOp[T]) error {
	return exclusiveScan(dispatch.Default(), ctl, compiler.Caller(1), in, out, init, op)
}

func inclusiveScan[T Number](d *dispatch.Dispatcher, ctl *control.Control, site compiler.CallSite,
	in, out Range[T], op BinaryOp[T]) error {
	return scan(d, ctl, site, "inclusive_scan", in, out, op, nil)
}

func exclusiveScan[T Number](d *dispatch.Dispatcher, ctl *control.Control, site compiler.CallSite,
	in, out Range[T], init T, op BinaryOp[T]) error {
	return scan(d, ctl, site, "exclusive_scan", in, out, op, &init)
}

// scan is the inclusive scan, shifted and seeded with *seed when seed is
// not nil.
func scan[T Number](d *dispatch.Dispatcher, ctl *control.Control, site compiler.CallSite,
	name string, in, out Range[T], op BinaryOp[T], seed *T) error {
	if op.Fn == nil {
		return errors.Errorf("%s: functor without a Go function", name)
	}
	n := in.Len()
	if out.Len() < n {
		return errors.Errorf("%s: output holds %d elements, input %d", name, out.Len(), n)
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
		Name:     name,
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
			dst := make([]T, n)
			scanRange(host, dst, 0, n, op)
			if seed != nil {
				shifted := make([]T, n)
				shiftRange(dst, shifted, 0, n, *seed, op)
				dst = shifted
			}
			return out.store(dst)
		},
		MultiCore: func(pool *multicore.Pool) error {
			dst := make([]T, n)
			plan := pool.Plan(n, control.OrDefault(ctl).WGPerComputeUnit)
			totals := make([]T, plan.NumPartitions)
			err := pool.ParallelFor(plan, func(part, start, end int) error {
				totals[part] = scanRange(host, dst, start, end, op)
				return nil
			})
			if err != nil {
				return err
			}
			carries := carriesOf(totals, op)
			err = pool.ParallelFor(plan, func(part, start, end int) error {
				if part == 0 {
					return nil
				}
				for i := start; i < end; i++ {
					dst[i] = op.Fn(carries[part], dst[i])
				}
				return nil
			})
			if err != nil {
				return err
			}
			if seed != nil {
				shifted := make([]T, n)
				err = pool.ParallelFor(plan, func(part, start, end int) error {
					shiftRange(dst, shifted, start, end, *seed, op)
					return nil
				})
				if err != nil {
					return err
				}
				dst = shifted
			}
			return out.store(dst)
		},
		Accelerator: func(acc *dispatch.Accelerator) error {
			v, err := onDevice(acc, devIn)
			if err != nil {
				return err
			}
			return scanOnDevice(acc, v, out, op, seed)
		},
	}
	_, err := d.Run(ctl, job)
	return err
}

// scanRange scans src[start:end) into dst and returns the partition total.
func scanRange[T Number](src, dst []T, start, end int, op BinaryOp[T]) T {
	var acc T
	for i := start; i < end; i++ {
		if i == start {
			acc = src[i]
		} else {
			acc = op.Fn(acc, src[i])
		}
		dst[i] = acc
	}
	return acc
}

// shiftRange writes the seeded exclusive scan of [start, end) from the
// inclusive scan incl. Element i reads incl[i-1], which may belong to the
// previous partition.
func shiftRange[T Number](incl, dst []T, start, end int, init T, op BinaryOp[T]) {
	for i := start; i < end; i++ {
		if i == 0 {
			dst[i] = init
		} else {
			dst[i] = op.Fn(init, incl[i-1])
		}
	}
}

// carriesOf returns, per partition, the fold of all earlier partition
// totals. carries[0] has no predecessors and is left zero.
func carriesOf[T Number](totals []T, op BinaryOp[T]) []T {
	carries := make([]T, len(totals))
	for p := 1; p < len(totals); p++ {
		if p == 1 {
			carries[p] = totals[0]
		} else {
			carries[p] = op.Fn(carries[p-1], totals[p-1])
		}
	}
	return carries
}

func scanOnDevice[T Number](acc *dispatch.Accelerator, in *vector.Vector[T], out Range[T], op BinaryOp[T], seed *T) error {
	n := in.Len()
	if n == 0 {
		return nil
	}
	kt, err := typesFor[T](acc, op.Tables)
	if err != nil {
		return err
	}
	scanName, addName, shiftName := builder.EntryPoint("scan"), builder.EntryPoint("scan_add"), builder.EntryPoint("scan_shift")
	cp, err := acc.Program(builder.Assembly{
		Template:  scanTemplate,
		UserCode:  userCode(kt, op.Code),
		TypeNames: []string{kt.elem},
		Instantiate: func(typeNames []string) (string, []string) {
			var sb strings.Builder
			for _, tn := range typeNames {
				fmt.Fprintf(&sb, "KD_SCAN_KERNELS(%s, %s, %s, %s)\n", scanName, addName, tn, op.Name)
				if seed != nil {
					fmt.Fprintf(&sb, "KD_SHIFT_KERNEL(%s, %s, %s)\n", shiftName, tn, op.Name)
				}
			}
			if seed != nil {
				return sb.String(), []string{"scan", "scan_add", "scan_shift"}
			}
			return sb.String(), []string{"scan", "scan_add"}
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
	// An exclusive scan runs the inclusive scan into a scratch vector and
	// shifts it into devOut.
	incl := devOut
	if seed != nil {
		if incl, err = vector.New[T](q, n); err != nil {
			return err
		}
		defer incl.Release()
	}

	plan := acc.Plan(n)
	offsets, err := kt.offsetsBuffer(q, plan)
	if err != nil {
		return err
	}
	defer offsets.Release()
	totals, err := vector.New[T](q, plan.NumPartitions)
	if err != nil {
		return err
	}
	defer totals.Release()

	err = acc.Launch(cp, scanName, backend.Launch{
		Outer: plan.NumPartitions,
		Inner: 1,
		Args:  []any{kt.indexArg(plan.NumPartitions), offsets, in.Buffer(), incl.Buffer(), totals.Buffer()},
		Body: func(part int) error {
			views, err := hostViews[T]("scan", in.Buffer(), incl.Buffer(), totals.Buffer())
			if err != nil {
				return err
			}
			lo, hi := plan.Range(part)
			views[2][part] = scanRange(views[0], views[1], lo, hi, op)
			return nil
		},
	})
	if err != nil {
		return err
	}

	if plan.NumPartitions > 1 {
		if err := addCarries(acc, cp, addName, kt, plan, offsets, totals, incl, op); err != nil {
			return err
		}
	}
	if seed != nil {
		init := *seed
		err = acc.Launch(cp, shiftName, backend.Launch{
			Outer: plan.NumPartitions,
			Inner: dispatch.InnerWidth,
			Args:  []any{kt.indexArg(plan.NumPartitions), offsets, init, incl.Buffer(), devOut.Buffer()},
			Body: func(part int) error {
				views, err := hostViews[T]("scan_shift", incl.Buffer(), devOut.Buffer())
				if err != nil {
					return err
				}
				lo, hi := plan.Range(part)
				shiftRange(views[0], views[1], lo, hi, init, op)
				return nil
			},
		})
		if err != nil {
			return err
		}
	}
	if out.dev == nil {
		return devOut.Read(out.host[:n])
	}
	return nil
}

// addCarries folds each partition's carry into its scanned elements.
func addCarries[T Number](acc *dispatch.Accelerator, cp *program.CompiledProgram, name string,
	kt *kernelTypes, plan partitions.Plan, offsets backend.Buffer, totals, out *vector.Vector[T],
	op BinaryOp[T]) error {
	host, err := totals.ToHost()
	if err != nil {
		return err
	}
	carries, err := vector.FromHost(acc.Queue(), carriesOf(host, op))
	if err != nil {
		return err
	}
	defer carries.Release()

	return acc.Launch(cp, name, backend.Launch{
		Outer: plan.NumPartitions,
		Inner: dispatch.InnerWidth,
		Args:  []any{kt.indexArg(plan.NumPartitions), offsets, carries.Buffer(), out.Buffer()},
		Body: func(part int) error {
			if part == 0 {
				return nil
			}
			views, err := hostViews[T]("scan_add", carries.Buffer(), out.Buffer())
			if err != nil {
				return err
			}
			lo, hi := plan.Range(part)
			for i := lo; i < hi; i++ {
				views[1][i] = op.Fn(views[0][part], views[1][i])
			}
			return nil
		},
	})
}
