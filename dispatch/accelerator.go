package dispatch

import (
	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/builder"
	"github.com/notargets/KernelDispatch/compiler"
	"github.com/notargets/KernelDispatch/control"
	"github.com/notargets/KernelDispatch/partitions"
	"github.com/notargets/KernelDispatch/program"
	"github.com/notargets/KernelDispatch/wait"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InnerWidth is the number of inner work items per partition in generated
// kernels, emitted as KpartMax in the type preamble.
const InnerWidth = 64

// Accelerator is what an accelerator job sees: the Control's queue, program
// acquisition through the cache, and launches that wait per the Control.
type Accelerator struct {
	ctl   *control.Control
	queue backend.Queue
	cache *program.Cache
	site  compiler.CallSite
}

func newAccelerator(ctl *control.Control, cache *program.Cache, site compiler.CallSite) (*Accelerator, error) {
	if ctl.Queue == nil {
		return nil, backend.Unsupported("accelerator run at %s without an accelerator queue", site)
	}
	return &Accelerator{ctl: ctl, queue: ctl.Queue, cache: cache, site: site}, nil
}

// Control returns the control the job was dispatched with.
func (a *Accelerator) Control() *control.Control { return a.ctl }

// Queue returns the accelerator queue kernels are launched on.
func (a *Accelerator) Queue() backend.Queue { return a.queue }

// Program assembles asm and returns its compiled program, compiling only the
// first time this context, device set, option string and source are seen.
func (a *Accelerator) Program(asm builder.Assembly) (*program.CompiledProgram, error) {
	src, err := builder.Assemble(asm)
	if err != nil {
		return nil, errors.Wrapf(err, "assembling source at %s", a.site)
	}
	ctx := a.queue.Context()
	targets := compiler.Targets(a.ctl, a.queue)
	options := compiler.Options(a.ctl, ctx, a.queue.Device())
	key := program.NewKey(ctx, targets, options, src.Text)
	return a.cache.Acquire(key, func() (*program.CompiledProgram, error) {
		return compiler.Compile(a.ctl, ctx, targets, src, options, a.site)
	})
}

// Plan partitions n elements for a launch: WGPerComputeUnit partitions per
// compute unit, trimmed under AutoTuneWorkShape so no partition has fewer
// elements than there are inner work items.
func (a *Accelerator) Plan(n int) partitions.Plan {
	cu := a.queue.Device().ComputeUnits()
	if cu < 1 {
		cu = 1
	}
	parts := cu * a.ctl.WGPerComputeUnit
	if a.ctl.AutoTune&control.AutoTuneWorkShape != 0 {
		if byWidth := (n + InnerWidth - 1) / InnerWidth; byWidth < parts {
			if a.ctl.Debug.Has(control.DebugAutoTune) {
				klog.Infof("auto-tune: %d elements, partitions %d -> %d", n, parts, byWidth)
			}
			parts = byWidth
		}
	}
	return partitions.Split(n, parts)
}

// Launch enqueues the named kernel of cp and waits for it to complete.
func (a *Accelerator) Launch(cp *program.CompiledProgram, name string, launch backend.Launch) error {
	k, err := cp.Kernel(name)
	if err != nil {
		return err
	}
	if a.ctl.Debug.Has(control.DebugKernelRun) {
		klog.Infof("launch %s on %s: outer=%d inner=%d wait=%s",
			name, backend.Identity(a.queue.Device()), launch.Outer, launch.Inner, a.ctl.WaitMode)
	}
	ev, err := k.Enqueue(a.queue, launch)
	if err != nil {
		return backend.OpError("enqueue "+name, err)
	}
	return wait.For(a.ctl.WaitMode, a.queue, ev)
}
