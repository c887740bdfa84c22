// Package dispatch decides, per call, whether an algorithm runs serially on
// the calling goroutine, on the multi-core backend or on the accelerator,
// and performs the staging copies that decision implies.
package dispatch

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/notargets/KernelDispatch/compiler"
	"github.com/notargets/KernelDispatch/control"
	"github.com/notargets/KernelDispatch/multicore"
	"github.com/notargets/KernelDispatch/program"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Job is one algorithm call, written once per backend.
type Job struct {
	Name     string
	Size     int
	Location Location
	// Bytes is the size of the data a staging copy moves
	Bytes int64
	Site  compiler.CallSite

	Serial      func() error
	MultiCore   func(pool *multicore.Pool) error
	Accelerator func(acc *Accelerator) error

	// StageToHost copies device-resident input to host memory
	StageToHost func() error
	// StageToDevice copies host input to the accelerator
	StageToDevice func(acc *Accelerator) error
}

// Executor runs jobs on one backend.
type Executor interface {
	Mode() control.RunMode
	// Execute performs the staging copies in staging, then runs the job.
	Execute(ctl *control.Control, job *Job, staging Staging) error
}

// Dispatcher selects an executor per call.
type Dispatcher struct {
	cache     *program.Cache
	pool      *multicore.Pool
	executors map[control.RunMode]Executor
}

// New creates a dispatcher compiling into cache and running host-parallel
// work on pool.
func New(cache *program.Cache, pool *multicore.Pool) *Dispatcher {
	d := &Dispatcher{cache: cache, pool: pool}
	d.executors = map[control.RunMode]Executor{
		control.SerialCpu:    serialExecutor{},
		control.MultiCoreCpu: multicoreExecutor{pool: pool},
		control.Accelerator:  acceleratorExecutor{cache: cache},
	}
	return d
}

var (
	defaultOnce       sync.Once
	defaultDispatcher *Dispatcher
)

// Default returns the dispatcher over the process program cache and pool.
func Default() *Dispatcher {
	defaultOnce.Do(func() {
		defaultDispatcher = New(program.Global(), multicore.Default())
	})
	return defaultDispatcher
}

// Cache returns the program cache accelerator jobs compile into.
func (d *Dispatcher) Cache() *program.Cache { return d.cache }

// Pool returns the worker pool used by the multicore tier.
func (d *Dispatcher) Pool() *multicore.Pool { return d.pool }

// Executor returns the executor for a concrete run mode.
func (d *Dispatcher) Executor(mode control.RunMode) (Executor, bool) {
	ex, found := d.executors[mode]
	return ex, found
}

// Run selects a backend for job under ctl (the process default when nil),
// stages data as needed and executes it. The decision is returned even when
// execution fails.
func (d *Dispatcher) Run(ctl *control.Control, job *Job) (Decision, error) {
	ctl = control.OrDefault(ctl)
	if err := ctl.Validate(); err != nil {
		return Decision{}, err
	}
	dec, err := Select(ctl, job.Size, job.Location, ctl.Queue != nil)
	if err != nil {
		return Decision{}, errors.WithMessagef(err, "%s at %s", job.Name, job.Site)
	}
	if ctl.Debug.Has(control.DebugKernelRun) {
		klog.Infof("%s: %d elements on %s -> %s", job.Name, job.Size, job.Location, dec)
	} else {
		klog.V(2).Infof("%s: %d elements on %s -> %s", job.Name, job.Size, job.Location, dec)
	}
	ex, found := d.executors[dec.Mode]
	if !found {
		return dec, errors.Errorf("no executor for %s", dec.Mode)
	}
	return dec, ex.Execute(ctl, job, dec.Staging)
}

// stage runs one staging copy. Staging copies are synchronous and their
// cost is logged under DebugKernelRun.
func stage(ctl *control.Control, job *Job, direction Staging, copyFn func() error) error {
	if copyFn == nil {
		return errors.Errorf("%s: %s staging needed but the job has no copy", job.Name, direction)
	}
	if ctl.Debug.Has(control.DebugKernelRun) {
		klog.Infof("%s: staging %s %s", job.Name, humanize.Bytes(uint64(max(job.Bytes, 0))), direction)
	}
	if err := copyFn(); err != nil {
		return errors.Wrapf(err, "%s: staging %s", job.Name, direction)
	}
	return nil
}

type serialExecutor struct{}

func (serialExecutor) Mode() control.RunMode { return control.SerialCpu }

func (serialExecutor) Execute(ctl *control.Control, job *Job, staging Staging) error {
	if job.Serial == nil {
		return errors.Errorf("%s has no serial implementation", job.Name)
	}
	if staging&StageToHost != 0 {
		if err := stage(ctl, job, StageToHost, job.StageToHost); err != nil {
			return err
		}
	}
	return job.Serial()
}

type multicoreExecutor struct {
	pool *multicore.Pool
}

func (multicoreExecutor) Mode() control.RunMode { return control.MultiCoreCpu }

func (e multicoreExecutor) Execute(ctl *control.Control, job *Job, staging Staging) error {
	if job.MultiCore == nil {
		return errors.Errorf("%s has no multi-core implementation", job.Name)
	}
	if staging&StageToHost != 0 {
		if err := stage(ctl, job, StageToHost, job.StageToHost); err != nil {
			return err
		}
	}
	return job.MultiCore(e.pool)
}

type acceleratorExecutor struct {
	cache *program.Cache
}

func (acceleratorExecutor) Mode() control.RunMode { return control.Accelerator }

func (e acceleratorExecutor) Execute(ctl *control.Control, job *Job, staging Staging) error {
	if job.Accelerator == nil {
		return errors.Errorf("%s has no accelerator implementation", job.Name)
	}
	acc, err := newAccelerator(ctl, e.cache, job.Site)
	if err != nil {
		return err
	}
	if staging&StageToDevice != 0 {
		var copyFn func() error
		if job.StageToDevice != nil {
			copyFn = func() error { return job.StageToDevice(acc) }
		}
		if err := stage(ctl, job, StageToDevice, copyFn); err != nil {
			return err
		}
	}
	return job.Accelerator(acc)
}
