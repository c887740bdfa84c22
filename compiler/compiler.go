// Package compiler turns assembled source into a compiled program on the
// devices of a Control's queue, with full diagnostics on failure.
package compiler

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/builder"
	"github.com/notargets/KernelDispatch/control"
	"github.com/notargets/KernelDispatch/program"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TempsDirName is the directory created under Control.TempDir (or the
// system temporary directory) for saved compiler temporaries.
const TempsDirName = "kerneldispatch-temps"

// Options returns the effective compile options for a build on device: the
// runtime's defaults, then the Control's extra options, then flags turned on
// by debug settings.
func Options(ctl *control.Control, ctx backend.Context, device backend.Device) string {
	var opts []string
	if ctx != nil {
		if def := strings.TrimSpace(ctx.DefaultOptions(device)); def != "" {
			opts = append(opts, def)
		}
	}
	if extra := strings.TrimSpace(ctl.CompileOptions); extra != "" {
		opts = append(opts, extra)
	}
	if ctl.Debug.Has(control.DebugSaveCompilerTemps) {
		dir := ctl.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		opts = append(opts, "-save-temps="+filepath.Join(dir, TempsDirName))
	}
	return strings.Join(opts, " ")
}

// Targets returns the devices a program is built for: every device of the
// queue's context when CompileForAllDevices is set, else the queue's device.
func Targets(ctl *control.Control, q backend.Queue) []backend.Device {
	if ctl.CompileForAllDevices {
		if devices := q.Context().Devices(); len(devices) > 0 {
			return devices
		}
	}
	return []backend.Device{q.Device()}
}

// Compile builds src on targets and extracts each of its kernels. Any
// failure, in the build or in a kernel lookup, is a *CompileFailure.
func Compile(ctl *control.Control, ctx backend.Context, targets []backend.Device,
	src builder.Source, options string, site CallSite) (*program.CompiledProgram, error) {
	if ctx == nil || len(targets) == 0 {
		return nil, backend.Unsupported("compile at %s: no device to compile for", site)
	}
	if ctl.Debug.Has(control.DebugShowCode) {
		klog.Infof("compiling %v for %s with options %q:\n%s",
			src.KernelNames, backend.Identities(targets), options, src.Text)
	}

	start := time.Now()
	prog, err := ctx.Build(targets, src.Text, options)
	if err != nil {
		return nil, fail(prog, targets, src, options, site, err)
	}
	kernels := make(map[string]backend.Kernel, len(src.KernelNames))
	for _, name := range src.KernelNames {
		k, err := prog.Kernel(name)
		if err != nil {
			err = errors.Wrapf(err, "kernel %q", name)
			return nil, fail(prog, targets, src, options, site, err)
		}
		kernels[name] = k
	}

	if ctl.Debug.Has(control.DebugCompile) {
		for _, d := range targets {
			info := prog.BuildInfo(d)
			klog.Infof("built %v for %s in %v: %s\n%s",
				src.KernelNames, info.Device, time.Since(start), info.Status, info.Log)
		}
	} else {
		klog.V(1).Infof("built %v for %s in %v", src.KernelNames, backend.Identities(targets), time.Since(start))
	}

	key := program.NewKey(ctx, targets, options, src.Text)
	return program.NewCompiledProgram(key, prog, kernels), nil
}

func fail(prog backend.Program, targets []backend.Device,
	src builder.Source, options string, site CallSite, err error) error {
	f := &CompileFailure{
		Site:    site,
		Options: options,
		Source:  src.Text,
		Kernels: append([]string(nil), src.KernelNames...),
		Err:     err,
	}
	for _, d := range targets {
		info := backend.BuildInfo{Device: backend.Identity(d), Status: backend.BuildError, Options: options}
		if prog != nil {
			info = prog.BuildInfo(d)
			if info.Device == "" {
				info.Device = backend.Identity(d)
			}
		}
		if info.Log == "" && info.Status != backend.BuildSuccess {
			info.Log = err.Error()
		}
		f.Devices = append(f.Devices, info)
	}
	if prog != nil {
		prog.Release()
	}
	klog.Errorf("%+v", f)
	return errors.WithStack(f)
}
