package occa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/gocca"
	"k8s.io/klog/v2"
)

// Build records source and options for the context's device. Kernels are
// compiled by Program.Kernel; a compile error surfaces there and in
// BuildInfo.
func (c *Context) Build(devices []backend.Device, source, options string) (backend.Program, error) {
	for _, d := range devices {
		if !c.owns(d) {
			return nil, backend.OpError("build", fmt.Errorf("device %q is not in context %s", backend.Identity(d), c.id))
		}
	}
	flags, tempsDir := splitOptions(options)
	props, err := buildProps(flags)
	if err != nil {
		return nil, backend.OpError("build", err)
	}
	p := &Program{ctx: c, source: source, props: props, options: options, status: backend.BuildInProgress}
	if tempsDir != "" {
		if path, err := saveSource(tempsDir, c.id, c.builds.Add(1), source); err != nil {
			klog.Warningf("occa: saving compiler temporaries: %v", err)
		} else {
			p.log.WriteString("source saved to " + path + "\n")
		}
	}
	return p, nil
}

// splitOptions separates -save-temps, handled here, from the flags passed
// to the device compiler.
func splitOptions(options string) (flags, tempsDir string) {
	var keep []string
	for _, opt := range strings.Fields(options) {
		switch {
		case opt == "-save-temps":
			tempsDir = os.TempDir()
		case strings.HasPrefix(opt, "-save-temps="):
			tempsDir = strings.TrimPrefix(opt, "-save-temps=")
		default:
			keep = append(keep, opt)
		}
	}
	return strings.Join(keep, " "), tempsDir
}

// buildProps returns the kernel properties JSON for compiler flags, or ""
// for the device defaults.
func buildProps(flags string) (string, error) {
	if flags == "" {
		return "", nil
	}
	raw, err := json.Marshal(map[string]string{"compiler_flags": flags})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// saveSource writes one file per build so a context's programs do not
// overwrite each other.
func saveSource(dir, ctxID string, n int64, source string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("occa_%s_%d.okl", ctxID[:8], n))
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Program is source bound to an OCCA device.
type Program struct {
	ctx     *Context
	source  string
	props   string
	options string

	mu      sync.Mutex
	kernels []*Kernel
	status  backend.BuildStatus
	log     strings.Builder
}

// Kernel compiles the named entry point.
func (p *Program) Kernel(name string) (backend.Kernel, error) {
	p.ctx.mu.Lock()
	k, err := p.build(name)
	p.ctx.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.status = backend.BuildError
		fmt.Fprintf(&p.log, "%s: %v\n", name, err)
		return nil, err
	}
	if p.status != backend.BuildError {
		p.status = backend.BuildSuccess
	}
	kernel := &Kernel{name: name, ctx: p.ctx, kernel: k}
	p.kernels = append(p.kernels, kernel)
	return kernel, nil
}

func (p *Program) build(name string) (*gocca.OCCAKernel, error) {
	var (
		k   *gocca.OCCAKernel
		err error
	)
	if p.props != "" {
		props := gocca.JsonParse(p.props)
		defer props.Free()
		k, err = p.ctx.device.BuildKernelFromString(p.source, name, props)
	} else {
		k, err = p.ctx.device.BuildKernelFromString(p.source, name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", name, err)
	}
	if k == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", name)
	}
	return k, nil
}

func (p *Program) BuildInfo(d backend.Device) backend.BuildInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := backend.BuildInfo{Device: backend.Identity(d), Options: p.options, Status: backend.BuildNone}
	if p.ctx.owns(d) {
		info.Status = p.status
		info.Log = p.log.String()
	}
	return info
}

// Release frees every kernel built from the program.
func (p *Program) Release() {
	p.mu.Lock()
	kernels := p.kernels
	p.kernels = nil
	p.mu.Unlock()

	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	for _, k := range kernels {
		k.kernel.Free()
	}
}

// Kernel is one compiled OCCA entry point
type Kernel struct {
	name   string
	ctx    *Context
	kernel *gocca.OCCAKernel
}

func (k *Kernel) Name() string { return k.name }

// Enqueue runs the kernel with launch.Args. Buffers are passed as their
// device memory; other arguments must already have the kernel's C types.
// The host body is not used.
func (k *Kernel) Enqueue(q backend.Queue, launch backend.Launch) (backend.Event, error) {
	oq, ok := q.(*Queue)
	if !ok || oq.ctx != k.ctx {
		return nil, backend.OpError("enqueue", fmt.Errorf("kernel %s: queue is not from the kernel's context", k.name))
	}
	args := make([]interface{}, len(launch.Args))
	for i, arg := range launch.Args {
		switch a := arg.(type) {
		case *Buffer:
			if a.mem == nil {
				return nil, backend.OpError("enqueue", fmt.Errorf("kernel %s: argument %d is a released buffer", k.name, i))
			}
			args[i] = a.mem
		case backend.Buffer:
			return nil, backend.OpError("enqueue", fmt.Errorf("kernel %s: argument %d is not OCCA memory", k.name, i))
		default:
			args[i] = arg
		}
	}
	return oq.run(k.name, func() error {
		return k.kernel.RunWithArgs(args...)
	})
}
