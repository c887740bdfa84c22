// Package emulator is an in-process accelerator: a device model with an
// asynchronous in-order queue, host-addressable buffers and a validating
// compiler. Kernels run their host rendition (backend.Launch.Body) on the
// device goroutine, so results appear only once the queue has been flushed
// and the work has run.
package emulator

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/notargets/KernelDispatch/backend"
	"golang.org/x/sys/cpu"
)

// Config describes the emulated context
type Config struct {
	// Devices is the number of devices in the context, default 1
	Devices int
	// ComputeUnits per device, default runtime.NumCPU()
	ComputeUnits int
	// LaunchDelay is slept by the device before running each kernel
	LaunchDelay time.Duration
	// Name overrides the device name
	Name string
}

// Context is an emulated compile and execution context
type Context struct {
	id      string
	cfg     Config
	devices []*Device
	builds  atomic.Int64
	mu       sync.Mutex
	queues   []*Queue
	launched []string
}

// NewContext creates a context with cfg.Devices devices.
func NewContext(cfg Config) *Context {
	if cfg.Devices < 1 {
		cfg.Devices = 1
	}
	if cfg.ComputeUnits < 1 {
		cfg.ComputeUnits = runtime.NumCPU()
	}
	name := cfg.Name
	if name == "" {
		name = "emulated-" + hostFeatures()
	}
	ctx := &Context{id: uuid.NewString(), cfg: cfg}
	for i := 0; i < cfg.Devices; i++ {
		ctx.devices = append(ctx.devices, &Device{
			ctx:          ctx,
			index:        i,
			name:         fmt.Sprintf("%s:%d", name, i),
			computeUnits: cfg.ComputeUnits,
		})
	}
	return ctx
}

func (c *Context) ID() string { return c.id }

func (c *Context) Devices() []backend.Device {
	devices := make([]backend.Device, len(c.devices))
	for i, d := range c.devices {
		devices[i] = d
	}
	return devices
}

func (c *Context) DefaultOptions(backend.Device) string { return "" }

// Builds returns how many times Build has run in this context.
func (c *Context) Builds() int { return int(c.builds.Load()) }

// Launched returns the names of the kernels enqueued in this context, in
// enqueue order.
func (c *Context) Launched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.launched...)
}

// NewQueue creates an in-order queue on device index i.
func (c *Context) NewQueue(i int) (*Queue, error) {
	if i < 0 || i >= len(c.devices) {
		return nil, fmt.Errorf("device index %d out of range [0,%d)", i, len(c.devices))
	}
	q := newQueue(c, c.devices[i])
	c.mu.Lock()
	c.queues = append(c.queues, q)
	c.mu.Unlock()
	return q, nil
}

// Release stops every queue of the context.
func (c *Context) Release() {
	c.mu.Lock()
	queues := c.queues
	c.queues = nil
	c.mu.Unlock()
	for _, q := range queues {
		q.Release()
	}
}

func (c *Context) owns(d backend.Device) bool {
	dev, ok := d.(*Device)
	return ok && dev.ctx == c
}

// Device is one emulated device
type Device struct {
	ctx          *Context
	index        int
	name         string
	computeUnits int
}

func (d *Device) Name() string             { return d.name }
func (d *Device) Vendor() string           { return "KernelDispatch" }
func (d *Device) Version() string          { return "emulator 1.0" }
func (d *Device) Kind() backend.DeviceKind { return backend.KindEmulated }
func (d *Device) ComputeUnits() int        { return d.computeUnits }

// hostFeatures names the host instruction set the emulator runs on.
func hostFeatures() string {
	features := []string{runtime.GOARCH}
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX512F {
			features = append(features, "avx512")
		} else if cpu.X86.HasAVX2 {
			features = append(features, "avx2")
		} else if cpu.X86.HasSSE42 {
			features = append(features, "sse4.2")
		}
	case "arm64":
		if cpu.ARM64.HasSVE {
			features = append(features, "sve")
		} else if cpu.ARM64.HasASIMD {
			features = append(features, "neon")
		}
	}
	return strings.Join(features, "+")
}

func init() {
	backend.Register("emulator", func(string) (backend.Queue, error) {
		ctx := NewContext(Config{})
		return ctx.NewQueue(0)
	})
}
