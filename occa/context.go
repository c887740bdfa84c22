// Package occa runs generated kernels on an OCCA device through gocca.
//
// One Context owns one OCCA device. OCCA builds kernels one entry point at a
// time, so a Program keeps its source and properties and compiles each
// kernel when it is first looked up.
package occa

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/gocca"
	"k8s.io/klog/v2"
)

// Preferred lists device properties in the order the default queue tries
// them: parallel backends first, Serial last.
var Preferred = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// gocca exposes no device attributes, so GPU modes assume this many compute
// units when sizing launches.
const gpuComputeUnits = 32

// Context is an OCCA device viewed as a single-device context.
type Context struct {
	id     string
	props  string
	device *gocca.OCCADevice
	dev    *Device

	// mu serializes calls into the device, which is not goroutine safe
	mu    sync.Mutex
	freed bool

	builds atomic.Int64
}

// NewContext creates a context from OCCA device properties, either a JSON
// object or a bare mode name such as "Serial".
func NewContext(props string) (*Context, error) {
	props = deviceProps(props)
	device, err := gocca.NewDevice(props)
	if err != nil {
		return nil, backend.OpError("create device", err)
	}
	c := &Context{id: uuid.NewString(), props: props, device: device}
	c.dev = newDevice(c, device.Mode())
	klog.V(1).Infof("occa: created %s device, context %s", device.Mode(), c.id)
	return c, nil
}

// deviceProps turns a bare mode name into a properties object.
func deviceProps(props string) string {
	props = strings.TrimSpace(props)
	if props == "" || strings.HasPrefix(props, "{") {
		return props
	}
	raw, _ := json.Marshal(map[string]string{"mode": props})
	return string(raw)
}

func (c *Context) ID() string                 { return c.id }
func (c *Context) Devices() []backend.Device  { return []backend.Device{c.dev} }
func (c *Context) Mode() string               { return c.dev.mode }
func (c *Context) OCCA() *gocca.OCCADevice    { return c.device }
func (c *Context) owns(d backend.Device) bool { return d == backend.Device(c.dev) }

// DefaultOptions returns -O3 for OpenMP, whose builds otherwise get no
// optimization flag from OCCA.
func (c *Context) DefaultOptions(d backend.Device) string {
	if dev, ok := d.(*Device); ok && dev.mode == "OpenMP" {
		return "-O3"
	}
	return ""
}

// NewQueue returns a queue on the context's device.
func (c *Context) NewQueue() *Queue {
	return &Queue{ctx: c}
}

// Release frees the device. Buffers and kernels must be released first.
func (c *Context) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.freed {
		c.device.Free()
		c.freed = true
	}
}

// Device describes the OCCA device of a context
type Device struct {
	name         string
	mode         string
	kind         backend.DeviceKind
	computeUnits int
}

func newDevice(c *Context, mode string) *Device {
	d := &Device{name: fmt.Sprintf("occa %s %s", mode, c.props), mode: mode}
	switch mode {
	case "CUDA", "HIP", "OpenCL", "Metal", "dpcpp":
		d.kind, d.computeUnits = backend.KindGPU, gpuComputeUnits
	default:
		d.kind, d.computeUnits = backend.KindCPU, runtime.NumCPU()
	}
	if mode == "Serial" {
		d.computeUnits = 1
	}
	return d
}

func (d *Device) Name() string             { return d.name }
func (d *Device) Vendor() string           { return "OCCA" }
func (d *Device) Version() string          { return "gocca v1.2.0" }
func (d *Device) Kind() backend.DeviceKind { return d.kind }
func (d *Device) ComputeUnits() int        { return d.computeUnits }

// newPreferredQueue creates a queue on the first preferred device that comes
// up.
func newPreferredQueue() (*Queue, error) {
	var errs []string
	for _, props := range Preferred {
		c, err := NewContext(props)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		return c.NewQueue(), nil
	}
	return nil, backend.Unsupported("no OCCA device available: %s", strings.Join(errs, "; "))
}

func init() {
	backend.Register("occa", func(config string) (backend.Queue, error) {
		if config == "" {
			return newPreferredQueue()
		}
		c, err := NewContext(config)
		if err != nil {
			return nil, err
		}
		return c.NewQueue(), nil
	})
}
