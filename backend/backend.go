// Package backend defines the boundary between the dispatch core and a device
// runtime: contexts that compile source, queues that execute kernels, events
// that report completion and buffers that hold device-resident data.
package backend

import "strings"

// DeviceKind classifies what a device executes on
type DeviceKind int

const (
	KindCPU DeviceKind = iota + 1
	KindGPU
	KindEmulated
)

func (k DeviceKind) String() string {
	switch k {
	case KindCPU:
		return "CPU"
	case KindGPU:
		return "GPU"
	case KindEmulated:
		return "Emulated"
	default:
		return "Unknown"
	}
}

// Device describes one compute device inside a Context
type Device interface {
	Name() string
	Vendor() string
	Version() string
	Kind() DeviceKind
	// ComputeUnits reports the number of independent execution units, used
	// to size the partition plan of a launch.
	ComputeUnits() int
}

// Identity returns the device identity used in compile keys: the
// concatenation of name, version and vendor.
func Identity(d Device) string {
	if d == nil {
		return ""
	}
	return d.Name() + d.Version() + d.Vendor()
}

// Identities joins the identities of several devices in order.
func Identities(devices []Device) string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = Identity(d)
	}
	return strings.Join(ids, ";")
}

// BuildStatus is the per-device result of a program build
type BuildStatus int

const (
	BuildNone BuildStatus = iota
	BuildSuccess
	BuildError
	BuildInProgress
)

func (s BuildStatus) String() string {
	switch s {
	case BuildSuccess:
		return "BUILD_SUCCESS"
	case BuildError:
		return "BUILD_ERROR"
	case BuildInProgress:
		return "BUILD_IN_PROGRESS"
	default:
		return "BUILD_NONE"
	}
}

// BuildInfo is what the device compiler reported for one device
type BuildInfo struct {
	Device  string
	Status  BuildStatus
	Options string
	Log     string
}

// Context is a compile and execution context holding one or more devices
type Context interface {
	// ID is unique per context for the life of the process.
	ID() string
	Devices() []Device
	// DefaultOptions returns the compiler flags the runtime always needs for
	// the device, ahead of any caller supplied options.
	DefaultOptions(d Device) string
	// Build compiles source for the given devices. A non-nil Program may be
	// returned together with an error so the caller can inspect BuildInfo.
	Build(devices []Device, source, options string) (Program, error)
}

// Program is a compiled (or failed) program object
type Program interface {
	Kernel(name string) (Kernel, error)
	BuildInfo(d Device) BuildInfo
	Release()
}

// Launch carries the launch shape and the arguments of one kernel enqueue.
// Outer is the number of partitions and Inner the work items per partition.
// Body is the host rendition of the kernel, used by runtimes that execute
// kernels in-process; device runtimes ignore it.
type Launch struct {
	Outer int
	Inner int
	Args  []any
	Body  func(outer int) error
}

// Kernel is a launchable entry point extracted from a Program
type Kernel interface {
	Name() string
	Enqueue(q Queue, launch Launch) (Event, error)
}

// ExecStatus is the execution status of an asynchronous operation
type ExecStatus int

const (
	Queued ExecStatus = iota
	Submitted
	Running
	Complete
)

func (s ExecStatus) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Submitted:
		return "SUBMITTED"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Event tracks one asynchronous operation
type Event interface {
	// Status returns the current execution status. A non-nil error is a hard
	// failure of the operation, distinct from "not complete yet".
	Status() (ExecStatus, error)
	// Wait blocks using the runtime's native wait primitive.
	Wait() error
}

// Queue is an in-order command queue on one device
type Queue interface {
	Context() Context
	Device() Device
	Alloc(bytes int) (Buffer, error)
	// Flush submits every queued command to the device without waiting.
	Flush() error
	// Finish blocks until every command submitted so far has completed.
	Finish() error
}

// Buffer is device memory. Write and Read are synchronous copies and are not
// ordered against kernels still pending on a queue.
type Buffer interface {
	Size() int
	Write(src []byte) error
	Read(dst []byte) error
	Release()
}
