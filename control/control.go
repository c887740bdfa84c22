// Package control holds the execution Control: which queue a call runs on,
// how the dispatcher may choose a backend, how completions are waited for,
// and the compile and debug settings of accelerator calls.
package control

import (
	"fmt"
	"strings"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/pkg/errors"
)

// RunMode selects the execution backend
type RunMode int

const (
	Automatic RunMode = iota
	SerialCpu
	MultiCoreCpu
	Accelerator
)

func (m RunMode) String() string {
	switch m {
	case Automatic:
		return "Automatic"
	case SerialCpu:
		return "SerialCpu"
	case MultiCoreCpu:
		return "MultiCoreCpu"
	case Accelerator:
		return "Accelerator"
	default:
		return fmt.Sprintf("RunMode(%d)", int(m))
	}
}

// WaitMode selects how the host blocks on an asynchronous completion
type WaitMode int

const (
	BalancedWait WaitMode = iota
	NiceWait
	BusyWait
	ClFinish
)

func (m WaitMode) String() string {
	switch m {
	case BalancedWait:
		return "BalancedWait"
	case NiceWait:
		return "NiceWait"
	case BusyWait:
		return "BusyWait"
	case ClFinish:
		return "ClFinish"
	default:
		return fmt.Sprintf("WaitMode(%d)", int(m))
	}
}

// UseHostMode allows or forbids running parts of an algorithm on the host
type UseHostMode int

const (
	NoUseHost UseHostMode = iota
	UseHost
)

// AutoTuneMode selects what auto-tuning may adjust
type AutoTuneMode int

const (
	NoAutoTune        AutoTuneMode = 0
	AutoTuneDevice    AutoTuneMode = 0x1
	AutoTuneWorkShape AutoTuneMode = 0x2
	AutoTuneAll       AutoTuneMode = 0x3
)

// DebugFlags is a bitmask of debug behaviors
type DebugFlags uint

const (
	DebugNone DebugFlags = 0
	// DebugCompile logs the build log of every compile, not only failures.
	DebugCompile DebugFlags = 0x1
	// DebugShowCode logs the assembled source before compiling it.
	DebugShowCode DebugFlags = 0x2
	// DebugSaveCompilerTemps asks the compiler to keep its temporaries.
	DebugSaveCompilerTemps DebugFlags = 0x4
	// DebugKernelRun logs dispatch decisions, staging copies and launches.
	DebugKernelRun DebugFlags = 0x8
	// DebugAutoTune logs auto-tuning decisions.
	DebugAutoTune DebugFlags = 0x10
)

// Has reports whether every bit of f is set.
func (d DebugFlags) Has(f DebugFlags) bool {
	return f != 0 && d&f == f
}

func (d DebugFlags) String() string {
	if d == DebugNone {
		return "None"
	}
	names := []struct {
		flag DebugFlags
		name string
	}{
		{DebugCompile, "Compile"},
		{DebugShowCode, "ShowCode"},
		{DebugSaveCompilerTemps, "SaveCompilerTemps"},
		{DebugKernelRun, "DebugKernelRun"},
		{DebugAutoTune, "AutoTune"},
	}
	var parts []string
	rest := d
	for _, n := range names {
		if d.Has(n.flag) {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint(rest)))
	}
	return strings.Join(parts, "|")
}

// Control is the per-call configuration record. It is a plain value: copies
// are independent, and a Control is not safe for concurrent mutation.
type Control struct {
	// Queue is the accelerator queue. Nil disables the accelerator tier.
	Queue backend.Queue

	UseHost      UseHostMode
	ForceRunMode RunMode
	Debug        DebugFlags
	AutoTune     AutoTuneMode

	// WGPerComputeUnit is the number of partitions launched per compute unit.
	WGPerComputeUnit int
	// CompileOptions are appended to the runtime's default compiler flags.
	CompileOptions string
	// CompileForAllDevices builds programs for every device in the queue's
	// context instead of only the queue's device.
	CompileForAllDevices bool
	WaitMode             WaitMode
	UnrollFactor         int

	// SerialThreshold and AcceleratorThreshold are the element counts at
	// which Automatic dispatch moves to the multi-core and accelerator tiers.
	// They are independent; the accelerator threshold may be the lower one.
	SerialThreshold      int
	AcceleratorThreshold int

	// TempDir receives compiler temporaries under DebugSaveCompilerTemps.
	// Empty means the system temporary directory.
	TempDir string
}

const (
	DefaultWGPerComputeUnit     = 8
	DefaultUnrollFactor         = 4
	DefaultSerialThreshold      = 4
	DefaultAcceleratorThreshold = 8
)

func newInitial(q backend.Queue) *Control {
	return &Control{
		Queue:                q,
		UseHost:              UseHost,
		ForceRunMode:         Automatic,
		Debug:                DebugNone,
		AutoTune:             AutoTuneAll,
		WGPerComputeUnit:     DefaultWGPerComputeUnit,
		CompileForAllDevices: true,
		WaitMode:             BalancedWait,
		UnrollFactor:         DefaultUnrollFactor,
		SerialThreshold:      DefaultSerialThreshold,
		AcceleratorThreshold: DefaultAcceleratorThreshold,
	}
}

// Clone returns an independent copy of c.
func (c *Control) Clone() *Control {
	cc := *c
	return &cc
}

// Validate checks the tuning fields.
func (c *Control) Validate() error {
	if c.WGPerComputeUnit <= 0 {
		return errors.Errorf("WGPerComputeUnit must be positive, got %d", c.WGPerComputeUnit)
	}
	if c.UnrollFactor <= 0 {
		return errors.Errorf("UnrollFactor must be positive, got %d", c.UnrollFactor)
	}
	if c.SerialThreshold < 0 || c.AcceleratorThreshold < 0 {
		return errors.Errorf("thresholds must not be negative, got serial=%d accelerator=%d",
			c.SerialThreshold, c.AcceleratorThreshold)
	}
	if c.ForceRunMode < Automatic || c.ForceRunMode > Accelerator {
		return errors.Errorf("invalid %s", c.ForceRunMode)
	}
	if c.WaitMode < BalancedWait || c.WaitMode > ClFinish {
		return errors.Errorf("invalid %s", c.WaitMode)
	}
	if c.UseHost != NoUseHost && c.UseHost != UseHost {
		return errors.Errorf("invalid UseHostMode(%d)", int(c.UseHost))
	}
	if c.AutoTune&^AutoTuneAll != 0 {
		return errors.Errorf("invalid AutoTuneMode(%#x)", int(c.AutoTune))
	}
	return nil
}

// Context returns the queue's context, or nil without a queue.
func (c *Control) Context() backend.Context {
	if c.Queue == nil {
		return nil
	}
	return c.Queue.Context()
}

// Device returns the queue's device, or nil without a queue.
func (c *Control) Device() backend.Device {
	if c.Queue == nil {
		return nil
	}
	return c.Queue.Device()
}
