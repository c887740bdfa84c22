package dispatch

import (
	"fmt"
	"strings"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/control"
	"github.com/pkg/errors"
)

// Location is where a call's input data lives
type Location int

const (
	HostResident Location = iota
	DeviceResident
)

func (l Location) String() string {
	if l == DeviceResident {
		return "device"
	}
	return "host"
}

// Staging represents the implicit copies a call needs before it can run
type Staging int

const (
	NoStaging Staging = 0
	// Host to device, before an accelerator run on host data
	StageToDevice Staging = 1 << iota
	// Device to host, before a host run on device data
	StageToHost
)

func (s Staging) String() string {
	if s == NoStaging {
		return "none"
	}
	var parts []string
	if s&StageToDevice != 0 {
		parts = append(parts, "host->device")
	}
	if s&StageToHost != 0 {
		parts = append(parts, "device->host")
	}
	return strings.Join(parts, ",")
}

// Decision is the outcome of selecting a backend for one call.
type Decision struct {
	Mode    control.RunMode
	Forced  bool
	Staging Staging
}

func (d Decision) String() string {
	how := "auto"
	if d.Forced {
		how = "forced"
	}
	return fmt.Sprintf("%s (%s, staging %s)", d.Mode, how, d.Staging)
}

// Select decides which backend runs a call over n elements at loc. It is
// stateless: every call is decided afresh.
//
// A forced mode always wins; forcing the accelerator without one available
// fails with backend.ErrUnsupportedConfiguration. Under Automatic, n below
// SerialThreshold runs serially, n below AcceleratorThreshold runs on the
// multi-core backend and anything larger on the accelerator, falling back to
// multi-core when there is none. NoUseHost sends every automatic call to an
// available accelerator; algorithms read it too and keep their host-side
// tails, such as the final fold of a reduce, on the device.
func Select(ctl *control.Control, n int, loc Location, accelerator bool) (Decision, error) {
	var d Decision
	switch ctl.ForceRunMode {
	case control.SerialCpu, control.MultiCoreCpu:
		d = Decision{Mode: ctl.ForceRunMode, Forced: true}
	case control.Accelerator:
		if !accelerator {
			return Decision{}, backend.Unsupported("accelerator run forced but the control has no accelerator queue")
		}
		d = Decision{Mode: control.Accelerator, Forced: true}
	case control.Automatic:
		d.Mode = automatic(ctl, n, accelerator)
	default:
		return Decision{}, errors.Errorf("invalid forced run mode %s", ctl.ForceRunMode)
	}

	switch {
	case d.Mode == control.Accelerator && loc == HostResident:
		d.Staging = StageToDevice
	case d.Mode != control.Accelerator && loc == DeviceResident:
		d.Staging = StageToHost
	}
	return d, nil
}

func automatic(ctl *control.Control, n int, accelerator bool) control.RunMode {
	switch {
	case ctl.UseHost == control.NoUseHost && accelerator:
		return control.Accelerator
	case n < ctl.SerialThreshold:
		return control.SerialCpu
	case n < ctl.AcceleratorThreshold:
		return control.MultiCoreCpu
	case accelerator:
		return control.Accelerator
	default:
		return control.MultiCoreCpu
	}
}
