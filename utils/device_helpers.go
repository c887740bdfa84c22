package utils

import (
	"fmt"

	"github.com/notargets/KernelDispatch/control"
	"github.com/notargets/KernelDispatch/occa"
)

// CreateTestQueue creates an OCCA queue for testing, preferring parallel backends
func CreateTestQueue() *occa.Queue {
	for _, props := range occa.Preferred {
		ctx, err := occa.NewContext(props)
		if err == nil {
			fmt.Printf("Created %s Device\n", ctx.Mode())
			return ctx.NewQueue()
		}
	}

	// Serial is always built into OCCA
	panic("Failed to create any Device")
}

// CreateTestControl returns a fresh Control whose accelerator is a test
// queue. The caller releases the queue's context.
func CreateTestControl() (*control.Control, *occa.Queue) {
	q := CreateTestQueue()
	ctl := control.NewRegistry(nil).New()
	ctl.Queue = q
	return ctl, q
}
