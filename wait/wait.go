// Package wait blocks the host until an asynchronous device operation
// completes, using the strategy selected on the Control.
package wait

import (
	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/control"
	"github.com/pkg/errors"
)

// For blocks until ev completes on q using mode. Any error reported by the
// runtime's wait primitives, or by the operation itself, is returned as a
// *backend.OperationError. There is no timeout.
func For(mode control.WaitMode, q backend.Queue, ev backend.Event) error {
	if ev == nil {
		return errors.New("wait: nil event")
	}
	switch mode {
	case control.BusyWait:
		return busyWait(q, ev)
	case control.NiceWait, control.BalancedWait:
		return backend.OpError("wait", ev.Wait())
	case control.ClFinish:
		return finish(q, ev)
	default:
		return errors.Errorf("wait: unknown %s", mode)
	}
}

// busyWait flushes the queue and spins on the event status. It holds a core
// for the whole wait.
func busyWait(q backend.Queue, ev backend.Event) error {
	if q != nil {
		if err := q.Flush(); err != nil {
			return backend.OpError("flush", err)
		}
	}
	for {
		status, err := ev.Status()
		if err != nil {
			return backend.OpError("status", err)
		}
		if status == backend.Complete {
			return nil
		}
	}
}

// finish drains the whole queue, then checks the events. It over-waits when
// unrelated work is queued behind them.
func finish(q backend.Queue, events ...backend.Event) error {
	if q == nil {
		return errors.New("wait: ClFinish needs a queue")
	}
	if err := q.Finish(); err != nil {
		return backend.OpError("finish", err)
	}
	for _, ev := range events {
		status, err := ev.Status()
		if err != nil {
			return backend.OpError("status", err)
		}
		if status != backend.Complete {
			return backend.OpError("finish", errors.Errorf("event still %s after queue drained", status))
		}
	}
	return nil
}

// All waits for every event in order, stopping at the first failure. Under
// ClFinish a single drain covers all of them.
func All(mode control.WaitMode, q backend.Queue, events ...backend.Event) error {
	if mode == control.ClFinish {
		return finish(q, events...)
	}
	for _, ev := range events {
		if err := For(mode, q, ev); err != nil {
			return err
		}
	}
	return nil
}
