package wait

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/control"
	"github.com/notargets/KernelDispatch/emulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allModes = []control.WaitMode{control.BusyWait, control.NiceWait, control.BalancedWait, control.ClFinish}

func TestFor_Visibility(t *testing.T) {
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			ctx := emulator.NewContext(emulator.Config{LaunchDelay: time.Millisecond})
			defer ctx.Release()
			q, err := ctx.NewQueue(0)
			require.NoError(t, err)

			var result atomic.Int64
			ev, err := q.Enqueue(func() error {
				result.Store(42)
				return nil
			})
			require.NoError(t, err)

			// Read racing the submit, with no wait.
			assert.Equal(t, int64(0), result.Load())

			require.NoError(t, For(mode, q, ev))
			assert.Equal(t, int64(42), result.Load())
		})
	}
}

type fakeEvent struct {
	status   backend.ExecStatus
	polls    int
	failAt   int
	err      error
	waitErr  error
	waitCall int
}

func (e *fakeEvent) Status() (backend.ExecStatus, error) {
	e.polls++
	if e.failAt > 0 && e.polls >= e.failAt {
		return backend.Running, e.err
	}
	if e.polls >= 3 {
		return backend.Complete, nil
	}
	return e.status, nil
}

func (e *fakeEvent) Wait() error {
	e.waitCall++
	return e.waitErr
}

type fakeQueue struct {
	backend.Queue
	flushes, finishes int
	finishErr         error
}

func (q *fakeQueue) Flush() error  { q.flushes++; return nil }
func (q *fakeQueue) Finish() error { q.finishes++; return q.finishErr }

func TestFor_BusyWaitPolls(t *testing.T) {
	q := &fakeQueue{}
	ev := &fakeEvent{status: backend.Running}
	require.NoError(t, For(control.BusyWait, q, ev))
	assert.Equal(t, 1, q.flushes)
	assert.Equal(t, 3, ev.polls)
	assert.Equal(t, 0, ev.waitCall)
}

func TestFor_ErrorsPropagate(t *testing.T) {
	boom := errors.New("device lost")
	testCases := []struct {
		name  string
		mode  control.WaitMode
		queue *fakeQueue
		event *fakeEvent
	}{
		{"busy_status", control.BusyWait, &fakeQueue{}, &fakeEvent{status: backend.Running, failAt: 2, err: boom}},
		{"nice_wait", control.NiceWait, &fakeQueue{}, &fakeEvent{waitErr: boom}},
		{"balanced_wait", control.BalancedWait, &fakeQueue{}, &fakeEvent{waitErr: boom}},
		{"finish", control.ClFinish, &fakeQueue{finishErr: boom}, &fakeEvent{}},
		{"finish_status", control.ClFinish, &fakeQueue{}, &fakeEvent{failAt: 1, err: boom}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := For(tc.mode, tc.queue, tc.event)
			require.ErrorIs(t, err, boom)
			var opErr *backend.OperationError
			assert.ErrorAs(t, err, &opErr)
		})
	}
}

func TestFor_ClFinishDrainsQueue(t *testing.T) {
	q := &fakeQueue{}
	ev := &fakeEvent{status: backend.Complete}
	require.NoError(t, For(control.ClFinish, q, ev))
	assert.Equal(t, 1, q.finishes)
	assert.Equal(t, 0, ev.waitCall)
}

func TestFor_ClFinishIncomplete(t *testing.T) {
	ev := &fakeEvent{status: backend.Running}
	// The fake only reports completion from the third poll on.
	err := For(control.ClFinish, &fakeQueue{}, ev)
	assert.Error(t, err)
}

func TestFor_BadArguments(t *testing.T) {
	assert.Error(t, For(control.NiceWait, nil, nil))
	assert.Error(t, For(control.ClFinish, nil, &fakeEvent{}))
	assert.Error(t, For(control.WaitMode(42), nil, &fakeEvent{}))
}

func TestAll(t *testing.T) {
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			ctx := emulator.NewContext(emulator.Config{})
			defer ctx.Release()
			q, err := ctx.NewQueue(0)
			require.NoError(t, err)

			var count atomic.Int32
			var events []backend.Event
			for range 4 {
				ev, err := q.Enqueue(func() error {
					count.Add(1)
					return nil
				})
				require.NoError(t, err)
				events = append(events, ev)
			}
			require.NoError(t, All(mode, q, events...))
			assert.Equal(t, int32(4), count.Load())
		})
	}
}
