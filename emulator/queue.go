package emulator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notargets/KernelDispatch/backend"
)

var sleep = time.Sleep

var errReleased = errors.New("queue released before the command was submitted")

type command struct {
	run    func() error
	status atomic.Int32
	err    error
	done   chan struct{}
	queue  *Queue
}

// Queue is an in-order queue. Enqueued commands are held until Flush,
// Finish or an event Wait submits them; the device goroutine then runs them
// one at a time in submission order.
type Queue struct {
	ctx *Context
	dev *Device

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*command
	ready    []*command
	last     *command
	released bool
	stopped  chan struct{}
}

func newQueue(ctx *Context, dev *Device) *Queue {
	q := &Queue{ctx: ctx, dev: dev, stopped: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) Context() backend.Context { return q.ctx }
func (q *Queue) Device() backend.Device   { return q.dev }

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.ready) == 0 && !q.released {
			q.cond.Wait()
		}
		if len(q.ready) == 0 {
			q.mu.Unlock()
			return
		}
		cmd := q.ready[0]
		q.ready = q.ready[1:]
		q.mu.Unlock()

		cmd.status.Store(int32(backend.Running))
		cmd.err = cmd.run()
		cmd.status.Store(int32(backend.Complete))
		close(cmd.done)
	}
}

func (q *Queue) enqueue(run func() error) (*Event, error) {
	cmd := &command{run: run, done: make(chan struct{}), queue: q}
	cmd.status.Store(int32(backend.Queued))
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, backend.OpError("enqueue", fmt.Errorf("queue on %s was released", q.dev.name))
	}
	q.pending = append(q.pending, cmd)
	q.last = cmd
	return &Event{cmd: cmd}, nil
}

// Flush submits the held commands to the device.
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return fmt.Errorf("queue on %s was released", q.dev.name)
	}
	for _, cmd := range q.pending {
		cmd.status.Store(int32(backend.Submitted))
	}
	q.ready = append(q.ready, q.pending...)
	q.pending = nil
	q.cond.Signal()
	return nil
}

// Finish submits and waits for every command enqueued so far. Failures of
// individual commands are reported by their events.
func (q *Queue) Finish() error {
	q.mu.Lock()
	last := q.last
	q.mu.Unlock()
	if err := q.Flush(); err != nil {
		return err
	}
	if last == nil {
		return nil
	}
	<-last.done
	return nil
}

// Release stops the device goroutine after the submitted work drains.
// Commands never flushed fail with an error.
func (q *Queue) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	for _, cmd := range q.pending {
		cmd.err = errReleased
		cmd.status.Store(int32(backend.Complete))
		close(cmd.done)
	}
	q.pending = nil
	q.cond.Signal()
	q.mu.Unlock()
	<-q.stopped
}

// Alloc allocates a host-addressable device buffer.
func (q *Queue) Alloc(bytes int) (backend.Buffer, error) {
	if bytes < 0 {
		return nil, backend.OpError("alloc", fmt.Errorf("negative size %d", bytes))
	}
	return newBuffer(bytes), nil
}

// Enqueue records an arbitrary command on the queue, used for copies and
// markers that must be ordered with kernels.
func (q *Queue) Enqueue(run func() error) (backend.Event, error) {
	return q.enqueue(run)
}

// Event tracks one emulated command
type Event struct {
	cmd *command
}

func (e *Event) Status() (backend.ExecStatus, error) {
	status := backend.ExecStatus(e.cmd.status.Load())
	if status == backend.Complete {
		return status, e.cmd.err
	}
	return status, nil
}

// Wait submits the queue if needed and blocks until the command has run.
func (e *Event) Wait() error {
	if backend.ExecStatus(e.cmd.status.Load()) == backend.Queued {
		if err := e.cmd.queue.Flush(); err != nil {
			return err
		}
	}
	<-e.cmd.done
	return e.cmd.err
}
