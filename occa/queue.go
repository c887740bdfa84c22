package occa

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/gocca"
)

// Queue is the device's default OCCA stream. gocca has no non-blocking
// flush or event query, so Flush finishes the stream and an event is
// complete once a Finish issued after it has returned.
type Queue struct {
	ctx *Context

	mu       sync.Mutex
	launched uint64
	finished uint64
}

func (q *Queue) Context() backend.Context { return q.ctx }
func (q *Queue) Device() backend.Device   { return q.ctx.dev }

func (q *Queue) run(name string, launch func() error) (*Event, error) {
	q.ctx.mu.Lock()
	err := launch()
	q.ctx.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("kernel execution failed: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.launched++
	return &Event{queue: q, seq: q.launched}, nil
}

// Flush waits for the stream, the closest gocca offers to a submit.
func (q *Queue) Flush() error { return q.Finish() }

// Finish blocks until every launched kernel has completed.
func (q *Queue) Finish() error {
	q.mu.Lock()
	target := q.launched
	q.mu.Unlock()

	q.ctx.mu.Lock()
	q.ctx.device.Finish()
	q.ctx.mu.Unlock()

	q.mu.Lock()
	if target > q.finished {
		q.finished = target
	}
	q.mu.Unlock()
	return nil
}

func (q *Queue) done(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return seq <= q.finished
}

// Alloc allocates device memory. Zero-byte requests get a one byte
// allocation so every buffer has device memory to pass to kernels.
func (q *Queue) Alloc(bytes int) (backend.Buffer, error) {
	if bytes < 0 {
		return nil, backend.OpError("alloc", fmt.Errorf("negative size %d", bytes))
	}
	q.ctx.mu.Lock()
	mem := q.ctx.device.Malloc(int64(max(bytes, 1)), nil, nil)
	q.ctx.mu.Unlock()
	if mem == nil {
		return nil, backend.OpError("alloc", fmt.Errorf("device malloc of %d bytes failed", bytes))
	}
	return &Buffer{ctx: q.ctx, mem: mem, size: bytes}, nil
}

// Event marks one kernel launch
type Event struct {
	queue *Queue
	seq   uint64
}

func (e *Event) Status() (backend.ExecStatus, error) {
	if e.queue.done(e.seq) {
		return backend.Complete, nil
	}
	return backend.Submitted, nil
}

func (e *Event) Wait() error {
	if e.queue.done(e.seq) {
		return nil
	}
	return e.queue.Finish()
}

// Buffer is OCCA device memory
type Buffer struct {
	ctx  *Context
	mem  *gocca.OCCAMemory
	size int
}

func (b *Buffer) Size() int                 { return b.size }
func (b *Buffer) Memory() *gocca.OCCAMemory { return b.mem }

func (b *Buffer) Write(src []byte) error {
	if len(src) > b.size {
		return fmt.Errorf("write of %d bytes into %d byte buffer", len(src), b.size)
	}
	if b.mem == nil {
		return fmt.Errorf("write to released buffer")
	}
	if len(src) == 0 {
		return nil
	}
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	b.mem.CopyFrom(unsafe.Pointer(&src[0]), int64(len(src)))
	return nil
}

func (b *Buffer) Read(dst []byte) error {
	if len(dst) > b.size {
		return fmt.Errorf("read of %d bytes from %d byte buffer", len(dst), b.size)
	}
	if b.mem == nil {
		return fmt.Errorf("read from released buffer")
	}
	if len(dst) == 0 {
		return nil
	}
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	b.mem.CopyTo(unsafe.Pointer(&dst[0]), int64(len(dst)))
	return nil
}

func (b *Buffer) Release() {
	if b.mem == nil {
		return
	}
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	b.mem.Free()
	b.mem = nil
}
