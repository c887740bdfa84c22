package emulator

import (
	"fmt"
	"unsafe"
)

// Buffer is emulated device memory. Its storage is word aligned so typed
// views of any element type are valid.
type Buffer struct {
	words []uint64
	data  []byte
}

func newBuffer(bytes int) *Buffer {
	words := make([]uint64, (bytes+7)/8)
	b := &Buffer{words: words}
	if bytes > 0 {
		b.data = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), bytes)
	}
	return b
}

func (b *Buffer) Size() int { return len(b.data) }

func (b *Buffer) Write(src []byte) error {
	if len(src) > len(b.data) {
		return fmt.Errorf("write of %d bytes into %d byte buffer", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *Buffer) Read(dst []byte) error {
	if len(dst) > len(b.data) {
		return fmt.Errorf("read of %d bytes from %d byte buffer", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

// HostBytes exposes the storage to kernel host bodies.
func (b *Buffer) HostBytes() []byte { return b.data }

func (b *Buffer) Release() {
	b.words, b.data = nil, nil
}
