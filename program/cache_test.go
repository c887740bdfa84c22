package program

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileCounter(count *atomic.Int32, key CompileKey) CompileFunc {
	return func() (*CompiledProgram, error) {
		count.Add(1)
		return NewCompiledProgram(key, nil, nil), nil
	}
}

func TestCache_Idempotence(t *testing.T) {
	c := NewCache()
	key := CompileKey{ContextID: "ctx", DeviceIdentity: "dev", Options: "-O2", Source: "kernel A"}
	var count atomic.Int32

	first, err := c.Acquire(key, compileCounter(&count, key))
	require.NoError(t, err)
	second, err := c.Acquire(key, compileCounter(&count, key))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestCache_ConcurrentAcquire(t *testing.T) {
	c := NewCache()
	key := CompileKey{ContextID: "ctx", DeviceIdentity: "dev", Options: "-O2", Source: "kernel A"}
	var count atomic.Int32

	const callers = 32
	results := make([]*CompiledProgram, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp, err := c.Acquire(key, compileCounter(&count, key))
			assert.NoError(t, err)
			results[i] = cp
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), count.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, c.Len())
}

func TestCache_KeySensitivity(t *testing.T) {
	base := CompileKey{ContextID: "ctx", DeviceIdentity: "dev", Options: "-O2", Source: "kernel A"}
	testCases := []struct {
		name string
		key  CompileKey
	}{
		{"context", CompileKey{"ctx2", "dev", "-O2", "kernel A"}},
		{"device", CompileKey{"ctx", "dev2", "-O2", "kernel A"}},
		{"options", CompileKey{"ctx", "dev", "-O3", "kernel A"}},
		{"source", CompileKey{"ctx", "dev", "-O2", "kernel B"}},
		{"whitespace", CompileKey{"ctx", "dev", "-O2 ", "kernel A"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCache()
			var count atomic.Int32
			a, err := c.Acquire(base, compileCounter(&count, base))
			require.NoError(t, err)
			b, err := c.Acquire(tc.key, compileCounter(&count, tc.key))
			require.NoError(t, err)

			assert.NotSame(t, a, b)
			assert.Equal(t, int32(2), count.Load())
			assert.Equal(t, tc.key, b.Key())
		})
	}
}

func TestCache_FailureNotInserted(t *testing.T) {
	c := NewCache()
	key := CompileKey{Source: "broken"}
	var count atomic.Int32

	_, err := c.Acquire(key, func() (*CompiledProgram, error) {
		count.Add(1)
		return nil, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	_, found := c.Lookup(key)
	assert.False(t, found)

	cp, err := c.Acquire(key, compileCounter(&count, key))
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int32(2), count.Load())
	assert.Equal(t, Stats{Misses: 2, Failures: 1}, c.Stats())
}

func TestCache_NilProgram(t *testing.T) {
	c := NewCache()
	_, err := c.Acquire(CompileKey{}, func() (*CompiledProgram, error) { return nil, nil })
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Global(t *testing.T) {
	assert.Same(t, Global(), Global())
}

func TestCompileKey_Less(t *testing.T) {
	a := CompileKey{"a", "d", "o", "s"}
	assert.True(t, a.Less(CompileKey{"b", "a", "a", "a"}))
	assert.True(t, a.Less(CompileKey{"a", "d", "o", "t"}))
	assert.False(t, a.Less(a))
	assert.False(t, CompileKey{"a", "e", "", ""}.Less(a))
}

func TestCompiledProgram_Kernel(t *testing.T) {
	cp := NewCompiledProgram(CompileKey{}, nil, nil)
	_, err := cp.Kernel("missing")
	assert.Error(t, err)
	assert.Empty(t, cp.KernelNames())
}
