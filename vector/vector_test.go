package vector

import (
	"testing"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/emulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_RoundTrip(t *testing.T) {
	ctx := emulator.NewContext(emulator.Config{})
	defer ctx.Release()
	q, err := ctx.NewQueue(0)
	require.NoError(t, err)

	host := []float64{1.5, -2, 3.25, 8}
	v, err := FromHost(q, host)
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, 4, v.Len())
	assert.Equal(t, int64(32), v.Bytes())
	assert.Same(t, q, v.Queue())

	back, err := v.ToHost()
	require.NoError(t, err)
	assert.Equal(t, host, back)

	view, ok := backend.View[float64](v.Buffer())
	require.True(t, ok)
	assert.Equal(t, host, view)

	assert.Error(t, v.Write(make([]float64, 5)))
	assert.Error(t, v.Read(make([]float64, 5)))
}

func TestVector_Errors(t *testing.T) {
	_, err := New[int32](nil, 4)
	assert.ErrorIs(t, err, backend.ErrUnsupportedConfiguration)

	ctx := emulator.NewContext(emulator.Config{})
	defer ctx.Release()
	q, err := ctx.NewQueue(0)
	require.NoError(t, err)
	_, err = New[int32](q, -1)
	assert.Error(t, err)

	v, err := New[int32](q, 0)
	require.NoError(t, err)
	host, err := v.ToHost()
	require.NoError(t, err)
	assert.Empty(t, host)
	v.Release()
	v.Release()
}
