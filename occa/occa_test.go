package occa_test

import (
	"math"
	"testing"

	"github.com/notargets/KernelDispatch/algorithm"
	"github.com/notargets/KernelDispatch/backend"
	"github.com/notargets/KernelDispatch/compiler"
	"github.com/notargets/KernelDispatch/control"
	"github.com/notargets/KernelDispatch/occa"
	"github.com/notargets/KernelDispatch/utils"
	"github.com/notargets/KernelDispatch/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func release(q *occa.Queue) {
	q.Context().(*occa.Context).Release()
}

func TestBuffer_RoundTrip(t *testing.T) {
	q := utils.CreateTestQueue()
	defer release(q)

	host := []float64{1, 2, 3, 4, 5}
	v, err := vector.FromHost(q, host)
	require.NoError(t, err)
	defer v.Release()

	got, err := v.ToHost()
	require.NoError(t, err)
	assert.Equal(t, host, got)

	_, ok := backend.View[float64](v.Buffer())
	assert.False(t, ok, "OCCA memory is not host mapped")
	assert.Error(t, v.Buffer().Write(make([]byte, 100)))
}

func TestQueue_Devices(t *testing.T) {
	q := utils.CreateTestQueue()
	defer release(q)

	ctx := q.Context()
	require.Len(t, ctx.Devices(), 1)
	assert.Equal(t, ctx.Devices()[0], q.Device())
	assert.Equal(t, "OCCA", q.Device().Vendor())
	assert.NotEmpty(t, ctx.ID())
	assert.NoError(t, q.Finish())
}

const copyKernel = `
@kernel void copyInstantiated(const int N, const double *in, double *out) {
  for (int i = 0; i < N; ++i; @tile(16, @outer, @inner)) {
    out[i] = in[i];
  }
}`

func TestKernel_RunAndWait(t *testing.T) {
	q := utils.CreateTestQueue()
	defer release(q)
	ctx := q.Context()

	prog, err := ctx.Build(ctx.Devices(), copyKernel, "")
	require.NoError(t, err)
	defer prog.Release()
	k, err := prog.Kernel("copyInstantiated")
	require.NoError(t, err)
	assert.Equal(t, backend.BuildSuccess, prog.BuildInfo(q.Device()).Status)

	in, err := vector.FromHost(q, []float64{3, 1, 4, 1, 5, 9})
	require.NoError(t, err)
	defer in.Release()
	out, err := vector.New[float64](q, 6)
	require.NoError(t, err)
	defer out.Release()

	ev, err := k.Enqueue(q, backend.Launch{Args: []any{int32(6), in.Buffer(), out.Buffer()}})
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	status, err := ev.Status()
	require.NoError(t, err)
	assert.Equal(t, backend.Complete, status)

	got, err := out.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 4, 1, 5, 9}, got)
}

func TestKernel_BuildError(t *testing.T) {
	q := utils.CreateTestQueue()
	defer release(q)
	ctx := q.Context()

	prog, err := ctx.Build(ctx.Devices(), "@kernel void brokenInstantiated( {", "")
	require.NoError(t, err)
	defer prog.Release()
	_, err = prog.Kernel("brokenInstantiated")
	assert.Error(t, err)
	info := prog.BuildInfo(q.Device())
	assert.Equal(t, backend.BuildError, info.Status)
	assert.Contains(t, info.Log, "brokenInstantiated")
}

func TestAlgorithms_OnDevice(t *testing.T) {
	ctl, q := utils.CreateTestControl()
	defer release(q)
	ctl.ForceRunMode = control.Accelerator

	x := make([]float64, 5000)
	for i := range x {
		x[i] = math.Sin(float64(i))
	}

	sum, err := algorithm.Reduce(ctl, algorithm.Host(x), 0, algorithm.Plus[float64]())
	require.NoError(t, err)
	assert.InDelta(t, floats.Sum(x), sum, 1e-9)

	sq, err := algorithm.TransformReduce(ctl, algorithm.Host(x), algorithm.Square[float64](), 0, algorithm.Plus[float64]())
	require.NoError(t, err)
	assert.InDelta(t, floats.Dot(x, x), sq, 1e-9)

	out := make([]float64, len(x))
	require.NoError(t, algorithm.Transform(ctl, algorithm.Host(x), algorithm.Host(out), algorithm.Negate[float64]()))
	want := make([]float64, len(x))
	floats.ScaleTo(want, -1, x)
	assert.True(t, floats.Equal(want, out))

	require.NoError(t, algorithm.InclusiveScan(ctl, algorithm.Host(x), algorithm.Host(out), algorithm.Plus[float64]()))
	floats.CumSum(want, x)
	assert.True(t, floats.EqualApprox(want, out, 1e-9))

	require.NoError(t, algorithm.ExclusiveScan(ctl, algorithm.Host(x), algorithm.Host(out), 0.5, algorithm.Plus[float64]()))
	assert.Equal(t, 0.5, out[0])
	assert.InDelta(t, 0.5+want[len(x)-2], out[len(x)-1], 1e-9)

	// The final fold stays on the device
	noHost := ctl.Clone()
	noHost.UseHost = control.NoUseHost
	sum, err = algorithm.Reduce(noHost, algorithm.Host(x), 1, algorithm.Plus[float64]())
	require.NoError(t, err)
	assert.InDelta(t, 1+floats.Sum(x), sum, 1e-9)

	ints := make([]int32, 3000)
	for i := range ints {
		ints[i] = int32(i % 101)
	}
	m, err := algorithm.Reduce(ctl, algorithm.Host(ints), -1, algorithm.Maximum[int32]())
	require.NoError(t, err)
	assert.Equal(t, int32(100), m)
}

func TestAlgorithms_CompileFailure(t *testing.T) {
	ctl, q := utils.CreateTestControl()
	defer release(q)
	ctl.ForceRunMode = control.Accelerator

	broken := algorithm.Plus[float64]()
	broken.Name = "kd_broken"
	broken.Code = "#define kd_broken(a, b) ((a) +* (b))"
	_, err := algorithm.Reduce(ctl, algorithm.Host(make([]float64, 100)), 0, broken)
	var failure *compiler.CompileFailure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Report(), "kd_broken")
}
