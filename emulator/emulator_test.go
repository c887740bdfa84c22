package emulator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodSource = `
#define SCALE(x) ((x) * 2)
@kernel void scaleInstantiated(const int N, float *a) {
  for (int i = 0; i < N; ++i; @tile(16, @outer, @inner)) {
    a[i] = SCALE(a[i]); // "quoted" in a comment
  }
}
`

func newTestQueue(t *testing.T, cfg Config) (*Context, *Queue) {
	t.Helper()
	ctx := NewContext(cfg)
	q, err := ctx.NewQueue(0)
	require.NoError(t, err)
	t.Cleanup(ctx.Release)
	return ctx, q
}

func TestContext_Devices(t *testing.T) {
	ctx := NewContext(Config{Devices: 3, ComputeUnits: 4})
	defer ctx.Release()

	devices := ctx.Devices()
	require.Len(t, devices, 3)
	ids := map[string]bool{}
	for _, d := range devices {
		assert.Equal(t, 4, d.ComputeUnits())
		assert.Equal(t, backend.KindEmulated, d.Kind())
		ids[backend.Identity(d)] = true
	}
	assert.Len(t, ids, 3, "device identities must be distinct")
	assert.NotEqual(t, ctx.ID(), NewContext(Config{}).ID())

	_, err := ctx.NewQueue(3)
	assert.Error(t, err)
}

func TestBuild_Success(t *testing.T) {
	ctx, q := newTestQueue(t, Config{})
	prog, err := ctx.Build([]backend.Device{q.Device()}, goodSource, "-O3 -DN=4")
	require.NoError(t, err)

	info := prog.BuildInfo(q.Device())
	assert.Equal(t, backend.BuildSuccess, info.Status)
	assert.Equal(t, "-O3 -DN=4", info.Options)
	assert.Equal(t, 1, ctx.Builds())

	k, err := prog.Kernel("scaleInstantiated")
	require.NoError(t, err)
	assert.Equal(t, "scaleInstantiated", k.Name())

	_, err = prog.Kernel("scale")
	assert.Error(t, err, "partial names are not entry points")
}

func TestBuild_Failures(t *testing.T) {
	testCases := []struct {
		name    string
		source  string
		options string
		logHas  string
	}{
		{"unbalanced_brace", "void f() { if (x) { }", "", "unclosed '{'"},
		{"stray_paren", "int x = 1);", "", "unexpected ')'"},
		{"error_directive", "#error missing functor\nvoid f() {}", "", "#error missing functor"},
		{"unterminated_string", "const char *s = \"abc;\n", "", "missing terminating"},
		{"bad_option", "void f() {}", "--fast", "invalid build option"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, q := newTestQueue(t, Config{})
			prog, err := ctx.Build([]backend.Device{q.Device()}, tc.source, tc.options)
			require.Error(t, err)
			require.NotNil(t, prog)
			info := prog.BuildInfo(q.Device())
			assert.Equal(t, backend.BuildError, info.Status)
			assert.Contains(t, info.Log, tc.logHas)

			_, err = prog.Kernel("f")
			assert.Error(t, err)
		})
	}
}

func TestBuild_ForeignDevice(t *testing.T) {
	ctx, _ := newTestQueue(t, Config{})
	other := NewContext(Config{})
	_, err := ctx.Build(other.Devices(), goodSource, "")
	assert.Error(t, err)
}

func TestBuild_SaveTemps(t *testing.T) {
	dir := t.TempDir()
	ctx, q := newTestQueue(t, Config{})
	prog, err := ctx.Build([]backend.Device{q.Device()}, goodSource, "-save-temps="+dir)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "*.okl"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	saved, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, goodSource, string(saved))
	assert.Contains(t, prog.BuildInfo(q.Device()).Log, files[0])
}

func TestQueue_DeferredSubmission(t *testing.T) {
	ctx, q := newTestQueue(t, Config{})
	prog, err := ctx.Build([]backend.Device{q.Device()}, goodSource, "")
	require.NoError(t, err)
	k, err := prog.Kernel("scaleInstantiated")
	require.NoError(t, err)

	buf, err := q.Alloc(4 * 4)
	require.NoError(t, err)
	view, ok := backend.View[float32](buf)
	require.True(t, ok)
	copy(view, []float32{1, 2, 3, 4})

	ev, err := k.Enqueue(q, backend.Launch{Outer: 4, Inner: 1, Body: func(i int) error {
		view[i] *= 2
		return nil
	}})
	require.NoError(t, err)

	status, err := ev.Status()
	require.NoError(t, err)
	assert.Equal(t, backend.Queued, status)

	host := make([]float32, 4)
	require.NoError(t, buf.Read(backend.Bytes(host)))
	assert.Equal(t, []float32{1, 2, 3, 4}, host, "results visible before submission")

	require.NoError(t, ev.Wait())
	require.NoError(t, buf.Read(backend.Bytes(host)))
	assert.Equal(t, []float32{2, 4, 6, 8}, host)
	status, err = ev.Status()
	require.NoError(t, err)
	assert.Equal(t, backend.Complete, status)
}

func TestQueue_FIFO(t *testing.T) {
	_, q := newTestQueue(t, Config{})
	var order []int
	var events []backend.Event
	for i := range 5 {
		ev, err := q.Enqueue(func() error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.NoError(t, q.Finish())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	for _, ev := range events {
		st, err := ev.Status()
		require.NoError(t, err)
		assert.Equal(t, backend.Complete, st)
	}
}

func TestQueue_CommandError(t *testing.T) {
	ctx, q := newTestQueue(t, Config{})
	prog, err := ctx.Build([]backend.Device{q.Device()}, goodSource, "")
	require.NoError(t, err)
	k, err := prog.Kernel("scaleInstantiated")
	require.NoError(t, err)

	boom := errors.New("device fault")
	ev, err := k.Enqueue(q, backend.Launch{Outer: 3, Body: func(i int) error {
		if i == 1 {
			return boom
		}
		return nil
	}})
	require.NoError(t, err)

	err = ev.Wait()
	require.ErrorIs(t, err, boom)
	assert.True(t, strings.Contains(err.Error(), "partition 1"))
	_, err = ev.Status()
	assert.ErrorIs(t, err, boom)
}

func TestKernel_EnqueueErrors(t *testing.T) {
	ctx, q := newTestQueue(t, Config{})
	prog, err := ctx.Build([]backend.Device{q.Device()}, goodSource, "")
	require.NoError(t, err)
	k, err := prog.Kernel("scaleInstantiated")
	require.NoError(t, err)

	_, err = k.Enqueue(q, backend.Launch{Outer: 1})
	var opErr *backend.OperationError
	assert.ErrorAs(t, err, &opErr)

	_, otherQ := newTestQueue(t, Config{})
	_, err = k.Enqueue(otherQ, backend.Launch{Outer: 1, Body: func(int) error { return nil }})
	assert.ErrorAs(t, err, &opErr)
}

func TestQueue_Release(t *testing.T) {
	ctx := NewContext(Config{})
	q, err := ctx.NewQueue(0)
	require.NoError(t, err)
	ev, err := q.Enqueue(func() error { return nil })
	require.NoError(t, err)

	q.Release()
	assert.ErrorIs(t, ev.Wait(), errReleased)
	_, err = q.Enqueue(func() error { return nil })
	assert.Error(t, err)
	assert.Error(t, q.Flush())
	q.Release()
}

func TestBuffer_Bounds(t *testing.T) {
	b := newBuffer(8)
	assert.Equal(t, 8, b.Size())
	assert.Error(t, b.Write(make([]byte, 9)))
	assert.Error(t, b.Read(make([]byte, 9)))
	assert.Equal(t, 0, newBuffer(0).Size())
}

func TestContainsWord(t *testing.T) {
	src := "@kernel void scan_addInstantiated(int n) {}\n@kernel void scanInstantiated(int n) {}"
	tests := []struct {
		word string
		want bool
	}{
		{"scanInstantiated", true},
		{"scan_addInstantiated", true},
		{"scan", false},
		{"addInstantiated", false},
		{"Instantiated", false},
		{"void", true},
		{"n", true},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsWord(src, tt.word), tt.word)
	}
	assert.True(t, containsWord("x", "x"))
	assert.False(t, containsWord("xx", "x"))
}
