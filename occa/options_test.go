package occa

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceProps(t *testing.T) {
	assert.Equal(t, `{"mode":"Serial"}`, deviceProps("Serial"))
	assert.Equal(t, `{"mode": "CUDA", "device_id": 0}`, deviceProps(` {"mode": "CUDA", "device_id": 0}`))
	assert.Equal(t, "", deviceProps("  "))
}

func TestSplitOptions(t *testing.T) {
	flags, dir := splitOptions("-O3 -save-temps=/tmp/x -DFOO=1")
	assert.Equal(t, "-O3 -DFOO=1", flags)
	assert.Equal(t, "/tmp/x", dir)

	flags, dir = splitOptions("-O2")
	assert.Equal(t, "-O2", flags)
	assert.Empty(t, dir)

	_, dir = splitOptions("-save-temps")
	assert.NotEmpty(t, dir)
}

func TestBuildProps(t *testing.T) {
	props, err := buildProps("")
	require.NoError(t, err)
	assert.Empty(t, props)

	props, err = buildProps(`-O3 -DNAME="x"`)
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(props), &decoded))
	assert.Equal(t, `-O3 -DNAME="x"`, decoded["compiler_flags"])
}

func TestDeviceKinds(t *testing.T) {
	c := &Context{props: "{}"}
	tests := []struct {
		mode string
		kind backend.DeviceKind
	}{
		{"Serial", backend.KindCPU},
		{"OpenMP", backend.KindCPU},
		{"CUDA", backend.KindGPU},
		{"HIP", backend.KindGPU},
		{"OpenCL", backend.KindGPU},
	}
	for _, tt := range tests {
		d := newDevice(c, tt.mode)
		assert.Equal(t, tt.kind, d.Kind(), tt.mode)
		assert.Positive(t, d.ComputeUnits(), tt.mode)
	}
	assert.Equal(t, 1, newDevice(c, "Serial").ComputeUnits())
	assert.Equal(t, "-O3", c.DefaultOptions(newDevice(c, "OpenMP")))
	assert.Empty(t, c.DefaultOptions(newDevice(c, "CUDA")))
}

func TestSaveSource_OneFilePerBuild(t *testing.T) {
	dir := t.TempDir()
	first, err := saveSource(dir, "0123456789abcdef", 1, "reduce source")
	require.NoError(t, err)
	second, err := saveSource(dir, "0123456789abcdef", 2, "scan source")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "occa_01234567_1.okl"), first)
	for path, want := range map[string]string{first: "reduce source", second: "scan source"} {
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}
