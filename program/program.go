// Package program caches compiled device programs by the exact content that
// produced them.
package program

import (
	"sort"
	"time"

	"github.com/notargets/KernelDispatch/backend"
	"github.com/pkg/errors"
)

// CompileKey identifies one compilation. Keys compare by exact equality of
// all four fields.
type CompileKey struct {
	ContextID      string
	DeviceIdentity string
	Options        string
	Source         string
}

// NewKey builds the key for compiling source with options on the devices of
// ctx.
func NewKey(ctx backend.Context, devices []backend.Device, options, source string) CompileKey {
	key := CompileKey{
		DeviceIdentity: backend.Identities(devices),
		Options:        options,
		Source:         source,
	}
	if ctx != nil {
		key.ContextID = ctx.ID()
	}
	return key
}

// Less orders keys field by field.
func (k CompileKey) Less(o CompileKey) bool {
	switch {
	case k.ContextID != o.ContextID:
		return k.ContextID < o.ContextID
	case k.DeviceIdentity != o.DeviceIdentity:
		return k.DeviceIdentity < o.DeviceIdentity
	case k.Options != o.Options:
		return k.Options < o.Options
	default:
		return k.Source < o.Source
	}
}

// CompiledProgram is a built program and the kernels extracted from it. It
// is shared by every caller presenting an equal key and never changes after
// being published.
type CompiledProgram struct {
	key     CompileKey
	program backend.Program
	kernels map[string]backend.Kernel
	names   []string
	builtAt time.Time
}

// NewCompiledProgram bundles a program with its kernels.
func NewCompiledProgram(key CompileKey, prog backend.Program, kernels map[string]backend.Kernel) *CompiledProgram {
	cp := &CompiledProgram{
		key:     key,
		program: prog,
		kernels: make(map[string]backend.Kernel, len(kernels)),
		builtAt: time.Now(),
	}
	for name, k := range kernels {
		cp.kernels[name] = k
		cp.names = append(cp.names, name)
	}
	sort.Strings(cp.names)
	return cp
}

// Key returns the key the program was compiled under.
func (cp *CompiledProgram) Key() CompileKey { return cp.key }

// Program returns the runtime program object.
func (cp *CompiledProgram) Program() backend.Program { return cp.program }

// BuiltAt is when the compile finished.
func (cp *CompiledProgram) BuiltAt() time.Time { return cp.builtAt }

// KernelNames returns the kernel names in sorted order.
func (cp *CompiledProgram) KernelNames() []string {
	return append([]string(nil), cp.names...)
}

// Kernel returns the kernel with the given entry-point name.
func (cp *CompiledProgram) Kernel(name string) (backend.Kernel, error) {
	k, found := cp.kernels[name]
	if !found {
		return nil, errors.Errorf("program has no kernel %q (have %v)", name, cp.names)
	}
	return k, nil
}
