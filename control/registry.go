package control

import (
	"sync"

	"github.com/notargets/KernelDispatch/backend"
	"k8s.io/klog/v2"
)

// QueueProvider supplies the queue of a registry's default Control.
type QueueProvider func() (backend.Queue, error)

// Registry owns one default Control, built lazily on first use and kept for
// the life of the registry. Tests build their own registries instead of
// sharing the process one.
type Registry struct {
	once     sync.Once
	provider QueueProvider
	def      *Control
}

// NewRegistry creates a registry whose default Control gets its queue from
// provider. A nil provider leaves the default without a queue.
func NewRegistry(provider QueueProvider) *Registry {
	return &Registry{provider: provider}
}

// Default returns the registry's default Control. Mutating it changes what
// later calls to New copy; already constructed Controls are unaffected.
func (r *Registry) Default() *Control {
	r.once.Do(func() {
		var q backend.Queue
		if r.provider != nil {
			var err error
			if q, err = r.provider(); err != nil {
				klog.Warningf("default control has no accelerator queue: %v", err)
				q = nil
			}
		}
		r.def = newInitial(q)
	})
	return r.def
}

// New returns a copy of every field of the current default.
func (r *Registry) New() *Control {
	return r.Default().Clone()
}

var process = NewRegistry(backend.NewDefaultQueue)

// Default returns the process-wide default Control.
func Default() *Control { return process.Default() }

// New returns a Control copied from the process-wide default.
func New() *Control { return process.New() }

// OrDefault returns c, or the process-wide default when c is nil.
func OrDefault(c *Control) *Control {
	if c == nil {
		return Default()
	}
	return c
}
