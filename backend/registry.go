package backend

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Constructor creates a queue on a runtime's preferred device. The config
// string is runtime specific (e.g. OCCA device properties).
type Constructor func(config string) (Queue, error)

var (
	registryMu   sync.Mutex
	constructors = make(map[string]Constructor)
	registered   []string
)

// DefaultConfig selects the runtime used by NewDefaultQueue, in the form
// "<name>" or "<name>:<config>". Empty means the first registered runtime
// that comes up.
var DefaultConfig string

// Register makes a runtime available under name. Runtimes register from
// their package init.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := constructors[name]; !found {
		registered = append(registered, name)
	}
	constructors[name] = constructor
}

// Registered lists the registered runtimes in registration order.
func Registered() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	return append([]string(nil), registered...)
}

// NewQueue creates a queue from a "<name>[:<config>]" string.
func NewQueue(config string) (Queue, error) {
	name, cfg := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		name, cfg = config[:idx], config[idx+1:]
	}
	registryMu.Lock()
	constructor, found := constructors[name]
	registryMu.Unlock()
	if !found {
		return nil, Unsupported("no runtime registered as %q", name)
	}
	q, err := constructor(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %q queue", name)
	}
	if q == nil {
		return nil, Unsupported("runtime %q returned no queue", name)
	}
	return q, nil
}

// NewDefaultQueue returns a queue for the default control. When no runtime
// can provide one it returns a nil queue and no error: accelerator dispatch
// is then unavailable, but the host tiers still work.
func NewDefaultQueue() (Queue, error) {
	if DefaultConfig != "" {
		return NewQueue(DefaultConfig)
	}
	for _, name := range Registered() {
		q, err := NewQueue(name)
		if err != nil {
			klog.V(1).Infof("runtime %s unavailable: %v", name, err)
			continue
		}
		klog.V(1).Infof("default queue on %s device %q", name, Identity(q.Device()))
		return q, nil
	}
	return nil, nil
}
