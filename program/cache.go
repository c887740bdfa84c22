package program

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CompileFunc compiles the program for a key on a cache miss.
type CompileFunc func() (*CompiledProgram, error)

// Stats counts cache traffic.
type Stats struct {
	Hits     int
	Misses   int
	Failures int
}

// Cache maps compile keys to compiled programs. Entries are never evicted.
//
// One mutex guards both lookup and insert, and a miss compiles while holding
// it: first-use compiles of unrelated keys run one at a time.
type Cache struct {
	mu      sync.Mutex
	entries map[CompileKey]*CompiledProgram
	stats   Stats
}

// NewCache returns an empty, isolated cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[CompileKey]*CompiledProgram)}
}

var (
	globalOnce  sync.Once
	globalCache *Cache
)

// Global returns the process-wide cache, created on first use.
func Global() *Cache {
	globalOnce.Do(func() {
		globalCache = NewCache()
	})
	return globalCache
}

// Acquire returns the program cached under key, compiling and inserting it
// on a miss. A failed compile inserts nothing and returns compile's error
// as is, so a later call with the same key compiles again.
func (c *Cache) Acquire(key CompileKey, compile CompileFunc) (*CompiledProgram, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cp, found := c.entries[key]; found {
		c.stats.Hits++
		return cp, nil
	}
	c.stats.Misses++

	cp, err := compile()
	if err != nil {
		c.stats.Failures++
		return nil, err
	}
	if cp == nil {
		c.stats.Failures++
		return nil, errors.New("compile returned no program")
	}
	c.entries[key] = cp
	klog.V(2).Infof("program cache: inserted %d kernel(s) %v, %d entries",
		len(cp.names), cp.names, len(c.entries))
	return cp, nil
}

// Lookup returns the program cached under key without compiling.
func (c *Cache) Lookup(key CompileKey) (*CompiledProgram, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, found := c.entries[key]
	return cp, found
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
