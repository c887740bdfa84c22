// Package multicore is the task-parallel host backend: work over a
// partition plan is fanned out to a bounded number of goroutines.
//
// Usage:
//
//	pool := multicore.New(runtime.GOMAXPROCS(0))
//	plan := pool.Plan(len(data), 8)
//	err := pool.ParallelFor(plan, func(part, start, end int) error {
//	    return process(data[start:end])
//	})
package multicore

import (
	"runtime"
	"sync"

	"github.com/notargets/KernelDispatch/partitions"
	"golang.org/x/sync/errgroup"
)

// Pool bounds how many partitions run at once.
type Pool struct {
	numWorkers int
}

// New creates a pool running at most numWorkers partitions concurrently.
// If numWorkers <= 0, uses GOMAXPROCS.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: numWorkers}
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process pool sized to GOMAXPROCS at first use.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(0)
	})
	return defaultPool
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Plan splits n elements into perWorker partitions per worker, giving the
// scheduler slack to balance uneven partitions.
func (p *Pool) Plan(n, perWorker int) partitions.Plan {
	if perWorker < 1 {
		perWorker = 1
	}
	return partitions.Split(n, p.numWorkers*perWorker)
}

// ParallelFor runs fn once per partition of plan, with fn receiving the
// partition index and its [start, end) range. It blocks until every
// partition has finished and returns the first error. Partitions not yet
// started when an error occurs are skipped.
func (p *Pool) ParallelFor(plan partitions.Plan, fn func(part, start, end int) error) error {
	if plan.NumPartitions == 0 {
		return nil
	}
	if plan.NumPartitions == 1 || p.numWorkers == 1 {
		for part := 0; part < plan.NumPartitions; part++ {
			start, end := plan.Range(part)
			if err := fn(part, start, end); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(min(p.numWorkers, plan.NumPartitions))
	var (
		mu     sync.Mutex
		failed bool
	)
	for part := 0; part < plan.NumPartitions; part++ {
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}
		start, end := plan.Range(part)
		g.Go(func() error {
			if err := fn(part, start, end); err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
