package tool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many CPU bound (ModeSync) tool bodies run at once.
// Callers wait for a slot; async tools never enter the pool.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewWorkerPool creates a pool with size slots (defaults to GOMAXPROCS when size < 1).
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = runtime.GOMAXPROCS(0)
	}

	return &WorkerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int { return p.size }

// Run waits for a slot (or ctx cancellation) and executes fn in it.
func (p *WorkerPool) Run(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	return fn()
}
