package sandbox

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// defaultMaxConcurrency bounds simultaneous container runs when the operator
// does not configure a limit.
const defaultMaxConcurrency = 4

// Permits is a fixed-size token bucket gating concurrent container runs.
// Acquire blocks until a token is free or the context ends; Release must be
// called exactly once per successful Acquire, on every exit path.
type Permits struct {
	sem *semaphore.Weighted
}

// NewPermits creates a permit bucket of the given size. Sizes below one fall
// back to the default.
func NewPermits(size int) *Permits {
	if size < 1 {
		size = defaultMaxConcurrency
	}
	return &Permits{sem: semaphore.NewWeighted(int64(size))}
}

// Acquire claims one run permit, blocking while the bucket is empty.
func (p *Permits) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns one run permit.
func (p *Permits) Release() {
	p.sem.Release(1)
}
