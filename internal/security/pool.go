package security

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// HashPool bounds how many key derivations run at once so a burst of logins
// cannot take every CPU away from other requests.
type HashPool struct {
	sem *semaphore.Weighted
}

func NewHashPool(workers int) *HashPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &HashPool{sem: semaphore.NewWeighted(int64(workers))}
}

// Run executes fn on a pool slot and blocks until it has finished. The slot
// is acquired with a background context: once submitted, the work is never
// abandoned, because lockout bookkeeping depends on its result. Callers that
// need a deadline run Run on their own goroutine and stop waiting instead.
func (p *HashPool) Run(fn func()) {
	_ = p.sem.Acquire(context.Background(), 1)
	defer p.sem.Release(1)

	fn()
}

// Go is Run on a new goroutine; done is closed when fn has returned.
func (p *HashPool) Go(fn func()) (done <-chan struct{}) {
	ch := make(chan struct{})

	go func() {
		defer close(ch)
		p.Run(fn)
	}()

	return ch
}
