package password

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// pool runs KDF work with at most n derivations in flight.
type pool struct {
	sem *semaphore.Weighted
}

func newPool(n int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(n))}
}

// run blocks until a slot is free, then executes fn on its own goroutine.
// If ctx ends first, run returns ctx.Err(); fn still finishes and releases
// its slot, and its results must be discarded by the caller.
func (p *pool) run(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer p.sem.Release(1)
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
