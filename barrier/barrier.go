// Package barrier implements the countdown rendezvous of spec §4.4: a
// Barrier built from a lock.Lock that is pre-acquired at construction and
// released once the final participant arrives.
package barrier

import (
	"context"
	"sync"

	"darvaza.org/core"

	"github.com/MatrixAI/go-async-locks/errors"
	"github.com/MatrixAI/go-async-locks/lock"
)

// Barrier coordinates a fixed number of participants: the count-th call to
// Wait releases every blocked (and every subsequent) caller.
type Barrier struct {
	mu        sync.Mutex
	remaining int
	l         *lock.Lock
	release   *lock.Release
}

// New constructs a Barrier for count participants. Because the inner lock
// must be acquired at construction time (spec §3: "Created via an async
// factory because the inner Lock must be acquired at construction"), New
// takes a context to bound that initial acquisition; in practice it never
// blocks, since a fresh lock.Lock is always immediately available.
func New(ctx context.Context, count int) (*Barrier, error) {
	if count < 0 {
		return nil, core.Wrap(errors.ErrRange, "count")
	}

	l := lock.New()
	rel, err := l.LockCtx(ctx)
	if err != nil {
		return nil, err
	}

	b := &Barrier{remaining: count, l: l, release: rel}
	if count == 0 {
		rel.Release()
		b.release = nil
	}
	return b, nil
}

// Must is a convenience wrapper around New that panics instead of returning
// an error.
func Must(ctx context.Context, count int) *Barrier {
	b, err := New(ctx, count)
	if err != nil {
		core.Panic(core.NewPanicError(1, err))
	}
	return b
}

// Wait blocks until count participants (across all callers) have called
// Wait, or ctx is done. Once the barrier has released, every call returns
// immediately.
func (b *Barrier) Wait(ctx context.Context) error {
	if !b.l.IsLocked() {
		return nil
	}

	b.mu.Lock()
	if b.remaining > 0 {
		b.remaining--
	}
	reachedZero := b.remaining == 0

	var rel *lock.Release
	if reachedZero {
		rel = b.release
		b.release = nil
	}
	b.mu.Unlock()

	if reachedZero {
		if rel != nil {
			rel.Release()
		}
		return nil
	}

	return b.l.WaitForUnlock().Invoke(ctx)
}

// Destroy force-unlocks the barrier, releasing every current and future
// waiter immediately.
func (b *Barrier) Destroy() {
	b.mu.Lock()
	rel := b.release
	b.release = nil
	b.mu.Unlock()

	if rel != nil {
		rel.Release()
	}
}

// Count reports the number of participants still required before the
// barrier releases.
func (b *Barrier) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}
