// Package lock implements the library's mutual-exclusion primitive: a
// Semaphore of limit 1 (spec §4.2). Every method is a thin delegation to
// the underlying Semaphore with weight fixed at 1.
package lock

import (
	"context"

	"github.com/MatrixAI/go-async-locks/scoped"
	"github.com/MatrixAI/go-async-locks/semaphore"
)

// Lock is a trivial specialisation of semaphore.Semaphore with limit 1 and
// weight always 1.
type Lock struct {
	sem *semaphore.Semaphore
}

// New constructs an unlocked Lock.
func New() *Lock {
	return &Lock{sem: semaphore.Must(1)}
}

// Acquire is Lock's two-stage acquire value (spec §9): constructing it via
// Lock.Lock does no work; Invoke blocks until admission.
type Acquire struct {
	inner semaphore.Acquire
}

// Invoke blocks until the Lock is acquired, ctx is done, or returns the
// error produced by the underlying Semaphore.
func (a Acquire) Invoke(ctx context.Context) (*Release, error) {
	rel, err := a.inner.Invoke(ctx)
	if err != nil {
		return nil, err
	}
	return &Release{rel}, nil
}

// Release is the single-shot, idempotent handle returned by a successful
// Acquire.Invoke.
type Release struct {
	inner *semaphore.Release
}

// Release unlocks the Lock. Safe to call more than once; only the first
// call has an effect.
func (r *Release) Release() { r.inner.Release() }

// Lock returns an Acquire for this Lock.
func (l *Lock) Lock() Acquire {
	return Acquire{inner: l.sem.Lock(1)}
}

// LockCtx is a convenience one-shot equivalent of l.Lock().Invoke(ctx).
func (l *Lock) LockCtx(ctx context.Context) (*Release, error) {
	return l.Lock().Invoke(ctx)
}

// Waiter is Lock's waitForUnlock two-stage value.
type Waiter struct {
	inner semaphore.Waiter
}

// Invoke blocks until the Lock could hypothetically be acquired, or ctx is
// done. It takes a turn as a holder and releases at once (see
// semaphore.Waiter), so the caller never keeps the Lock.
func (w Waiter) Invoke(ctx context.Context) error {
	return w.inner.Invoke(ctx)
}

// WaitForUnlock returns a Waiter for this Lock.
func (l *Lock) WaitForUnlock() Waiter {
	return Waiter{inner: l.sem.WaitForUnlock(1)}
}

// IsLocked reports whether the Lock is currently held or has queued
// waiters.
func (l *Lock) IsLocked() bool { return l.sem.IsLocked() }

// Count reports the number of tasks currently holding or queued on the
// Lock (0 or 1 holder, plus any queued waiters).
func (l *Lock) Count() int { return l.sem.Count() }

// With acquires the Lock for the duration of body, releasing it on every
// exit path (body returning, panicking, or Invoke itself failing).
func (l *Lock) With(ctx context.Context, body func() error) error {
	return scoped.With[*Release](ctx, l.Lock(), func(*Release) error {
		return body()
	})
}
