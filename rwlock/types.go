// Package rwlock implements the two reader-writer lock variants of spec
// §4.3, each built from two inner lock.Lock values plus reader/writer
// bookkeeping.
package rwlock

import (
	"context"

	"github.com/MatrixAI/go-async-locks/scoped"
)

// Type selects which side of a reader-writer lock to acquire.
type Type int

const (
	// Write requests exclusive access. It is the default when a caller
	// does not specify a type (spec §4.3: "lock(type?='write', ctx?)").
	Write Type = iota
	// Read requests shared access.
	Read
)

// Release is the single-shot, idempotent handle returned by a successful
// read or write acquisition.
type Release interface {
	Release()
}

// Lockable is the common surface both RW variants expose, matching the
// "Lockable" term in the GLOSSARY and the interface LockBox/Monitor need to
// manage entries generically.
type Lockable interface {
	// Lock dispatches to Read or Write depending on t.
	Lock(ctx context.Context, t Type) (Release, error)
	// ConflictsWith reports whether acquiring t right now would have to
	// block against the lock's current holders, without actually
	// attempting to acquire it. Used by the Monitor deadlock detector.
	ConflictsWith(t Type) bool
	IsLocked(t Type) bool
	// WaitForUnlock blocks until both inner locks report no activity, or
	// ctx is done.
	WaitForUnlock(ctx context.Context) error
	ReaderCount() int
	WriterCount() int
	Count() int
}

// typedAcquire pins a Type so a Lockable's two-argument Lock can be used as
// the single-argument scoped.Acquire the With helper below forwards to.
type typedAcquire struct {
	l Lockable
	t Type
}

func (a typedAcquire) Invoke(ctx context.Context) (Release, error) {
	return a.l.Lock(ctx, a.t)
}

// With acquires l for type t for the duration of body, releasing it on
// every exit path (body returning, panicking, or Invoke itself failing).
func With(ctx context.Context, l Lockable, t Type, body func() error) error {
	return scoped.With[Release](ctx, typedAcquire{l: l, t: t}, func(Release) error {
		return body()
	})
}
