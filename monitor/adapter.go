package monitor

import (
	"context"

	"github.com/MatrixAI/go-async-locks/lockbox"
	"github.com/MatrixAI/go-async-locks/rwlock"
)

// rwLocker adapts a rwlock.Lockable to the lockbox.Locker interface so the
// LockBox can own, type-check and garbage-collect entries of the Monitor's
// fixed RW-lock class. LockCtx always acquires Write: Monitor never drives
// acquisition through it, only through the unwrapped Lockable returned by
// unwrap, since the type (read or write) of an acquisition is chosen
// per-request and LockBox's Locker interface has no room for one.
type rwLocker struct {
	inner rwlock.Lockable
}

func (a rwLocker) LockCtx(ctx context.Context) (lockbox.Release, error) {
	rel, err := a.inner.Lock(ctx, rwlock.Write)
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (a rwLocker) IsLocked() bool { return a.inner.Count() > 0 }
func (a rwLocker) Count() int     { return a.inner.Count() }

func unwrap(l lockbox.Locker) rwlock.Lockable {
	return l.(rwLocker).inner //nolint:forcetypeassert // Monitor never stores other Locker kinds in its own box entries
}
