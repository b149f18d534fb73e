// Package errors provides the sentinel errors shared by every primitive in
// this module.
package errors

import (
	"errors"

	"darvaza.org/core"
)

// ErrNilReceiver is returned when a nil receiver is encountered and cannot
// be used.
var ErrNilReceiver = core.ErrNilReceiver

// ErrNotInitialised indicates operations cannot proceed because the target
// has not been initialised.
var ErrNotInitialised = errors.New("not initialised")

// ErrClosed indicates operations cannot proceed because the target is
// closed.
var ErrClosed = errors.New("closed")

// ErrNilContext indicates a blocking call was invoked with a nil context.
var ErrNilContext = errors.New("nil context not allowed")

// ErrRange indicates a constructor or call argument fell outside its
// allowed range: a semaphore limit below 1, a lock weight below 1, or a
// negative barrier count.
var ErrRange = errors.New("argument out of range")

// ErrTimeout indicates a blocking wait exceeded its deadline.
var ErrTimeout = errors.New("wait timed out")

// ErrCancelled indicates an external signal aborted a blocking wait.
var ErrCancelled = errors.New("wait cancelled")

// ErrLockBoxConflict indicates a lock request found an existing live entry
// under a different lockable type for the same key.
var ErrLockBoxConflict = errors.New("lock box conflict: key is held by a different lockable type")

// ErrLockTypeMismatch indicates a Monitor attempted to re-lock a key it
// already holds using a different lock type (read vs write).
var ErrLockTypeMismatch = errors.New("monitor: cannot change the lock type of an already held key")

// ErrDeadlock indicates the Monitor deadlock detector identified a
// hold-and-wait cycle on the acquire that would have closed it.
var ErrDeadlock = errors.New("monitor: deadlock detected")
