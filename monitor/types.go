// Package monitor implements the transactional, re-entrant view over a
// shared keyed map of RW-locks described in spec §4.6, with optional
// cross-Monitor deadlock detection.
package monitor

import (
	"context"

	"github.com/MatrixAI/go-async-locks/rwlock"
)

// Type re-exports rwlock.Type so callers need not import rwlock directly
// just to build a Request.
type Type = rwlock.Type

const (
	// Write requests exclusive access, the default for a bare-key Request.
	Write = rwlock.Write
	// Read requests shared access.
	Read = rwlock.Read
)

// Request is one element of a Lock call: the key to lock, the type to lock
// it as (defaults to Write, the zero value), and an optional per-request
// context overriding the method's ctx.
type Request struct {
	Key  string
	Type Type
	Ctx  context.Context
}

// Key builds a bare Request defaulting to Write, the common case of
// locking a single key exclusively.
func Key(key string) Request { return Request{Key: key} }

// KeyType builds a Request for key with an explicit type.
func KeyType(key string, t Type) Request { return Request{Key: key, Type: t} }

type status int

const (
	statusAcquiring status = iota
	statusAcquired
)

// localEntry is one key's bookkeeping within a single Monitor.
type localEntry struct {
	status  status
	typ     Type
	lock    rwlock.Lockable
	release rwlock.Release
}
