package monitor

import (
	"context"
	"sort"
	"sync"

	"darvaza.org/core"
	"darvaza.org/slog"
	"darvaza.org/slog/handlers/discard"

	merrors "github.com/MatrixAI/go-async-locks/errors"
	"github.com/MatrixAI/go-async-locks/lockbox"
	"github.com/MatrixAI/go-async-locks/rwlock"
	"github.com/MatrixAI/go-async-locks/scoped"
)

// Monitor is a transactional, re-entrant view over a shared LockBox of
// RW-locks, all created by the same constructor (spec §4.6). Locking a key
// a Monitor already holds is a no-op if the type matches, and an error
// (ErrLockTypeMismatch) if it doesn't; across distinct Monitors the usual
// contention rules apply.
type Monitor struct {
	box     *lockbox.LockBox
	newLock func() rwlock.Lockable
	pending *PendingTable
	logger  slog.Logger

	mu    sync.Mutex
	locks map[string]*localEntry
	order []string
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithPendingTable enables cross-Monitor deadlock detection using a table
// shared with the other monitors contending for the same LockBox.
func WithPendingTable(t *PendingTable) Option {
	return func(m *Monitor) { m.pending = t }
}

// WithLogger overrides the Monitor's logger. The default discards every
// entry.
func WithLogger(l slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New constructs a Monitor over box, whose entries (when created by this
// Monitor) are built by newLock.
func New(box *lockbox.LockBox, newLock func() rwlock.Lockable, opts ...Option) *Monitor {
	m := &Monitor{
		box:     box,
		newLock: newLock,
		logger:  discard.New(),
		locks:   make(map[string]*localEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func normalise(requests []Request) []Request {
	seen := make(map[string]bool, len(requests))
	out := make([]Request, 0, len(requests))
	for _, r := range requests {
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// scopedRelease releases exactly the keys one Lock call newly acquired, in
// reverse order. It does not release keys that call found already held
// (re-entrant no-ops).
type scopedRelease struct {
	once sync.Once
	m    *Monitor
	keys []string
}

// Release releases every key this call newly acquired, in reverse order.
func (r *scopedRelease) Release() {
	r.once.Do(func() {
		for i := len(r.keys) - 1; i >= 0; i-- {
			r.m.releaseKey(r.keys[i])
		}
	})
}

// Lock acquires every key named by requests, in canonical sorted order,
// duplicates collapsed. A request whose key is already held locally with a
// matching type is a silent no-op; a mismatched type is ErrLockTypeMismatch.
// On any failure (including a detected deadlock), every key this call had
// already newly acquired is released, in reverse order, before the error is
// returned; keys this Monitor already held are left untouched.
func (m *Monitor) Lock(ctx context.Context, requests ...Request) (lockbox.Release, error) {
	reqs := normalise(requests)
	var newlyAcquired []string

	for _, req := range reqs {
		reqCtx := ctx
		if req.Ctx != nil {
			reqCtx = req.Ctx
		}

		fresh, err := m.lockOne(reqCtx, req)
		if err != nil {
			for i := len(newlyAcquired) - 1; i >= 0; i-- {
				m.releaseKey(newlyAcquired[i])
			}
			return nil, err
		}
		if fresh {
			newlyAcquired = append(newlyAcquired, req.Key)
		}
	}

	return &scopedRelease{m: m, keys: newlyAcquired}, nil
}

// lockOne drives the acquisition of a single request, reporting whether
// this call newly acquired the key (false for a re-entrant no-op).
func (m *Monitor) lockOne(ctx context.Context, req Request) (bool, error) {
	m.mu.Lock()
	if existing, ok := m.locks[req.Key]; ok {
		if existing.typ != req.Type {
			m.mu.Unlock()
			return false, core.Wrap(merrors.ErrLockTypeMismatch, req.Key)
		}
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	acqs, err := m.box.Entries(lockbox.Request{Key: req.Key, New: func() lockbox.Locker {
		return rwLocker{inner: m.newLock()}
	}})
	if err != nil {
		return false, err
	}
	ka := acqs[0]
	lockable := unwrap(ka.Locker())

	if m.pending != nil && lockable.ConflictsWith(req.Type) {
		if m.hasCycle() {
			m.box.CleanupIfUnused(req.Key, ka.Locker())
			m.logger.Debug().
				WithField("key", req.Key).
				Print("deadlock detected")
			return false, core.Wrap(merrors.ErrDeadlock, req.Key)
		}
	}

	m.mu.Lock()
	m.locks[req.Key] = &localEntry{status: statusAcquiring, typ: req.Type, lock: lockable}
	m.mu.Unlock()
	if m.pending != nil {
		m.pending.add(m, req.Key, req.Type)
	}

	rel, err := lockable.Lock(ctx, req.Type)

	if m.pending != nil {
		m.pending.remove(m, req.Key)
	}

	if err != nil {
		m.mu.Lock()
		delete(m.locks, req.Key)
		m.mu.Unlock()
		m.box.CleanupIfUnused(req.Key, ka.Locker())
		return false, err
	}

	m.mu.Lock()
	m.locks[req.Key] = &localEntry{status: statusAcquired, typ: req.Type, lock: lockable, release: rel}
	m.order = append(m.order, req.Key)
	m.mu.Unlock()

	return true, nil
}

// hasCycle snapshots this Monitor's currently held types and asks the
// shared pending table whether granting the in-flight request would close
// a hold-and-wait cycle.
func (m *Monitor) hasCycle() bool {
	m.mu.Lock()
	holds := make(map[string]Type, len(m.locks))
	for k, e := range m.locks {
		if e.status == statusAcquired {
			holds[k] = e.typ
		}
	}
	m.mu.Unlock()

	return m.pending.hasCycle(m, holds)
}

// releaseKey releases and forgets a single locally acquired key, if held.
func (m *Monitor) releaseKey(key string) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.locks, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if entry.release != nil {
		entry.release.Release()
	}
	m.box.CleanupIfUnused(key, rwLocker{inner: entry.lock})
}

// Unlock releases each named key, in the order given, if it is locally
// held. Keys not locally held are silently skipped.
func (m *Monitor) Unlock(keys ...string) {
	for _, key := range keys {
		m.releaseKey(key)
	}
}

// UnlockAll releases every key this Monitor currently holds, in reverse of
// local acquisition order. Use it to recover after this Monitor's Lock
// returns ErrDeadlock, so the other Monitors sharing its pending table can
// proceed.
func (m *Monitor) UnlockAll() {
	m.mu.Lock()
	keys := append([]string(nil), m.order...)
	m.mu.Unlock()

	if len(keys) > 0 {
		m.logger.Warn().
			WithField("count", len(keys)).
			Print("releasing all monitor locks")
	}

	for i := len(keys) - 1; i >= 0; i-- {
		m.releaseKey(keys[i])
	}
}

// IsLocked reports, monitor-locally, whether key (or any key, if nil) is
// currently held or being acquired by this Monitor. If t is non-nil, a
// type mismatch on the named key is treated as not locked.
func (m *Monitor) IsLocked(key *string, t *Type) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	check := func(e *localEntry) bool {
		return t == nil || e.typ == *t
	}

	if key != nil {
		e, ok := m.locks[*key]
		return ok && check(e)
	}
	for _, e := range m.locks {
		if check(e) {
			return true
		}
	}
	return false
}

// WaitForUnlock blocks, for each key this Monitor holds or is acquiring
// (or just key, if non-nil), until that key's underlying lock reports no
// activity system-wide, or ctx is done.
func (m *Monitor) WaitForUnlock(ctx context.Context, key *string) error {
	m.mu.Lock()
	var lockables []rwlock.Lockable
	if key != nil {
		if e, ok := m.locks[*key]; ok {
			lockables = append(lockables, e.lock)
		}
	} else {
		for _, k := range m.order {
			if e, ok := m.locks[k]; ok {
				lockables = append(lockables, e.lock)
			}
		}
	}
	m.mu.Unlock()

	for _, l := range lockables {
		if err := l.WaitForUnlock(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Count reports the number of keys this Monitor currently holds or is
// acquiring.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Locks returns a snapshot of key to type for every key this Monitor
// currently holds (acquired, not merely acquiring).
func (m *Monitor) Locks() map[string]Type {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Type, len(m.locks))
	for k, e := range m.locks {
		if e.status == statusAcquired {
			out[k] = e.typ
		}
	}
	return out
}

type monitorAcquire struct {
	m        *Monitor
	requests []Request
}

func (a monitorAcquire) Invoke(ctx context.Context) (lockbox.Release, error) {
	return a.m.Lock(ctx, a.requests...)
}

// With acquires every key named by requests for the duration of body,
// releasing only the keys this call newly acquired (never re-entrant
// no-ops) in reverse on every exit path.
func (m *Monitor) With(ctx context.Context, requests []Request, body func() error) error {
	return scoped.With[lockbox.Release](ctx, monitorAcquire{m: m, requests: requests}, func(lockbox.Release) error {
		return body()
	})
}
