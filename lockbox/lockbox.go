// Package lockbox implements the keyed, dynamically growing map of
// lockables described in spec §4.5: LockBox<L>. Requests naming several
// keys are always locked and released in a canonical sorted order, which is
// the deadlock-avoidance pillar the Monitor package builds on.
package lockbox

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"darvaza.org/core"

	"github.com/MatrixAI/go-async-locks/errors"
	"github.com/MatrixAI/go-async-locks/scoped"
)

// Release is the single-shot, idempotent handle returned by a successful
// lock.
type Release interface {
	Release()
}

// Locker is the "Lockable" surface (GLOSSARY) a LockBox can manage: a type
// exposing a single canonical blocking acquire plus the bookkeeping needed
// to know when an entry is safe to garbage-collect.
type Locker interface {
	LockCtx(ctx context.Context) (Release, error)
	IsLocked() bool
	Count() int
}

// Request is one element of a multi-key lock call: the key to lock, and a
// constructor used only if no live entry exists yet for that key.
type Request struct {
	Key string
	New func() Locker
}

// LockBox is a dynamically growing map from string key to a live Locker.
// An entry exists for as long as (and only as long as) at least one holder
// or waiter references it.
type LockBox struct {
	mu sync.Mutex
	m  map[string]Locker
}

// New constructs an empty LockBox.
func New() *LockBox {
	return &LockBox{m: make(map[string]Locker)}
}

// sortDedupe produces a deterministic, deduplicated (first request per key
// wins) copy of requests sorted by key using ordinary string ordering, the
// canonical order every multi-key acquire and release in this package uses.
func sortDedupe(requests []Request) []Request {
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

// entry fetches the live Locker for req.Key, creating it via req.New if
// absent, and verifying that an existing entry matches the requested
// concrete type (spec §3: "The lockable class per key is fixed for the
// duration of that key's lifetime").
func (b *LockBox) entry(req Request) (Locker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.m[req.Key]; ok {
		candidate := req.New()
		if reflect.TypeOf(existing) != reflect.TypeOf(candidate) {
			return nil, core.Wrap(errors.ErrLockBoxConflict, req.Key)
		}
		return existing, nil
	}

	created := req.New()
	b.m[req.Key] = created
	return created, nil
}

// cleanup removes the map entry for key if it still points at l and l no
// longer reports itself locked, per spec §4.5 step 3/4.
func (b *LockBox) cleanup(key string, l Locker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.m[key]; ok && cur == l && !cur.IsLocked() { //nolint:staticcheck // interface identity compare is intentional
		delete(b.m, key)
	}
}

type acquired struct {
	key string
	l   Locker
	rel Release
}

// boxRelease releases every key acquired by one Lock call in reverse
// order, exactly once.
type boxRelease struct {
	once sync.Once
	box  *LockBox
	acqs []acquired
}

func (r *boxRelease) Release() {
	r.once.Do(func() {
		r.box.unwind(r.acqs)
	})
}

func (b *LockBox) unwind(acqs []acquired) {
	for i := len(acqs) - 1; i >= 0; i-- {
		a := acqs[i]
		a.rel.Release()
		b.cleanup(a.key, a.l)
	}
}

// Lock acquires every key named by requests, in canonical sorted order,
// duplicates collapsed. On any failure it unwinds everything already
// acquired by this call, in reverse order, and propagates the failing
// request's error.
func (b *LockBox) Lock(ctx context.Context, requests ...Request) (Release, error) {
	reqs := sortDedupe(requests)
	acqs := make([]acquired, 0, len(reqs))

	for _, req := range reqs {
		l, err := b.entry(req)
		if err != nil {
			b.unwind(acqs)
			return nil, err
		}

		rel, err := l.LockCtx(ctx)
		if err != nil {
			b.cleanup(req.Key, l)
			b.unwind(acqs)
			return nil, err
		}

		acqs = append(acqs, acquired{key: req.Key, l: l, rel: rel})
	}

	return &boxRelease{box: b, acqs: acqs}, nil
}

// KeyAcquire is the per-key two-stage acquire value returned by LockMulti:
// constructing it (via LockMulti) has already resolved (or created) the
// entry; Invoke performs the actual blocking acquisition.
type KeyAcquire struct {
	box *LockBox
	key string
	l   Locker
}

// Invoke blocks until the key's lockable admits this caller, or ctx is
// done.
func (k KeyAcquire) Invoke(ctx context.Context) (Release, error) {
	rel, err := k.l.LockCtx(ctx)
	if err != nil {
		k.box.cleanup(k.key, k.l)
		return nil, err
	}
	return &keyRelease{box: k.box, key: k.key, l: k.l, inner: rel}, nil
}

// Key reports the canonical key this acquire targets.
func (k KeyAcquire) Key() string { return k.key }

// Locker exposes the entry's underlying Locker, for callers (such as
// Monitor) that need to drive acquisition themselves instead of through
// Invoke.
func (k KeyAcquire) Locker() Locker { return k.l }

type keyRelease struct {
	once  sync.Once
	box   *LockBox
	key   string
	l     Locker
	inner Release
}

func (r *keyRelease) Release() {
	r.once.Do(func() {
		r.inner.Release()
		r.box.cleanup(r.key, r.l)
	})
}

// LockMulti resolves (creating if necessary) every key named by requests,
// in canonical sorted order, duplicates collapsed, and returns a per-key
// acquire the caller can Invoke independently. Unlike Lock, the caller is
// responsible for acquisition/release ordering of the returned acquires;
// LockBox's per-entry cleanup invariant is preserved regardless.
func (b *LockBox) LockMulti(requests ...Request) ([]KeyAcquire, error) {
	reqs := sortDedupe(requests)
	out := make([]KeyAcquire, 0, len(reqs))
	for _, req := range reqs {
		l, err := b.entry(req)
		if err != nil {
			return nil, err
		}
		out = append(out, KeyAcquire{box: b, key: req.Key, l: l})
	}
	return out, nil
}

// IsLocked reports whether the entry at key is locked. With key nil, it
// reports whether any entry in the box is locked.
func (b *LockBox) IsLocked(key *string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if key != nil {
		l, ok := b.m[*key]
		return ok && l.IsLocked()
	}
	for _, l := range b.m {
		if l.IsLocked() {
			return true
		}
	}
	return false
}

// WaitForUnlock blocks until the entry at key has no activity, or ctx is
// done. Locker does not expose a non-admitting peek, so (per the same
// tradeoff documented for semaphore.Waiter) this acquires the entry and
// releases it again immediately. With key nil, it does this for every
// entry live at call time, in canonical sorted order; entries created
// after the call began are not waited on.
func (b *LockBox) WaitForUnlock(ctx context.Context, key *string) error {
	var keys []string
	if key != nil {
		keys = []string{*key}
	} else {
		b.mu.Lock()
		for k := range b.m {
			keys = append(keys, k)
		}
		b.mu.Unlock()
		sort.Strings(keys)
	}

	for _, k := range keys {
		b.mu.Lock()
		l, ok := b.m[k]
		b.mu.Unlock()
		if !ok {
			continue
		}
		rel, err := l.LockCtx(ctx)
		if err != nil {
			return err
		}
		rel.Release()
		b.cleanup(k, l)
	}
	return nil
}

// Count sums Count() across every live entry.
func (b *LockBox) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, l := range b.m {
		n += l.Count()
	}
	return n
}

// Entries returns the live Locker for each requested key, creating entries
// that do not yet exist, in canonical sorted order with duplicates
// collapsed, without locking anything. It is the building block Monitor
// uses to obtain (or create) a key's lockable before driving its own typed
// acquire/release sequencing.
func (b *LockBox) Entries(requests ...Request) ([]KeyAcquire, error) {
	return b.LockMulti(requests...)
}

// CleanupIfUnused exposes the per-entry cleanup check to callers (such as
// Monitor) that drive their own acquire/release sequencing instead of going
// through Lock/LockMulti/KeyAcquire.
func (b *LockBox) CleanupIfUnused(key string, l Locker) {
	b.cleanup(key, l)
}

type boxAcquire struct {
	box      *LockBox
	requests []Request
}

func (a boxAcquire) Invoke(ctx context.Context) (Release, error) {
	return a.box.Lock(ctx, a.requests...)
}

// With acquires every key named by requests for the duration of body,
// releasing them in reverse on every exit path (body returning, panicking,
// or a partial acquisition failing).
func (b *LockBox) With(ctx context.Context, requests []Request, body func() error) error {
	return scoped.With[Release](ctx, boxAcquire{box: b, requests: requests}, func(Release) error {
		return body()
	})
}
