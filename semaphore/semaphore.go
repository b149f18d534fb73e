// Package semaphore implements the library's root primitive: a weighted,
// ordered Semaphore (spec §4.1). Every other lock in this module is layered
// on top of it.
package semaphore

import (
	"context"
	"sync"

	"darvaza.org/core"

	"github.com/MatrixAI/go-async-locks/errors"
	"github.com/MatrixAI/go-async-locks/scoped"
	"github.com/MatrixAI/go-async-locks/waitctx"
)

// Semaphore provides weighted, cancellable admission control over a shared
// resource. Holders consume a weight on admission and return it on release;
// at most `limit` weight units may be admitted concurrently.
//
// A Semaphore must be constructed with New; the zero value is not usable.
type Semaphore struct {
	mu sync.Mutex

	limit    int
	priority bool

	currentWeight int
	count         int
	q             queue
}

// Option configures a Semaphore at construction time.
type Option func(*Semaphore)

// WithPriority switches the Semaphore to prioritised queueing: smaller
// weights are admitted ahead of larger ones, trading starvation-freedom for
// extra concurrency (spec §4.1).
func WithPriority() Option {
	return func(s *Semaphore) { s.priority = true }
}

// New constructs a Semaphore admitting at most limit weight units at once.
// limit must be at least 1.
func New(limit int, opts ...Option) (*Semaphore, error) {
	if limit < 1 {
		return nil, core.Wrap(errors.ErrRange, "limit")
	}

	s := &Semaphore{limit: limit}
	for _, opt := range opts {
		opt(s)
	}

	if s.priority {
		s.q = &priorityQueue{}
	} else {
		s.q = &fifoQueue{}
	}
	return s, nil
}

// Must is a convenience wrapper around New that panics instead of returning
// an error, for use in package-level initialisers.
func Must(limit int, opts ...Option) *Semaphore {
	s, err := New(limit, opts...)
	if err != nil {
		core.Panic(core.NewPanicError(1, err))
	}
	return s
}

// Acquire is the two-stage value described by spec §9: constructing it (via
// Semaphore.Lock) performs no work; calling Invoke does the actual
// enqueue-and-block.
type Acquire struct {
	sem    *Semaphore
	weight int
}

// Lock returns an Acquire for weight units of the Semaphore's capacity. A
// weight of 0 defaults to 1. The Acquire performs no work until Invoke is
// called.
func (s *Semaphore) Lock(weight int) Acquire {
	if weight == 0 {
		weight = 1
	}
	return Acquire{sem: s, weight: weight}
}

// Invoke enqueues the acquire and blocks until admission, until ctx is
// done, or returns immediately with an error if weight is invalid. A nil
// ctx is treated as context.Background (never cancels, never times out).
func (a Acquire) Invoke(ctx context.Context) (*Release, error) {
	return a.sem.doLock(ctx, a.weight)
}

// Waiter is the two-stage value returned by Semaphore.WaitForUnlock: it
// resolves once a hypothetical admission of the recorded weight could
// proceed. Invoke does this by taking a real turn in the queue: it is
// admitted like any acquire and releases the weight again at once, so the
// caller never keeps a hold.
type Waiter struct {
	sem    *Semaphore
	weight int
}

// WaitForUnlock returns a Waiter for the given weight (0 defaults to 1).
func (s *Semaphore) WaitForUnlock(weight int) Waiter {
	if weight == 0 {
		weight = 1
	}
	return Waiter{sem: s, weight: weight}
}

// Invoke blocks until a hypothetical admission of the Waiter's weight could
// proceed (i.e. this caller would reach the head of the queue), until ctx
// is done, whichever comes first.
func (w Waiter) Invoke(ctx context.Context) error {
	rel, err := w.sem.doLock(ctx, w.weight)
	if err != nil {
		return err
	}
	rel.Release()
	return nil
}

// Release is the single-shot, idempotent handle returned by a successful
// Acquire.Invoke. Calling Release more than once is a no-op after the
// first call.
type Release struct {
	once   sync.Once
	sem    *Semaphore
	weight int
}

// Release returns the acquired weight to the Semaphore, admitting the next
// eligible waiter(s) if any. Safe to call multiple times; only the first
// call has an effect.
func (r *Release) Release() {
	r.once.Do(func() {
		r.sem.release(r.weight)
	})
}

// IsLocked reports whether any task is currently admitted or queued.
func (s *Semaphore) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count > 0
}

// Count reports the number of tasks currently admitted or queued.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Limit reports the Semaphore's fixed capacity.
func (s *Semaphore) Limit() int {
	return s.limit
}

// With acquires weight units for the duration of body, releasing them on
// every exit path (body returning, panicking, or Invoke itself failing).
func (s *Semaphore) With(ctx context.Context, weight int, body func() error) error {
	return scoped.With[*Release](ctx, s.Lock(weight), func(*Release) error {
		return body()
	})
}

func (s *Semaphore) doLock(ctx context.Context, weight int) (*Release, error) {
	if weight < 1 {
		return nil, core.Wrap(errors.ErrRange, "weight")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.count++

	// Fast-fail: the caller's context is already done. count was
	// incremented above and must be decremented back out synchronously, as
	// if this were a release (spec §4.1 Cancellation).
	if err := ctx.Err(); err != nil {
		s.count--
		s.mu.Unlock()
		return nil, waitctx.Cause(ctx)
	}

	// Fast path: the queue is empty and there is room right now.
	if s.q.len() == 0 && s.currentWeight+weight <= s.limit {
		s.currentWeight += weight
		s.mu.Unlock()
		return &Release{sem: s, weight: weight}, nil
	}

	w := newWaiter(weight)
	s.q.push(w)
	s.admitLocked()
	s.mu.Unlock()

	select {
	case <-w.ready:
		return &Release{sem: s, weight: weight}, nil
	case <-ctx.Done():
		if w.cancel() {
			s.mu.Lock()
			s.count--
			s.admitLocked()
			s.mu.Unlock()
			return nil, waitctx.Cause(ctx)
		}
		// Lost the race: admission already happened in the same instant.
		// Cancellation after success is a no-op (spec §5); wait for the
		// admission signal that is already on its way.
		<-w.ready
		return &Release{sem: s, weight: weight}, nil
	}
}

// release returns weight to the pool and re-runs the admission loop. It is
// also the decrement path taken by a successful cancellation.
func (s *Semaphore) release(weight int) {
	s.mu.Lock()
	s.currentWeight -= weight
	s.count--
	s.admitLocked()
	s.mu.Unlock()
}

// admitLocked runs the admission loop described in spec §4.1: while the
// queue is non-empty and the task at its head fits, admit it; skip (and
// drop) any head task that was already aborted. A live head that does not
// fit stops the loop, even if tasks behind it would fit. Called on every
// release, every new enqueue, and every abort of a head task, so a fitting
// waiter is never left stranded behind an aborted head. Must be called
// with s.mu held.
func (s *Semaphore) admitLocked() {
	for {
		w := s.q.front()
		if w == nil {
			return
		}
		if w.isAborted() {
			s.q.popFront()
			continue
		}
		if s.currentWeight+w.weight > s.limit {
			return
		}

		s.q.popFront()
		if w.admit() {
			s.currentWeight += w.weight
		}
		// If admit() lost a last-instant race against cancellation, the
		// weight was never consumed; loop around and try the next waiter.
	}
}
