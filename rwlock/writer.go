package rwlock

import (
	"context"
	"sync"

	"github.com/MatrixAI/go-async-locks/lock"
)

// Writer is the write-preferring reader-writer lock of spec §4.3.2: any
// queued or admitted writer blocks new readers, trading reader throughput
// for writer freedom from starvation.
//
// Built from the same two inner locks as Reader, sequenced differently: new
// readers consult writerCount and wait on writersLock before proceeding, and
// a writer takes writersLock before readersLock, so it blocks new readers as
// soon as it starts waiting.
type Writer struct {
	readersLock *lock.Lock
	writersLock *lock.Lock

	mu                 sync.Mutex
	readerCount        int
	readerCountBlocked int
	writerCount        int
	cohortRelease      *lock.Release
	cohortReady        chan struct{}
}

// NewWriter constructs an unlocked write-preferring reader-writer lock.
func NewWriter() *Writer {
	return &Writer{readersLock: lock.New(), writersLock: lock.New()}
}

// Lock dispatches to Read or Write (Write is the default, spec §4.3).
func (w *Writer) Lock(ctx context.Context, t Type) (Release, error) {
	if t == Read {
		return w.Read(ctx)
	}
	return w.Write(ctx)
}

// Read acquires the lock for shared access, blocking first if a writer is
// queued or admitted.
func (w *Writer) Read(ctx context.Context) (Release, error) {
	w.mu.Lock()
	mustWait := w.writerCount > 0
	if mustWait {
		w.readerCountBlocked++
	}
	w.mu.Unlock()

	if mustWait {
		err := w.writersLock.WaitForUnlock().Invoke(ctx)
		w.mu.Lock()
		w.readerCountBlocked--
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	w.readerCount++
	first := w.readerCount == 1

	var ready chan struct{}
	if first {
		ready = make(chan struct{})
		w.cohortReady = ready
	} else {
		ready = w.cohortReady
	}
	w.mu.Unlock()

	if first {
		return w.readFirst(ctx, ready)
	}

	// Ordering correctness is what matters here, not the first reader's own
	// outcome: its error is swallowed (spec §4.3.2), matching the same
	// decision documented for Reader in SPEC_FULL.md.
	<-ready
	return &readerRelease2{w: w}, nil
}

func (w *Writer) readFirst(ctx context.Context, ready chan struct{}) (Release, error) {
	rrel, rerr := w.readersLock.LockCtx(ctx)

	w.mu.Lock()
	if rerr == nil {
		w.cohortRelease = rrel
	}
	close(ready)
	w.mu.Unlock()

	if rerr != nil {
		w.mu.Lock()
		w.readerCount--
		w.mu.Unlock()
		return nil, rerr
	}
	return &readerRelease2{w: w}, nil
}

type readerRelease2 struct {
	once sync.Once
	w    *Writer
}

func (rel *readerRelease2) Release() {
	rel.once.Do(func() {
		rel.w.mu.Lock()
		rel.w.readerCount--
		var toRelease *lock.Release
		if rel.w.readerCount == 0 {
			toRelease = rel.w.cohortRelease
			rel.w.cohortRelease = nil
			rel.w.cohortReady = nil
		}
		rel.w.mu.Unlock()

		if toRelease != nil {
			toRelease.Release()
		}
	})
}

// Write acquires the lock for exclusive access. It takes writersLock first
// (blocking new readers immediately) and then readersLock (blocking until
// any admitted reader cohort has drained).
func (w *Writer) Write(ctx context.Context) (Release, error) {
	w.mu.Lock()
	w.writerCount++
	w.mu.Unlock()

	wrel, err := w.writersLock.LockCtx(ctx)
	if err != nil {
		w.mu.Lock()
		w.writerCount--
		w.mu.Unlock()
		return nil, err
	}

	rrel, err := w.readersLock.LockCtx(ctx)
	if err != nil {
		wrel.Release()
		w.mu.Lock()
		w.writerCount--
		w.mu.Unlock()
		return nil, err
	}

	return &writerRelease2{w: w, wrel: wrel, rrel: rrel}, nil
}

type writerRelease2 struct {
	once sync.Once
	w    *Writer
	wrel *lock.Release
	rrel *lock.Release
}

func (rel *writerRelease2) Release() {
	rel.once.Do(func() {
		rel.rrel.Release()
		rel.wrel.Release()
		rel.w.mu.Lock()
		rel.w.writerCount--
		rel.w.mu.Unlock()
	})
}

// ConflictsWith reports whether acquiring t right now would block.
func (w *Writer) ConflictsWith(t Type) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch t {
	case Read:
		return w.writerCount > 0
	case Write:
		return w.writerCount > 0 || w.readerCount > 0
	default:
		return false
	}
}

// IsLocked reports whether the lock is held for the given type. With
// t==Write, it reports whether writersLock is held. With t==Read, it
// reports whether readersLock is held while no writer is admitted or
// queued. Any other value of t reports whether either inner lock is held.
// t cannot be omitted: Write is the zero value of Type.
func (w *Writer) IsLocked(t Type) bool {
	switch t {
	case Write:
		return w.writersLock.IsLocked()
	case Read:
		return w.noWriters() && w.readersLock.IsLocked()
	default:
		return w.readersLock.IsLocked() || w.writersLock.IsLocked()
	}
}

func (w *Writer) noWriters() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writerCount == 0
}

// WaitForUnlock blocks until both inner locks report no activity, or ctx is
// done.
func (w *Writer) WaitForUnlock(ctx context.Context) error {
	if err := w.writersLock.WaitForUnlock().Invoke(ctx); err != nil {
		return err
	}
	return w.readersLock.WaitForUnlock().Invoke(ctx)
}

// ReaderCount reports the number of readers currently admitted or queued.
func (w *Writer) ReaderCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readerCount + w.readerCountBlocked
}

// WriterCount reports the number of writers currently admitted or queued.
func (w *Writer) WriterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writerCount
}

// Count reports the sum of the holder-and-waiter counts of the two inner
// locks. It is not the number of readers plus writers: an admitted reader
// cohort counts once, through readersLock, and an admitted writer counts
// twice, once on each inner lock.
func (w *Writer) Count() int {
	return w.readersLock.Count() + w.writersLock.Count()
}

var _ Lockable = (*Writer)(nil)
