package lockbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatrixAI/go-async-locks/lock"
	"github.com/MatrixAI/go-async-locks/lockbox"
)

// lockAdapter bridges lock.Lock's typed *lock.Release return into the
// lockbox.Locker interface, which lock.Lock does not implement directly
// since Go requires an exact method signature match, not merely a
// Release()-shaped return type.
type lockAdapter struct{ l *lock.Lock }

func (a lockAdapter) LockCtx(ctx context.Context) (lockbox.Release, error) { return a.l.LockCtx(ctx) }
func (a lockAdapter) IsLocked() bool                                      { return a.l.IsLocked() }
func (a lockAdapter) Count() int                                          { return a.l.Count() }

func newLockReq(key string) lockbox.Request {
	return lockbox.Request{Key: key, New: func() lockbox.Locker { return lockAdapter{l: lock.New()} }}
}

func TestLockCreatesAndCleansUpEntries(t *testing.T) {
	b := lockbox.New()
	assert.False(t, b.IsLocked(nil))

	rel, err := b.Lock(context.Background(), newLockReq("a"))
	require.NoError(t, err)
	assert.True(t, b.IsLocked(nil))

	rel.Release()
	assert.False(t, b.IsLocked(nil))
	assert.Equal(t, 0, b.Count())
}

func TestLockSortsAndDedupesKeys(t *testing.T) {
	b := lockbox.New()
	rel, err := b.Lock(context.Background(), newLockReq("b"), newLockReq("a"), newLockReq("a"))
	require.NoError(t, err)

	key := "a"
	assert.True(t, b.IsLocked(&key))
	key = "b"
	assert.True(t, b.IsLocked(&key))

	rel.Release()
}

func TestLockConflictingTypeErrors(t *testing.T) {
	b := lockbox.New()
	rel, err := b.Lock(context.Background(), newLockReq("a"))
	require.NoError(t, err)
	defer rel.Release()

	_, err = b.Lock(context.Background(), lockbox.Request{
		Key: "a",
		New: func() lockbox.Locker { return &fakeOtherLocker{} },
	})
	assert.Error(t, err)
}

type fakeOtherLocker struct{}

func (*fakeOtherLocker) LockCtx(context.Context) (lockbox.Release, error) { return noopRelease{}, nil }
func (*fakeOtherLocker) IsLocked() bool                                  { return false }
func (*fakeOtherLocker) Count() int                                      { return 0 }

type noopRelease struct{}

func (noopRelease) Release() {}

func TestLockUnwindsOnPartialFailure(t *testing.T) {
	b := lockbox.New()

	// Pre-hold "b" so the multi-key Lock below blocks on it and times out,
	// forcing an unwind of the already-acquired "a".
	heldB, err := b.Lock(context.Background(), newLockReq("b"))
	require.NoError(t, err)
	defer heldB.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = b.Lock(ctx, newLockReq("a"), newLockReq("b"))
	assert.Error(t, err)

	keyA := "a"
	assert.False(t, b.IsLocked(&keyA), "the partially acquired key must be unwound")
}

func TestLockMultiIndependentRelease(t *testing.T) {
	b := lockbox.New()
	acqs, err := b.LockMulti(newLockReq("a"), newLockReq("b"))
	require.NoError(t, err)
	require.Len(t, acqs, 2)

	var rels []lockbox.Release
	for _, a := range acqs {
		rel, err := a.Invoke(context.Background())
		require.NoError(t, err)
		rels = append(rels, rel)
	}
	assert.Equal(t, 2, b.Count())

	for _, rel := range rels {
		rel.Release()
	}
	assert.Equal(t, 0, b.Count())
}

func TestConcurrentOverlappingMultiAcquireDoesNotDeadlock(t *testing.T) {
	// Both callers request {a, b} — canonical sorted order prevents the
	// classic inverse-order deadlock.
	b := lockbox.New()
	var wg sync.WaitGroup
	const rounds = 20

	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rel, err := b.Lock(context.Background(), newLockReq("a"), newLockReq("b"))
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
			rel.Release()
		}()
		go func() {
			defer wg.Done()
			rel, err := b.Lock(context.Background(), newLockReq("b"), newLockReq("a"))
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
			rel.Release()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("overlapping multi-key acquires deadlocked")
	}
}

func TestLockboxWith(t *testing.T) {
	b := lockbox.New()
	entered := false

	err := b.With(context.Background(), []lockbox.Request{newLockReq("a")}, func() error {
		entered = true
		assert.True(t, b.IsLocked(nil))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, entered)
	assert.False(t, b.IsLocked(nil))
}
