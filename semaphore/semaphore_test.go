package semaphore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatrixAI/go-async-locks/errors"
	"github.com/MatrixAI/go-async-locks/semaphore"
)

func TestNewRejectsNonPositiveLimit(t *testing.T) {
	_, err := semaphore.New(0)
	assert.ErrorIs(t, err, errors.ErrRange)

	_, err = semaphore.New(-1)
	assert.ErrorIs(t, err, errors.ErrRange)
}

func TestMustPanicsOnInvalidLimit(t *testing.T) {
	assert.Panics(t, func() { semaphore.Must(0) })
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	s := semaphore.Must(1)
	require.False(t, s.IsLocked())

	rel, err := s.Lock(1).Invoke(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsLocked())

	rel.Release()
	assert.False(t, s.IsLocked())

	// Idempotent.
	rel.Release()
	assert.False(t, s.IsLocked())
}

func TestWeightedAdmission(t *testing.T) {
	s := semaphore.Must(3)

	rel1, err := s.Lock(2).Invoke(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(2).Invoke(ctx)
	assert.ErrorIs(t, err, errors.ErrTimeout)

	rel1.Release()

	rel2, err := s.Lock(2).Invoke(context.Background())
	require.NoError(t, err)
	rel2.Release()
}

func TestFIFOAdmissionOrder(t *testing.T) {
	s := semaphore.Must(1)
	rel0, err := s.Lock(1).Invoke(context.Background())
	require.NoError(t, err)

	const n = 5
	order := make([]int, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	started := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			time.Sleep(time.Duration(i) * time.Millisecond)
			rel, err := s.Lock(1).Invoke(context.Background())
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel.Release()
		}(i)
	}

	for i := 0; i < n; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond) // let every goroutine reach the queue
	rel0.Release()
	wg.Wait()

	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "FIFO admission should preserve enqueue order")
	}
}

func TestPriorityAdmissionOrder(t *testing.T) {
	// limit=5: each weight fits on its own, but no two of them fit together,
	// so they are admitted one at a time.
	s, err := semaphore.New(5, semaphore.WithPriority())
	require.NoError(t, err)

	rel0, err := s.Lock(5).Invoke(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	weights := []int{5, 3, 4}
	for _, w := range weights {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rel, err := s.Lock(w).Invoke(context.Background())
			require.NoError(t, err)
			mu.Lock()
			order = append(order, w)
			mu.Unlock()
			rel.Release()
		}(w)
		time.Sleep(5 * time.Millisecond) // ensure enqueue order is deterministic
	}

	time.Sleep(10 * time.Millisecond)
	rel0.Release()
	wg.Wait()

	require.Equal(t, []int{3, 4, 5}, order, "priority mode admits smaller weights first")
}

func TestPriorityAdmitsFittingSuccessorBehindNonFittingHead(t *testing.T) {
	// limit=3, priority mode, holding weight 1. Enqueue weight-3 (which
	// does not fit) then weight-2 (which does, 1+2<=3): the weight-2
	// acquire must be admitted as soon as it enqueues, not stranded behind
	// the non-fitting head until some unrelated release.
	s, err := semaphore.New(3, semaphore.WithPriority())
	require.NoError(t, err)

	rel0, err := s.Lock(1).Invoke(context.Background())
	require.NoError(t, err)
	defer rel0.Release()

	heavyDone := make(chan struct{})
	go func() {
		defer close(heavyDone)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := s.Lock(3).Invoke(ctx)
		assert.ErrorIs(t, err, errors.ErrTimeout)
	}()

	time.Sleep(10 * time.Millisecond) // let the weight-3 acquire enqueue first

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	rel2, err := s.Lock(2).Invoke(ctx)
	require.NoError(t, err, "a fitting acquire enqueued behind a non-fitting head must not time out")
	rel2.Release()

	<-heavyDone
}

func TestAbortOfHeadUnblocksFittingSuccessor(t *testing.T) {
	// FIFO, limit=3. Holding weight 1; head weight-3 queued (doesn't fit,
	// will time out); successor weight-1 queued behind it (fits once the
	// head is gone). The head timing out must immediately admit the
	// successor rather than leaving it stranded until an unrelated release.
	s := semaphore.Must(3)

	rel0, err := s.Lock(1).Invoke(context.Background())
	require.NoError(t, err)
	defer rel0.Release()

	ctx1, cancel1 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel1()
	headDone := make(chan struct{})
	go func() {
		defer close(headDone)
		_, err := s.Lock(3).Invoke(ctx1)
		assert.ErrorIs(t, err, errors.ErrTimeout)
	}()

	time.Sleep(5 * time.Millisecond) // ensure the weight-3 acquire enqueues first

	successorDone := make(chan struct{})
	go func() {
		defer close(successorDone)
		rel, err := s.Lock(1).Invoke(context.Background())
		assert.NoError(t, err)
		if rel != nil {
			rel.Release()
		}
	}()

	<-headDone

	select {
	case <-successorDone:
	case <-time.After(time.Second):
		t.Fatal("successor was not admitted once the non-fitting head aborted")
	}
}

func TestCancellationDecrementsCount(t *testing.T) {
	s := semaphore.Must(1)
	rel, err := s.Lock(1).Invoke(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, s.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = s.Lock(1).Invoke(ctx)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.Equal(t, 1, s.Count())

	rel.Release()
	assert.Equal(t, 0, s.Count())
}

func TestAlreadyCancelledContextFailsFast(t *testing.T) {
	s := semaphore.Must(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Lock(1).Invoke(ctx)
	assert.ErrorIs(t, err, errors.ErrCancelled)
	assert.Equal(t, 0, s.Count())
}

func TestWaitForUnlockDoesNotAdmitPermanently(t *testing.T) {
	s := semaphore.Must(1)
	err := s.WaitForUnlock(1).Invoke(context.Background())
	require.NoError(t, err)
	assert.False(t, s.IsLocked())
}

func TestWith(t *testing.T) {
	s := semaphore.Must(1)
	var ran atomic.Bool

	err := s.With(context.Background(), 1, func() error {
		ran.Store(true)
		assert.True(t, s.IsLocked())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
	assert.False(t, s.IsLocked())
}
