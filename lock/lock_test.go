package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatrixAI/go-async-locks/errors"
	"github.com/MatrixAI/go-async-locks/lock"
)

func TestLockMutualExclusion(t *testing.T) {
	l := lock.New()
	require.False(t, l.IsLocked())

	rel, err := l.LockCtx(context.Background())
	require.NoError(t, err)
	assert.True(t, l.IsLocked())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.LockCtx(ctx)
	assert.ErrorIs(t, err, errors.ErrTimeout)

	rel.Release()
	assert.False(t, l.IsLocked())

	rel2, err := l.LockCtx(context.Background())
	require.NoError(t, err)
	rel2.Release()
}

func TestLockWaitForUnlock(t *testing.T) {
	l := lock.New()
	rel, err := l.LockCtx(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := l.WaitForUnlock().Invoke(context.Background())
		assert.NoError(t, err)
	}()

	time.Sleep(10 * time.Millisecond)
	rel.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForUnlock never resolved after release")
	}
	assert.False(t, l.IsLocked())
}

func TestLockWith(t *testing.T) {
	l := lock.New()
	entered := false

	err := l.With(context.Background(), func() error {
		entered = true
		assert.True(t, l.IsLocked())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, entered)
	assert.False(t, l.IsLocked())
}
