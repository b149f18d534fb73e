package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MatrixAI/go-async-locks/errors"
)

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		errors.ErrNilReceiver,
		errors.ErrNotInitialised,
		errors.ErrClosed,
		errors.ErrNilContext,
		errors.ErrRange,
		errors.ErrTimeout,
		errors.ErrCancelled,
		errors.ErrLockBoxConflict,
		errors.ErrLockTypeMismatch,
		errors.ErrDeadlock,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.NotErrorIs(t, a, b, "sentinel %d should not match sentinel %d", i, j)
		}
	}
}

func TestNewAndIs(t *testing.T) {
	err := errors.New("boom")
	assert.EqualError(t, err, "boom")
	assert.True(t, errors.Is(err, err))
	assert.False(t, errors.Is(err, errors.ErrTimeout))
}

func TestIsDelegatesToStdlib(t *testing.T) {
	wrapped := stderrors.Join(errors.ErrTimeout, stderrors.New("extra context"))
	assert.True(t, errors.Is(wrapped, errors.ErrTimeout))
}

type customError struct{ msg string }

func (e *customError) Error() string { return e.msg }

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("wrapping: %w", &customError{msg: "inner"})

	var target *customError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "inner", target.msg)
}
