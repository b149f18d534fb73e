// Package waitctx implements the library's timed-cancel context: a uniform
// deadline-plus-external-signal abstraction shared by every blocking
// acquire/wait in this module.
//
// Unlike the source material, Go already has a deadline-plus-cancellation-
// plus-reason abstraction in the standard library: context.Context. This
// package does not reinvent one; it provides the small amount of glue
// needed to compose an optional timer and an optional external abort
// channel into a single context.Context, and to translate the eventual
// ctx.Err() into the library's Timeout/Cancellation error kinds.
package waitctx

import (
	"context"
	"fmt"
	"time"

	"github.com/MatrixAI/go-async-locks/errors"
)

// WithTimeout derives a context bound by d, mirroring the "timer" half of
// the spec's Context{timer, signal} pair. A non-positive d leaves ctx
// untouched (an unbounded timer, per spec default of infinity).
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// WithSignal derives a context that is also cancelled when done fires,
// mirroring the "signal" half of the spec's Context{timer, signal} pair.
// cause, if non-nil, supplies the rejection reason surfaced through
// context.Cause; otherwise context.Canceled is used. A nil done leaves ctx
// untouched.
func WithSignal(ctx context.Context, done <-chan struct{}, cause func() error) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if done == nil {
		return ctx, func() {}
	}

	derived, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-done:
			err := context.Canceled
			if cause != nil {
				if e := cause(); e != nil {
					err = e
				}
			}
			cancel(err)
		case <-derived.Done():
			// parent or timer fired first; nothing further to do.
		}
	}()
	return derived, func() { cancel(nil) }
}

// Cause classifies a context's terminal error into the library's Timeout or
// Cancellation error kinds, wrapping the real underlying error so callers
// can still unwrap down to context.DeadlineExceeded/context.Canceled or a
// custom signal reason. It returns nil if ctx hasn't fired.
func Cause(ctx context.Context) error {
	if ctx == nil || ctx.Err() == nil {
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded { //nolint:errorlint // sentinel from stdlib, exact match intended
		return fmt.Errorf("%w: %w", errors.ErrTimeout, ctx.Err())
	}

	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("%w: %w", errors.ErrCancelled, cause)
}
