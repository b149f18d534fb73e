// Package scoped implements the withF-equivalent scoped-resource helper
// spec §6 treats as an external collaborator, specifying only the
// interface it expects: invoke an acquire, run a body with the resulting
// resource, and release on every exit path including panic.
//
// Go has no generator/iterator primitive directly comparable to the
// withG half of that interface (a lazily-stepped consumer that releases
// on early termination); a Go caller wanting that shape already has it via
// a goroutine reading off a channel wrapped in With, so withG is not
// reproduced here.
package scoped

import "context"

// Releaser is the minimal release surface every lockable in this module
// exposes.
type Releaser interface {
	Release()
}

// Acquire is the two-stage acquire value (spec §9) every lockable's Lock
// method returns: constructing it does no work, Invoke does.
type Acquire[R Releaser] interface {
	Invoke(ctx context.Context) (R, error)
}

// With invokes acquire, runs body with the resulting resource, and
// releases it on every exit path: body returning an error, body
// panicking, or body succeeding. If Invoke itself fails, body never runs
// and the Invoke error is returned.
func With[R Releaser](ctx context.Context, acquire Acquire[R], body func(R) error) error {
	r, err := acquire.Invoke(ctx)
	if err != nil {
		return err
	}
	defer r.Release()
	return body(r)
}

// WithMulti invokes every acquire in order, passes the resulting resources
// to body, then releases them in reverse on every exit path. If any
// Invoke fails partway through, every resource already acquired is
// released in reverse before the error is returned.
func WithMulti[R Releaser](ctx context.Context, acquires []Acquire[R], body func([]R) error) error {
	resources := make([]R, 0, len(acquires))
	defer func() {
		for i := len(resources) - 1; i >= 0; i-- {
			resources[i].Release()
		}
	}()

	for _, a := range acquires {
		r, err := a.Invoke(ctx)
		if err != nil {
			return err
		}
		resources = append(resources, r)
	}
	return body(resources)
}
