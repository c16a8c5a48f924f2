// Package resource provides Closeable, a borrow handle that binds an
// acquired value to a release action and guarantees the action runs
// exactly once.
package resource

import (
	"sync/atomic"
)

// Closeable wraps a value borrowed from somewhere (typically a pool)
// together with the action that gives it back.
//
// Intended use:
//
//	c, err := ctx.AcquireMasterClient(ctx)
//	if err != nil { ... }
//	defer c.Close()
//	c.Get().DoSomething()
//
// Close is idempotent: the release action runs on the first Close only,
// so a resource can never be returned to its pool twice. Get after
// Close panics: use-after-release is a bug in the caller, not a
// recoverable condition.
type Closeable[T any] struct {
	value   T
	release func(T)
	closed  atomic.Bool
}

// NewCloseable binds value to its release action.
func NewCloseable[T any](value T, release func(T)) *Closeable[T] {
	return &Closeable[T]{value: value, release: release}
}

// Get returns the borrowed value. The value must not be retained past
// Close.
func (c *Closeable[T]) Get() T {
	if c.closed.Load() {
		panic("resource: Get on a closed Closeable")
	}
	return c.value
}

// Close runs the release action. Only the first Close does anything.
func (c *Closeable[T]) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.release(c.value)
	}
	return nil
}
