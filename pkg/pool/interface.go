// Package pool provide a generic bounded resource pool (connections,
// RPC clients, ...) with blocking acquire and idle-entry reaping.
package pool

import (
	"context"
	"errors"
	"io"
)

// Poolable is anything a Pool can hold. A Poolable must be safe to Close
// when the pool reclaims or discards it.
type Poolable interface {
	io.Closer
}

// Factory creates a new resource on demand. It is called outside of any
// pool-internal lock, so it may block (dial a remote endpoint, etc).
type Factory[T Poolable] func(ctx context.Context) (T, error)

// Pool is a bounded collection of at most max live resources.
//
// Acquire blocks when all resources are borrowed, until one is released
// or ctx is done. Entries idle longer than the GC threshold are closed
// by the pool and their capacity becomes creatable again. No ordering is
// guaranteed among concurrent Acquires.
type Pool[T Poolable] interface {
	Acquire(ctx context.Context) (T, error) // Acquire a T, creating one lazily while under the limit
	Release(T)                              // Release a previously Acquired T back
	Size() int                              // Size is the number of currently open resources (idle + borrowed)
	Close() error                           // Close the pool: refuse further Acquires, close idle resources
}

// errors
var (
	ErrPoolClosed    = errors.New("the pool is closed")
	ErrPoolExhausted = errors.New("the pool has been exhausted")
)
