// Package pool provide a generic bounded resource pool (connections,
// RPC clients, ...) with blocking acquire and idle-entry reaping.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// entry is an idle resource plus the time it was last returned,
// so the reaper can tell how long it has been sitting unused.
type entry[T Poolable] struct {
	value    T
	lastUsed time.Time
}

// pool is a channel-based Pool implementation.
//
// Two channels do all the bookkeeping: idle holds returned resources,
// tokens holds the remaining creation slots. A resource exists iff a
// token has been taken, so idle + borrowed never exceeds max, and a
// blocked Acquire is a plain select on both channels (no lock is ever
// held while waiting, which is what keeps release-side callers from
// deadlocking against acquire-side waiters).
type pool[T Poolable] struct {
	idle   chan entry[T]
	tokens chan struct{}
	create Factory[T]

	gcThreshold time.Duration

	open      atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Pool holding at most max resources, created lazily by
// create. If gcThreshold > 0, a reaper closes entries that stay idle
// longer than the threshold.
func New[T Poolable](max int, gcThreshold time.Duration, create Factory[T]) Pool[T] {
	if max <= 0 {
		max = 1
	}
	p := &pool[T]{
		idle:        make(chan entry[T], max),
		tokens:      make(chan struct{}, max),
		create:      create,
		gcThreshold: gcThreshold,
		done:        make(chan struct{}),
	}
	for i := 0; i < max; i++ {
		p.tokens <- struct{}{}
	}
	if gcThreshold > 0 {
		go p.reap()
	}
	return p
}

func (p *pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	if p.closed() {
		return zero, ErrPoolClosed
	}

	// fast path: an idle resource is ready
	select {
	case e := <-p.idle:
		return e.value, nil
	default:
	}

	select {
	case e := <-p.idle:
		return e.value, nil
	case <-p.tokens:
		v, err := p.create(ctx)
		if err != nil {
			p.tokens <- struct{}{}
			return zero, err
		}
		p.open.Add(1)
		return v, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", ErrPoolExhausted, ctx.Err())
	case <-p.done:
		return zero, ErrPoolClosed
	}
}

func (p *pool[T]) Release(v T) {
	if p.closed() {
		p.discard(v)
		return
	}
	select {
	case p.idle <- entry[T]{value: v, lastUsed: time.Now()}:
	default:
		// idle is full: v cannot have come from this pool. Don't let it
		// leak, but don't corrupt the slot accounting either.
		v.Close()
	}
}

func (p *pool[T]) Size() int {
	return int(p.open.Load())
}

func (p *pool[T]) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		for {
			select {
			case e := <-p.idle:
				p.discard(e.value)
			default:
				return
			}
		}
	})
	return nil
}

// reap periodically closes idle entries that have not been used for
// gcThreshold, handing their slots back to tokens.
func (p *pool[T]) reap() {
	ticker := time.NewTicker(p.gcThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *pool[T]) reapIdle() {
	// Look at each currently idle entry once; fresh ones go back in
	// (order is not preserved, which is fine: acquires are unordered).
	for n := len(p.idle); n > 0; n-- {
		select {
		case e := <-p.idle:
			if time.Since(e.lastUsed) >= p.gcThreshold {
				p.discard(e.value)
			} else {
				p.idle <- e
			}
		default:
			return
		}
	}
}

// discard closes a resource and gives its creation slot back.
func (p *pool[T]) discard(v T) {
	v.Close()
	p.open.Add(-1)
	select {
	case p.tokens <- struct{}{}:
	default:
	}
}

func (p *pool[T]) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
