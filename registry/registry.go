// Package registry owns the process-wide mapping from a remote address
// to its resource pools. Two independent kinds are kept: raw transport
// channels and worker RPC clients. All contexts share one Registry; it
// is built once at startup and passed by reference (no package-level
// state, so tests can run against fresh registries).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"blockclient/config"
	"blockclient/pkg/pool"
	"blockclient/rpc"
	"blockclient/wire"

	"golang.org/x/exp/slog"
	"google.golang.org/grpc"
)

// ErrConnectionUnavailable reports that a pooled connection or client
// could not be produced: the endpoint is unreachable or the pool's
// bounded wait ran out. Callers may retry at a higher layer.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// DialFunc creates a raw transport channel to an address.
type DialFunc func(ctx context.Context, addr wire.Address) (*grpc.ClientConn, error)

// WorkerDialFunc creates a worker RPC client for an address.
type WorkerDialFunc func(ctx context.Context, addr wire.Address) (*rpc.WorkerServiceClient, error)

// Registry maps remote addresses to their channel pool and worker
// RPC-client pool. Entries live for the process lifetime; idle-entry
// reaping happens inside each pool, never at the registry.
type Registry struct {
	cfg *config.Config

	channels sync.Map // wire.Address -> pool.Pool[*grpc.ClientConn]
	clients  sync.Map // wire.Address -> pool.Pool[*rpc.WorkerServiceClient]

	dialWorker WorkerDialFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithWorkerDial overrides how worker RPC clients are created.
func WithWorkerDial(dial WorkerDialFunc) Option {
	return func(r *Registry) {
		r.dialWorker = dial
	}
}

// New creates an empty Registry.
func New(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:        cfg,
		dialWorker: rpc.DialWorkerService,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AcquireChannel borrows a transport channel to addr, creating the
// per-address pool on first use. dial is only consulted when the pool
// has to grow.
func (r *Registry) AcquireChannel(ctx context.Context, addr wire.Address, dial DialFunc) (*grpc.ClientConn, error) {
	p := getOrCreate(&r.channels, addr, func() pool.Pool[*grpc.ClientConn] {
		c := r.cfg.Pools.Channel
		return pool.New(c.Max, c.GCThreshold(), func(ctx context.Context) (*grpc.ClientConn, error) {
			return dial(ctx, addr)
		})
	})

	conn, err := acquire(ctx, p, r.cfg.Pools.Channel.AcquireTimeout())
	if err != nil {
		slog.Error("[registry] failed to acquire channel.", "addr", addr, "err", err)
		return nil, fmt.Errorf("%w: channel to %s: %v", ErrConnectionUnavailable, addr, err)
	}
	return conn, nil
}

// ReleaseChannel returns a channel borrowed with AcquireChannel.
// Releasing against an address that never had a pool is a bug in the
// caller.
func (r *Registry) ReleaseChannel(addr wire.Address, conn *grpc.ClientConn) {
	p, ok := r.channels.Load(addr)
	if !ok {
		panic(fmt.Sprintf("registry: release of channel for unknown address %s", addr))
	}
	p.(pool.Pool[*grpc.ClientConn]).Release(conn)
}

// AcquireWorkerClient borrows a worker RPC client for addr, creating
// the per-address pool on first use.
func (r *Registry) AcquireWorkerClient(ctx context.Context, addr wire.Address) (*rpc.WorkerServiceClient, error) {
	p := getOrCreate(&r.clients, addr, func() pool.Pool[*rpc.WorkerServiceClient] {
		c := r.cfg.Pools.WorkerClient
		return pool.New(c.Max, c.GCThreshold(), func(ctx context.Context) (*rpc.WorkerServiceClient, error) {
			return r.dialWorker(ctx, addr)
		})
	})

	c, err := acquire(ctx, p, r.cfg.Pools.WorkerClient.AcquireTimeout())
	if err != nil {
		slog.Error("[registry] failed to acquire worker client.", "addr", addr, "err", err)
		return nil, fmt.Errorf("%w: worker client to %s: %v", ErrConnectionUnavailable, addr, err)
	}
	return c, nil
}

// ReleaseWorkerClient returns a client borrowed with
// AcquireWorkerClient.
func (r *Registry) ReleaseWorkerClient(addr wire.Address, c *rpc.WorkerServiceClient) {
	p, ok := r.clients.Load(addr)
	if !ok {
		panic(fmt.Sprintf("registry: release of worker client for unknown address %s", addr))
	}
	p.(pool.Pool[*rpc.WorkerServiceClient]).Release(c)
}

// OpenChannels is the pull-model gauge source: the sum of every channel
// pool's current size, recomputed on each call.
func (r *Registry) OpenChannels() int64 {
	var total int64
	r.channels.Range(func(_, v any) bool {
		total += int64(v.(pool.Pool[*grpc.ClientConn]).Size())
		return true
	})
	return total
}

// Stats describes the registry's current shape. Debug surface only.
type Stats struct {
	ChannelPools      int
	WorkerClientPools int
	OpenChannels      int64
}

// Stat counts the registered pools.
func (r *Registry) Stat() Stats {
	var s Stats
	r.channels.Range(func(_, v any) bool {
		s.ChannelPools++
		s.OpenChannels += int64(v.(pool.Pool[*grpc.ClientConn]).Size())
		return true
	})
	r.clients.Range(func(_, _ any) bool {
		s.WorkerClientPools++
		return true
	})
	return s
}

// getOrCreate resolves the pool for addr, building a candidate outside
// the map's critical section on a miss. If another goroutine won the
// insert race, the candidate is closed before it ever serves a request,
// so a losing pool never holds open connections. The map insert itself
// is the only atomic step; pool construction never blocks anyone.
func getOrCreate[T pool.Poolable](m *sync.Map, addr wire.Address, build func() pool.Pool[T]) pool.Pool[T] {
	if p, ok := m.Load(addr); ok {
		return p.(pool.Pool[T])
	}
	candidate := build()
	actual, loaded := m.LoadOrStore(addr, candidate)
	if loaded {
		candidate.Close()
	}
	return actual.(pool.Pool[T])
}

// acquire borrows from p under the configured bounded wait, so an
// exhausted pool fails instead of blocking forever.
func acquire[T pool.Poolable](ctx context.Context, p pool.Pool[T], timeout time.Duration) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Acquire(ctx)
}
