// Package blockstore is the coordination layer a storage client goes
// through to reach masters and workers: per-master contexts owning a
// master-client pool, worker-client handles backed by the shared
// address-keyed registry, and local-worker discovery.
//
// NOTE: Context methods are deliberately not serialized on the Context
// itself. The pools underneath are already thread-safe, and holding a
// context-wide lock across a blocking pool acquire would deadlock:
// goroutine A blocks acquiring a client while holding the lock, and
// goroutine B cannot release the client A is waiting for.
package blockstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"blockclient/config"
	"blockclient/pkg/pool"
	"blockclient/pkg/resource"
	"blockclient/registry"
	"blockclient/rpc"
	"blockclient/wire"

	"github.com/cdfmlr/ellipsis"
	"golang.org/x/exp/slog"
)

// errors
var (
	// ErrNoWorkerAddress reports a worker operation called without a
	// worker address.
	ErrNoWorkerAddress = errors.New("no worker address given")

	// ErrWorkerQuery reports that the worker-discovery RPC on the
	// master failed. Not retried here; retry policy belongs to the RPC
	// client.
	ErrWorkerQuery = errors.New("worker query failed")
)

// MasterClientFactory creates master clients for a context's pool.
type MasterClientFactory func(ctx context.Context, addr wire.Address) (rpc.MasterClient, error)

// DialMasterClient is the default MasterClientFactory: a gRPC client
// to the real master.
var DialMasterClient MasterClientFactory = rpc.DialMaster

// Context coordinates all communication with one master and the
// workers it knows about. There is exactly one Context per master
// address (see Cache); it owns a private master-client pool and lives
// for the process lifetime.
type Context struct {
	master wire.Address
	cfg    *config.Config
	reg    *registry.Registry

	masterClients pool.Pool[rpc.MasterClient]

	// localWorker is the memoized result of the first successful
	// local-worker discovery. nil = not known yet. localWorkerMu
	// serializes the query-and-memoize sequence only; it is never held
	// by any other operation.
	localWorkerMu sync.Mutex
	localWorker   *bool
}

func newContext(cfg *config.Config, reg *registry.Registry, master wire.Address, factory MasterClientFactory) *Context {
	pc := cfg.Pools.MasterClient
	return &Context{
		master: master,
		cfg:    cfg,
		reg:    reg,
		masterClients: pool.New(pc.Max, pc.GCThreshold(), func(ctx context.Context) (rpc.MasterClient, error) {
			return factory(ctx, master)
		}),
	}
}

// Master returns the master address this context was created for.
func (c *Context) Master() wire.Address {
	return c.master
}

// AcquireMasterClient borrows a master client from the context's pool.
// The returned Closeable must be closed to give the client back:
//
//	mc, err := c.AcquireMasterClient(ctx)
//	if err != nil { ... }
//	defer mc.Close()
//	workers, err := mc.Get().ListWorkers(ctx)
func (c *Context) AcquireMasterClient(ctx context.Context) (*resource.Closeable[rpc.MasterClient], error) {
	if t := c.cfg.Pools.MasterClient.AcquireTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	mc, err := c.masterClients.Acquire(ctx)
	if err != nil {
		slog.Error("[blockstore] failed to acquire master client.", "master", c.master, "err", err)
		return nil, fmt.Errorf("%w: master %s: %v", registry.ErrConnectionUnavailable, c.master, err)
	}
	return resource.NewCloseable(mc, func(mc rpc.MasterClient) {
		c.masterClients.Release(mc)
	}), nil
}

// AcquireWorkerClient builds a fresh handle for the worker at addr.
// The handle's transport/RPC resources come from the process-wide
// registry, not from this context; the handle itself is never cached,
// so every acquisition returns a new one. The caller must release it
// with ReleaseWorkerClient (or Close).
func (c *Context) AcquireWorkerClient(ctx context.Context, addr wire.Address) (*rpc.WorkerClient, error) {
	if addr.IsZero() {
		return nil, ErrNoWorkerAddress
	}
	sc, err := c.reg.AcquireWorkerClient(ctx, addr)
	if err != nil {
		return nil, err
	}
	return rpc.NewWorkerClient(addr, sc, func(sc *rpc.WorkerServiceClient) {
		c.reg.ReleaseWorkerClient(addr, sc)
	}), nil
}

// ReleaseWorkerClient closes the handle, returning its pooled
// resources to the registry. The handle must not be used afterwards.
func (c *Context) ReleaseWorkerClient(wc *rpc.WorkerClient) {
	wc.Close()
}

// WorkerAddresses asks the master for the workers whose hostname is
// exactly hostname; an empty hostname returns all of them. The master
// client is always given back, RPC failure included.
func (c *Context) WorkerAddresses(ctx context.Context, hostname string) ([]wire.WorkerInfo, error) {
	mc, err := c.AcquireMasterClient(ctx)
	if err != nil {
		return nil, err
	}
	defer mc.Close()

	workers, err := mc.Get().ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerQuery, err)
	}

	var matched []wire.WorkerInfo
	for _, w := range workers {
		if hostname == "" || w.Hostname == hostname {
			matched = append(matched, w)
		}
	}
	slog.Debug("[blockstore] queried worker addresses.",
		"hostname", hostname,
		"matched", len(matched),
		"workers", ellipsis.Centering(fmt.Sprint(matched), 80))
	return matched, nil
}

// HasLocalWorker reports whether a worker runs on this machine. The
// answer is computed from the master's worker list on the first call
// and memoized; concurrent first callers wait for that one computation
// instead of issuing duplicate queries. A failed query is not memoized.
func (c *Context) HasLocalWorker(ctx context.Context) (bool, error) {
	c.localWorkerMu.Lock()
	defer c.localWorkerMu.Unlock()

	if c.localWorker != nil {
		return *c.localWorker, nil
	}

	hostname := c.cfg.Hostname
	if hostname == "" {
		var err error
		if hostname, err = os.Hostname(); err != nil {
			return false, fmt.Errorf("get local hostname: %w", err)
		}
	}

	workers, err := c.WorkerAddresses(ctx, hostname)
	if err != nil {
		return false, err
	}
	has := len(workers) > 0
	c.localWorker = &has
	return has, nil
}
