// ## Worker clients: rpc/worker.go
//
// There are two kinds of worker-side clients:
//
//  1. WorkerServiceClient: the pooled control-RPC client for one worker
//     address. Long-lived, owned by the registry's per-address pool.
//  2. WorkerClient: a cheap per-call handle wrapping a
//     WorkerServiceClient borrowed from that pool. Built fresh for every
//     acquisition, never cached; Close gives the service client back.
package rpc

import (
	"context"
	"math/rand"
	"sync/atomic"

	"blockclient/wire"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// WorkerServiceClient is a control-RPC client connected to one worker.
type WorkerServiceClient struct {
	addr wire.Address
	conn *grpc.ClientConn
}

// NewWorkerServiceClient wraps an existing connection. Mostly useful
// for tests; production code dials with DialWorkerService.
func NewWorkerServiceClient(addr wire.Address, conn *grpc.ClientConn) *WorkerServiceClient {
	return &WorkerServiceClient{addr: addr, conn: conn}
}

// DialWorkerService connects a WorkerServiceClient to the given worker
// address.
func DialWorkerService(ctx context.Context, addr wire.Address) (*WorkerServiceClient, error) {
	conn, err := grpc.DialContext(ctx, addr.String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, err
	}
	return &WorkerServiceClient{addr: addr, conn: conn}, nil
}

// Addr returns the worker endpoint this client is connected to.
func (c *WorkerServiceClient) Addr() wire.Address {
	return c.addr
}

// Invoke issues a unary control RPC on the worker service. The method
// set is owned by the worker; callers pass fully-qualified method names.
func (c *WorkerServiceClient) Invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, method, req, resp)
}

func (c *WorkerServiceClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// WorkerClient is the per-call worker handle. Each handle carries a
// fresh random session id; the id namespace is per process, which is
// all the workers need to tell concurrent callers apart.
type WorkerClient struct {
	id      int64
	addr    wire.Address
	client  *WorkerServiceClient
	release func(*WorkerServiceClient)
	closed  atomic.Bool
}

// NewWorkerClient builds a handle around a borrowed service client.
// release is called exactly once, on the first Close.
func NewWorkerClient(addr wire.Address, client *WorkerServiceClient, release func(*WorkerServiceClient)) *WorkerClient {
	return &WorkerClient{
		id:      rand.Int63(),
		addr:    addr,
		client:  client,
		release: release,
	}
}

// ID returns the handle's session id.
func (c *WorkerClient) ID() int64 {
	return c.id
}

// Addr returns the worker endpoint this handle talks to.
func (c *WorkerClient) Addr() wire.Address {
	return c.addr
}

// Service returns the underlying borrowed service client.
func (c *WorkerClient) Service() *WorkerServiceClient {
	if c.closed.Load() {
		panic("rpc: WorkerClient used after Close")
	}
	return c.client
}

// Close releases the underlying service client back to wherever it was
// borrowed from. The handle must not be used afterwards. Only the first
// Close does anything.
func (c *WorkerClient) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.release(c.client)
	}
	return nil
}
