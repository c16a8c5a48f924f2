// ## Master client: rpc/master.go
//
// MasterClient is the control-plane client the coordination layer pools
// per master address. The concrete implementation talks gRPC; tests
// supply their own fakes, so everything downstream depends on the
// interface only.
package rpc

import (
	"context"
	"io"

	"blockclient/wire"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// MasterClient is a client for the master control service.
type MasterClient interface {
	// ListWorkers returns every worker currently registered with the
	// master.
	ListWorkers(ctx context.Context) ([]wire.WorkerInfo, error)

	io.Closer
}

const methodListWorkers = "/master.MasterService/ListWorkers"

type listWorkersRequest struct{}

type listWorkersResponse struct {
	Workers []wire.WorkerInfo `json:"workers"`
}

// masterClient is the gRPC-backed MasterClient.
type masterClient struct {
	addr wire.Address
	conn *grpc.ClientConn
}

// DialMaster connects a MasterClient to the given master address.
// The connection is established lazily by gRPC; a dead master shows up
// as an error on the first call, not here.
func DialMaster(ctx context.Context, addr wire.Address) (MasterClient, error) {
	conn, err := grpc.DialContext(ctx, addr.String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, err
	}
	return &masterClient{addr: addr, conn: conn}, nil
}

func (c *masterClient) ListWorkers(ctx context.Context) ([]wire.WorkerInfo, error) {
	var resp listWorkersResponse
	if err := c.conn.Invoke(ctx, methodListWorkers, &listWorkersRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

func (c *masterClient) Close() error {
	return c.conn.Close()
}
