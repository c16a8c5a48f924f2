package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blockclient/config"
	"blockclient/pkg/pool"
	"blockclient/rpc"
	"blockclient/wire"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Master = config.MasterConfig{Host: "master", Port: 19998}
	cfg.Pools.Channel = config.PoolConfig{Max: 4, AcquireTimeoutSeconds: 2}
	cfg.Pools.WorkerClient = config.PoolConfig{Max: 4, AcquireTimeoutSeconds: 2}
	return cfg
}

// lazyDial returns a real (lazily-connecting) grpc conn; no server is
// needed because nothing is ever sent on it.
func lazyDial(ctx context.Context, addr wire.Address) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, addr.String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func fakeWorkerDial(ctx context.Context, addr wire.Address) (*rpc.WorkerServiceClient, error) {
	return rpc.NewWorkerServiceClient(addr, nil), nil
}

func TestAcquireReleaseChannel(t *testing.T) {
	r := New(testConfig())
	addr := wire.Addr("worker-1", 29999)

	conn, err := r.AcquireChannel(context.Background(), addr, lazyDial)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.OpenChannels(); got != 1 {
		t.Fatalf("OpenChannels() = %d, want 1", got)
	}

	r.ReleaseChannel(addr, conn)
	if got := r.OpenChannels(); got != 1 {
		t.Fatalf("OpenChannels() = %d after release, want 1 (idle conns stay open)", got)
	}

	// the released conn comes back
	conn2, err := r.AcquireChannel(context.Background(), addr, lazyDial)
	if err != nil {
		t.Fatal(err)
	}
	if conn2 != conn {
		t.Fatal("expected the released channel back")
	}
	r.ReleaseChannel(addr, conn2)
}

// Concurrent first-use acquires for one address end up sharing exactly
// one pool; candidate pools that lose the insert race are closed before
// they ever create a connection.
func TestGetOrCreateRace(t *testing.T) {
	r := New(testConfig())
	addr := wire.Addr("worker-1", 29999)

	var dials atomic.Int64
	dial := func(ctx context.Context, a wire.Address) (*grpc.ClientConn, error) {
		dials.Add(1)
		return lazyDial(ctx, a)
	}

	const goroutines = 16
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := r.AcquireChannel(context.Background(), addr, dial)
			if err != nil {
				t.Error(err)
				return
			}
			r.ReleaseChannel(addr, conn)
		}()
	}
	wg.Wait()

	if s := r.Stat(); s.ChannelPools != 1 {
		t.Fatalf("ChannelPools = %d, want 1", s.ChannelPools)
	}
	// the shared pool is bounded: never more conns than its max
	if open := r.OpenChannels(); open > int64(testConfig().Pools.Channel.Max) {
		t.Fatalf("OpenChannels() = %d, want <= %d", open, testConfig().Pools.Channel.Max)
	}
	// dials all went through the one surviving pool
	if dials.Load() != r.OpenChannels() {
		t.Fatalf("dials = %d, open = %d; a losing candidate pool dialed", dials.Load(), r.OpenChannels())
	}
}

func TestGetOrCreateRaceDirect(t *testing.T) {
	var m sync.Map
	addr := wire.Addr("worker-1", 29999)

	var built atomic.Int64
	var wg sync.WaitGroup
	pools := make([]pool.Pool[*rpc.WorkerServiceClient], 16)
	for i := range pools {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			pools[i] = getOrCreate(&m, addr, func() pool.Pool[*rpc.WorkerServiceClient] {
				built.Add(1)
				return pool.New(1, 0, func(ctx context.Context) (*rpc.WorkerServiceClient, error) {
					return rpc.NewWorkerServiceClient(addr, nil), nil
				})
			})
		}()
	}
	wg.Wait()

	// the builder may run many times, but everyone holds the same pool
	for _, p := range pools[1:] {
		if p != pools[0] {
			t.Fatalf("got different pools for one address (built %d candidates)", built.Load())
		}
	}
}

func TestAcquireWorkerClient(t *testing.T) {
	r := New(testConfig(), WithWorkerDial(fakeWorkerDial))
	addr := wire.Addr("worker-1", 29999)

	c, err := r.AcquireWorkerClient(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if c.Addr() != addr {
		t.Fatalf("client addr = %s, want %s", c.Addr(), addr)
	}
	if s := r.Stat(); s.WorkerClientPools != 1 || s.ChannelPools != 0 {
		t.Fatalf("Stat() = %+v, want one worker-client pool and no channel pools", s)
	}
	r.ReleaseWorkerClient(addr, c)
}

func TestAcquireWorkerClientTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.WorkerClient = config.PoolConfig{Max: 1, AcquireTimeoutSeconds: 1}
	r := New(cfg, WithWorkerDial(fakeWorkerDial))
	addr := wire.Addr("worker-1", 29999)

	c, err := r.AcquireWorkerClient(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	defer r.ReleaseWorkerClient(addr, c)

	start := time.Now()
	if _, err := r.AcquireWorkerClient(context.Background(), addr); err == nil {
		t.Fatal("second acquire on an exhausted pool of 1 succeeded")
	} else if !errors.Is(err, ErrConnectionUnavailable) {
		t.Fatalf("err = %v, want ErrConnectionUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("bounded wait took %s", elapsed)
	}
}

func TestReleaseUnknownAddressPanics(t *testing.T) {
	r := New(testConfig())

	defer func() {
		if recover() == nil {
			t.Fatal("release for an address with no pool did not panic")
		}
	}()
	r.ReleaseChannel(wire.Addr("nobody", 1), nil)
}

func TestOpenChannelsSumsAllPools(t *testing.T) {
	r := New(testConfig())

	for _, addr := range []wire.Address{
		wire.Addr("worker-1", 29999),
		wire.Addr("worker-2", 29999),
	} {
		conn, err := r.AcquireChannel(context.Background(), addr, lazyDial)
		if err != nil {
			t.Fatal(err)
		}
		r.ReleaseChannel(addr, conn)
	}

	if got := r.OpenChannels(); got != 2 {
		t.Fatalf("OpenChannels() = %d, want 2", got)
	}
}
