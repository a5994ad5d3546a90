package adminrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/planner"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/scheduler"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/timekeeper"
)

func startBufconnServer(t *testing.T, srv TimekeeperControlServer) TimekeeperControlClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	RegisterTimekeeperControlServer(grpcServer, srv)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(CallOptions()...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewTimekeeperControlClient(conn)
}

func newTestTimekeeper(t *testing.T) *timekeeper.Timekeeper {
	t.Helper()
	store := repository.NewMemory()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.DefaultSchedulerConfig()
	sched := scheduler.New(store, fake, &clock.SequentialGenerator{Prefix: "task"}, cfg, planner.New(cfg), events.NoopEmitter{})
	return timekeeper.New(store, fake, cfg, sched, events.NoopEmitter{})
}

func TestSweepOverGRPCReturnsReport(t *testing.T) {
	tk := newTestTimekeeper(t)
	client := startBufconnServer(t, NewServer(tk))

	resp, err := client.Sweep(context.Background(), &SweepRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.AgentsMarkedOffline)
	assert.Equal(t, 0, resp.TasksTimedOut)
}

func TestGetLastReportReflectsMostRecentSweep(t *testing.T) {
	tk := newTestTimekeeper(t)
	client := startBufconnServer(t, NewServer(tk))

	_, err := client.Sweep(context.Background(), &SweepRequest{})
	require.NoError(t, err)

	resp, err := client.GetLastReport(context.Background(), &LastReportRequest{})
	require.NoError(t, err)
	assert.False(t, resp.At.IsZero())
}
