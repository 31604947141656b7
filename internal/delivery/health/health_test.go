package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	hs := NewServer(zap.NewNop().Sugar())
	hs.Register(grpcServer)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return hs, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthFollowsEngine(t *testing.T) {
	hs, client := startServer(t)
	require.True(t, hs.Serving())
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	engineDone := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		hs.Watch(context.Background(), engineDone)
		close(watched)
	}()
	close(engineDone)
	<-watched

	require.False(t, hs.Serving())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))
}

func TestWatchStopsWithContext(t *testing.T) {
	hs, _ := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hs.Watch(ctx, make(chan struct{}))
	require.True(t, hs.Serving())
}
