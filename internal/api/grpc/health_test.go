package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"voice-support-client/internal/observability/metrics"
)

type fakeChecker struct {
	mu  sync.Mutex
	err error
}

func (c *fakeChecker) Health(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChecker) set(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func startServer(t *testing.T, checker Checker, onChange func(bool)) (*HealthReporter, grpc_health_v1.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer(ServerOptions(metrics.DefaultMetrics)...)
	reporter := Register(g, checker, time.Second, onChange)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return reporter, grpc_health_v1.NewHealthClient(conn)
}

func TestHealthFollowsBackend(t *testing.T) {
	checker := &fakeChecker{}
	var ups []bool
	reporter, client := startServer(t, checker, func(up bool) { ups = append(ups, up) })
	ctx := context.Background()

	status := func() grpc_health_v1.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.Status
	}

	if got := status(); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status = %s, want NOT_SERVING", got)
	}

	if !reporter.Check(ctx) {
		t.Error("expected healthy backend")
	}
	if got := status(); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("status = %s, want SERVING", got)
	}

	checker.set(errors.New("connection refused"))
	if reporter.Check(ctx) {
		t.Error("expected unhealthy backend")
	}
	if got := status(); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %s, want NOT_SERVING", got)
	}

	if len(ups) != 2 || !ups[0] || ups[1] {
		t.Errorf("unexpected reachability callbacks %v", ups)
	}
}

func TestServedCallsAreCounted(t *testing.T) {
	_, client := startServer(t, &fakeChecker{}, nil)
	counter := metrics.DefaultMetrics.RPCTotal.WithLabelValues("/grpc.health.v1.Health/Check", "OK")
	before := testutil.ToFloat64(counter)

	if _, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceName}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected one counted call, got %v", got)
	}

	_, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "unknown"})
	if err == nil {
		t.Fatal("expected NotFound for an unknown service")
	}
	notFound := metrics.DefaultMetrics.RPCTotal.WithLabelValues("/grpc.health.v1.Health/Check", "NotFound")
	if testutil.ToFloat64(notFound) < 1 {
		t.Error("expected the failed call counted with its code")
	}
}
