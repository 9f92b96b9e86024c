package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHTTPHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := New("fieldgate")
	var redisErr error
	c.Add("redis", func(context.Context) error { return redisErr })
	c.Add("postgres", func(context.Context) error { return nil })

	r := gin.New()
	r.GET("/healthz", c.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var rep Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, Report{Status: StatusOK, Checks: map[string]string{"redis": "ok", "postgres": "ok"}}, rep)

	redisErr = errors.New("dial tcp: connection refused")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, StatusDown, rep.Status)
	assert.Equal(t, "dial tcp: connection refused", rep.Checks["redis"])
}

func TestChecksAreBounded(t *testing.T) {
	c := New("")
	c.timeout = 20 * time.Millisecond
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	rep := c.Run(context.Background())
	assert.False(t, rep.OK())
	assert.Less(t, time.Since(start), time.Second)
}

func TestGRPCHealthMirrorsChecks(t *testing.T) {
	c := New("fieldgate")
	var down error
	c.Add("redis", func(context.Context) error { return down })

	lis := bufconn.Listen(1 << 16)
	gs := grpc.NewServer()
	c.RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	c.Run(ctx)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "fieldgate"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	down = errors.New("gone")
	c.Run(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	down = nil
	c.Run(ctx)
	c.Shutdown()
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "fieldgate"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
