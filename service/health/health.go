// Package health answers liveness questions over HTTP (/healthz) and the
// standard gRPC health service, from the same set of dependency checks.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"fieldgate/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	StatusOK   = "ok"
	StatusDown = "down"
)

// Check returns nil when the dependency is reachable.
type Check func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   Check
}

type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (r Report) OK() bool { return r.Status == StatusOK }

// Checker runs the registered checks and mirrors the outcome into a gRPC
// health server under "" and service.
type Checker struct {
	service string
	timeout time.Duration

	mu     sync.RWMutex
	checks []namedCheck

	grpcHealth *health.Server
}

func New(service string) *Checker {
	return &Checker{
		service:    service,
		timeout:    2 * time.Second,
		grpcHealth: health.NewServer(),
	}
}

func (c *Checker) Add(name string, fn Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, fn: fn})
}

// Run executes every check concurrently, each bounded by the checker timeout.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		rep = Report{Status: StatusOK, Checks: make(map[string]string, len(checks))}
	)
	for _, ch := range checks {
		wg.Add(1)
		go func(ch namedCheck) {
			defer wg.Done()
			err := ch.fn(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Status = StatusDown
				rep.Checks[ch.name] = err.Error()
				return
			}
			rep.Checks[ch.name] = StatusOK
		}(ch)
	}
	wg.Wait()
	c.publish(rep)
	return rep
}

func (c *Checker) publish(rep Report) {
	st := healthpb.HealthCheckResponse_SERVING
	if !rep.OK() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.grpcHealth.SetServingStatus("", st)
	if c.service != "" {
		c.grpcHealth.SetServingStatus(c.service, st)
	}
}

// Handler serves /healthz: 200 when every check passes, 503 otherwise.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rep := c.Run(ctx.Request.Context())
		code := http.StatusOK
		if !rep.OK() {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, rep)
	}
}

// Watch refreshes the gRPC status every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	last := ""
	for {
		rep := c.Run(ctx)
		if rep.Status != last {
			failing := make([]string, 0)
			for name, v := range rep.Checks {
				if v != StatusOK {
					failing = append(failing, name)
				}
			}
			sort.Strings(failing)
			logger.Info("[health] status changed", zap.String("status", rep.Status), zap.Strings("failing", failing))
			last = rep.Status
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RegisterGRPC adds the health service to gs.
func (c *Checker) RegisterGRPC(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, c.grpcHealth)
}

// Shutdown reports NOT_SERVING to every watcher and ignores later updates.
func (c *Checker) Shutdown() {
	c.grpcHealth.Shutdown()
}
