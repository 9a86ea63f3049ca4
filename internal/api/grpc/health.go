// Package grpcapi exposes the client's gRPC surface: standard health
// checking bound to backend reachability, and reflection for grpcurl.
package grpcapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voice-support-client/internal/observability/logging"
)

// ServiceName is the health service key for the voice client.
const ServiceName = "voice.support.VoiceClient"

// Checker probes the backend.
type Checker interface {
	Health(ctx context.Context) error
}

// HealthReporter polls the backend and reports SERVING only while it
// answers.
type HealthReporter struct {
	server   *health.Server
	checker  Checker
	interval time.Duration
	onChange func(up bool)
	logger   zerolog.Logger
}

// Register installs the health and reflection services on g.
func Register(g *grpc.Server, checker Checker, interval time.Duration, onChange func(up bool)) *HealthReporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	reflection.Register(g)

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &HealthReporter{
		server:   hs,
		checker:  checker,
		interval: interval,
		onChange: onChange,
		logger:   logging.WithComponent("health"),
	}
}

// Run checks immediately and then every interval until ctx is cancelled.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		h.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check probes the backend once and updates the serving status.
func (h *HealthReporter) Check(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	err := h.checker.Health(checkCtx)
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		h.logger.Warn().Err(err).Msg("Backend health check failed")
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	if h.onChange != nil {
		h.onChange(err == nil)
	}
	return err == nil
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
