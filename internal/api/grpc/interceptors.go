package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/observability/metrics"
)

// ServerOptions returns the interceptors for the client's gRPC server.
// Every served call, health probes and watches included, is counted by
// method and status code.
func ServerOptions(m *metrics.Metrics) []grpc.ServerOption {
	logger := logging.WithComponent("grpc")
	observe := func(method string, start time.Time, err error) {
		code := status.Code(err).String()
		m.RecordRPC(method, code)
		logger.Debug().
			Str("method", method).
			Str("code", code).
			Dur("duration", time.Since(start)).
			Msg("RPC served")
	}

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			start := time.Now()
			resp, err := handler(ctx, req)
			observe(info.FullMethod, start, err)
			return resp, err
		}),
		grpc.ChainStreamInterceptor(func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			start := time.Now()
			err := handler(srv, ss)
			observe(info.FullMethod, start, err)
			return err
		}),
	}
}
