package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Dependency is something the service cannot serve without.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// NewServer builds the internal gRPC server with tracing and, when token is
// set, service token authentication.
func NewServer(token string, healthServer *health.Server) (*grpc.Server, error) {
	opts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if token != "" {
		interceptor, err := NewServiceAuthUnaryInterceptor(token)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.UnaryInterceptor(interceptor))
	}
	server := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	return server, nil
}

// CheckHealth pings every dependency once and records the overall status.
func CheckHealth(ctx context.Context, healthServer *health.Server, deps []Dependency, timeout time.Duration, logger *zap.Logger) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	for _, dep := range deps {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := dep.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("dependency unhealthy", zap.String("dependency", dep.Name), zap.Error(err))
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	healthServer.SetServingStatus("", status)
	return status
}

// WatchHealth re-checks dependencies every interval until ctx ends.
func WatchHealth(ctx context.Context, healthServer *health.Server, deps []Dependency, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	CheckHealth(ctx, healthServer, deps, interval, logger)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				healthServer.Shutdown()
				return
			case <-ticker.C:
				CheckHealth(ctx, healthServer, deps, interval, logger)
			}
		}
	}()
}
