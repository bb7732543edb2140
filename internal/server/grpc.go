// Package server assembles the gRPC process shell for the identity core. The
// core exposes no feature RPCs of its own; the platform gateway mounts its
// services in-process. What this server carries is the standard health
// endpoint plus OpenTelemetry instrumentation for everything mounted on it.
package server

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"identity-control-plane/internal/cache"
)

// Pinger reports backend connectivity, e.g. *db.Postgres.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the backends the readiness probe watches.
type Deps struct {
	DB    Pinger
	Cache *cache.Client
}

// Server is the gRPC process shell with its health reporter.
type Server struct {
	GRPC *grpc.Server

	deps   Deps
	health *health.Server
}

// New builds the gRPC server with OpenTelemetry instrumentation and registers
// the standard health service. The server starts NOT_SERVING until the first
// readiness probe passes.
func New(deps Deps) *Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, h)
	return &Server{GRPC: s, deps: deps, health: h}
}

// WatchReadiness probes Postgres and Redis on the given interval and keeps the
// health status current. Blocks until ctx is cancelled.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.deps.DB.Ping(probeCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	} else if _, err := s.deps.Cache.Exists(probeCtx, "health:probe"); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Stop drains the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.GRPC.GracefulStop()
}
