package httpapi

import (
	"context"
	"time"

	charmlog "github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"capitania.club/internal/obs"
)

// HealthServer publishes readiness over the standard gRPC health service.
// The overall status ("") and serviceName follow the readiness probe.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
	log       *charmlog.Logger
}

// NewHealthServer creates the health service. It reports NOT_SERVING until
// the first Refresh.
func NewHealthServer(r readinessChecker, logger *charmlog.Logger) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = obs.Logger()
	}
	s := &HealthServer{srv: health.NewServer(), readiness: r, log: logger}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to a gRPC server.
func (s *HealthServer) Register(reg grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(reg, s.srv)
}

// Refresh evaluates readiness once and updates the published status.
func (s *HealthServer) Refresh(ctx context.Context) bool {
	if err := s.readiness.Check(ctx); err != nil {
		s.log.Warn("health: not ready", "err", err)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx is done, then marks the service
// as shutting down.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.srv.Shutdown()
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

func (s *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.srv.SetServingStatus("", status)
	s.srv.SetServingStatus(serviceName, status)
}
