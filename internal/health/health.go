// Package health exposes the standard gRPC health service so supervisors can
// probe whether the respondent server is up.
package health

import (
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the respondent server.
const ServiceName = "feedback.Respondent"

// Server wraps a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer creates the server with every service NOT_SERVING.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing updates both the overall and the respondent service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Checker returns the health service implementation.
func (s *Server) Checker() healthpb.HealthServer {
	return s.health
}

// Serve blocks serving on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("gRPC health server listening", "address", ln.Addr().String())
	return s.grpc.Serve(ln)
}

// Stop tries GracefulStop and forces Stop after timeout.
func (s *Server) Stop(timeout time.Duration) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC health server stopped gracefully")
	case <-time.After(timeout):
		s.logger.Warn("Graceful shutdown timeout, forcing stop")
		s.grpc.Stop()
		<-done
	}
}
