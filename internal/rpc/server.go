// Package rpc hosts the gRPC health endpoint that reports whether the
// service is up and whether a calibration session is in progress.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SessionService is the health service name that tracks session activity.
// It reports SERVING while a session is awaiting start or running.
const SessionService = "gazecal.session"

// Server wraps the gRPC server and its health service.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
}

// New listens on addr and registers the health and reflection services.
func New(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(SessionService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetSessionActive updates the session service status.
func (s *Server) SetSessionActive(active bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if active {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SessionService, status)
}

// Serve runs the gRPC server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("gRPC server listening", "addr", s.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}
