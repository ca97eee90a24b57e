// Package api hosts the marketpulse gRPC endpoint. It serves the standard
// grpc.health.v1 service; the overall status tracks whether an update cycle
// has completed since startup.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"marketpulse/internal/domain"
)

// UpdaterService is the health service name reported for the update loop.
// The empty name ("") reports the same status for the server as a whole.
const UpdaterService = "marketpulse.Updater"

// Server is the gRPC server exposing health status.
type Server struct {
	gs     *grpc.Server
	health *health.Server
	ready  atomic.Bool
	log    *slog.Logger
}

// NewServer creates a Server. Both the overall and updater statuses start as
// NOT_SERVING.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		gs:     grpc.NewServer(),
		health: health.NewServer(),
		log:    log.With("component", "grpc"),
	}
	healthpb.RegisterHealthServer(s.gs, s.health)
	reflection.Register(s.gs)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// RegisterGRPC exposes the underlying server so other services can be added
// before Serve is called.
func (s *Server) RegisterGRPC(register func(gs *grpc.Server)) {
	register(s.gs)
}

// ObserveCycle records the outcome of an update cycle. The first completed
// cycle flips the status to SERVING; later aborted cycles do not revert it,
// since the last good snapshot keeps being served.
func (s *Server) ObserveCycle(run domain.Run, err error) {
	if err != nil || run.Status != domain.RunCompleted {
		if !s.ready.Load() {
			s.log.Warn("update cycle did not complete, still not serving", "run", run.ID, "error", err)
		}
		return
	}
	if s.ready.CompareAndSwap(false, true) {
		s.log.Info("first update cycle completed, serving", "run", run.ID)
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	}
}

// Ready reports whether a cycle has completed.
func (s *Server) Ready() bool { return s.ready.Load() }

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(UpdaterService, st)
}

// Serve accepts connections on lis until Stop or Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc listening", "addr", lis.Addr().String())
	if err := s.gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving grpc: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		s.Shutdown(context.Background())
	}()
	return s.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully, falling back
// to a hard stop when ctx expires first.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.gs.Stop()
	}
}
