// Package health exposes the standard gRPC health service for the console.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Service names reported next to the overall ("") status.
const (
	ChatService       = "triage.chat"
	EvaluationService = "triage.evaluation"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer returns a server reporting every service as SERVING.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, logger: logger.With("component", "health")}
	s.set(healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	for _, svc := range []string{"", ChatService, EvaluationService} {
		s.health.SetServingStatus(svc, status)
	}
}

// Serve accepts connections on lis until ctx is done, then drains them.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve health: %w", err)
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errCh
		s.logger.Info("gRPC health server stopped")
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Monitor runs check every interval and flips every service between
// SERVING and NOT_SERVING accordingly. It returns when ctx is done.
func (s *Server) Monitor(ctx context.Context, interval time.Duration, check Check) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			err := check(checkCtx)
			cancel()

			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil && serving:
				s.logger.Warn("dependency check failed", "error", err)
				s.set(healthpb.HealthCheckResponse_NOT_SERVING)
				serving = false
			case err == nil && !serving:
				s.logger.Info("dependency check recovered")
				s.set(healthpb.HealthCheckResponse_SERVING)
				serving = true
			}
		}
	}
}
