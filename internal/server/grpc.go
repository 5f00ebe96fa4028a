package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

// probeInterval is how often the store is pinged to refresh the gRPC
// serving status.
const probeInterval = 15 * time.Second

// healthServer exposes the standard gRPC health service. Its status follows
// the alert store's reachability.
type healthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	store  store.AlertStore
	logger *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func newHealthServer(host string, port int, st store.AlertStore, logger *zap.Logger) *healthServer {
	s := grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &healthServer{
		addr:   fmt.Sprintf("%s:%d", host, port),
		server: s,
		health: hs,
		store:  st,
		logger: logger.Named("grpc"),
		stop:   make(chan struct{}),
	}
}

// Start listens and serves in the background.
func (h *healthServer) Start() error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.logger.Info("gRPC health server starting", zap.String("address", h.addr))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(listener); err != nil {
			h.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	go func() {
		defer h.wg.Done()
		h.probe()
	}()
	return nil
}

func (h *healthServer) probe() {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.refresh()
		}
	}
}

func (h *healthServer) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store unreachable", zap.Error(err))
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(serviceName, status)
}

// Stop marks the service NOT_SERVING and stops gracefully, forcing after
// five seconds.
func (h *healthServer) Stop() {
	h.health.Shutdown()
	close(h.stop)

	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		h.logger.Info("gRPC server stopped gracefully")
	case <-time.After(5 * time.Second):
		h.logger.Warn("gRPC server forced to stop after timeout")
		h.server.Stop()
	}
	h.wg.Wait()
}
