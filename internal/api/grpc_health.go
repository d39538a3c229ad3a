package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard grpc health service. It reports SERVING
// while the scan feed is connected and NOT_SERVING otherwise.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	feed   ScanFeed
}

func NewHealthServer(feed ScanFeed) *HealthServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: srv, health: hs, feed: feed}
}

// Run serves on port until ctx is done
func (h *HealthServer) Run(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %s: %w", port, err)
	}

	go h.watchFeed(ctx)
	go func() {
		<-ctx.Done()
		h.health.Shutdown()
		h.server.GracefulStop()
	}()

	log.Printf("🚀 gRPC health server listening on :%s", port)
	if err := h.server.Serve(lis); err != nil {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

func (h *HealthServer) watchFeed(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if h.feed == nil || h.feed.Connected() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			h.health.SetServingStatus("", status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
