// ABOUTME: gRPC health service for load balancers and orchestrators
// ABOUTME: Serving status follows the store's reachability

package gateway

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// HealthServiceName is the service name reported by the health server
// alongside the overall ("") status.
const HealthServiceName = "discuss.Gateway"

// storeHealthInterval is how often the store is pinged to update health status.
const storeHealthInterval = 10 * time.Second

// createGRPCServer creates a gRPC server exposing the standard health service.
func createGRPCServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	logger.Info("gRPC health service enabled", "service", HealthServiceName)
	return server, hs
}

// watchStoreHealth flips the health status when the store stops answering pings.
func (g *Gateway) watchStoreHealth(ctx context.Context) {
	ticker := time.NewTicker(storeHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkStoreHealth(ctx)
		}
	}
}

func (g *Gateway) checkStoreHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.store.Ping(pingCtx); err != nil {
		g.logger.Warn("store ping failed, reporting not serving", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.healthServer.SetServingStatus("", status)
	g.healthServer.SetServingStatus(HealthServiceName, status)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}
