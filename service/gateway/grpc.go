package gateway

import (
	"net"

	"PPLive/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const HealthService = "pplive.Gateway"

// ServeGRPC serves the health service on lis until StopGRPC.
func (g *Gateway) ServeGRPC(lis net.Listener) error {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, g.health)
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	g.grpcMu.Lock()
	g.grpc = gs
	g.grpcMu.Unlock()

	logger.Info("[gRPC] listening", zap.String("addr", lis.Addr().String()))
	if err := gs.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// StopGRPC reports NOT_SERVING and stops the server. Safe to call twice.
func (g *Gateway) StopGRPC() {
	g.health.Shutdown()
	g.grpcMu.Lock()
	gs := g.grpc
	g.grpcMu.Unlock()
	if gs != nil {
		gs.GracefulStop()
	}
}
