package apigateway

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ============================================================================
// gRPC 健康检查
// ============================================================================

const (
	// gatewayService 网关自身
	gatewayService = "pharmai.gateway"
	// agentService 外部 Agent 服务的可达性
	agentService = "pharmai.agent"

	agentWatchInterval = 30 * time.Second
)

// newGRPCServer 创建只注册标准健康检查服务的 gRPC 服务
func (g *Gateway) newGRPCServer() *grpc.Server {
	g.health = health.NewServer()
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(gatewayService, healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(agentService, healthpb.HealthCheckResponse_UNKNOWN)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, g.health)
	return srv
}

// watchAgent 定期探测 Agent 服务并更新 agentService 状态
func (g *Gateway) watchAgent(ctx context.Context) {
	g.checkAgent(ctx)

	ticker := time.NewTicker(agentWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkAgent(ctx)
		}
	}
}

func (g *Gateway) checkAgent(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if _, err := g.agent.Health(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		log.Debug().Err(err).Msg("Agent 服务不可用")
	}
	g.health.SetServingStatus(agentService, status)
}
