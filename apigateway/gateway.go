/*
Package apigateway - API 网关

负责处理客户端请求：
- HTTP/JSON REST API（模型预测、Agent 代理）
- WebSocket 中继
- gRPC 健康检查
*/
package apigateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/pharmai/gateway/agentgateway"
	"github.com/pharmai/gateway/config"
	"github.com/pharmai/gateway/inference"
	"github.com/pharmai/gateway/monitor"
	"github.com/pharmai/gateway/upstream"
)

// Version 服务版本
const Version = "1.0.0"

// Database 文档库连接，未配置时为 nil
type Database interface {
	Ping(ctx context.Context) error
	Database() string
}

// Gateway API 网关
type Gateway struct {
	cfg     *config.Config
	agent   *agentgateway.Gateway
	model   *inference.Client
	db      Database
	monitor *monitor.Monitor

	engine     *gin.Engine
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// New 创建 API 网关，db 可以为 nil
func New(cfg *config.Config, db Database) *Gateway {
	mon := monitor.New()
	g := &Gateway{
		cfg:     cfg,
		agent:   agentgateway.New(cfg.Agent, mon),
		model:   inference.New(cfg.Model, mon),
		db:      db,
		monitor: mon,
	}
	g.engine = g.newEngine()
	return g
}

// Handler 返回 HTTP 处理器
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Start 启动网关，ctx 取消后优雅关闭
func (g *Gateway) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.cfg.Server.Addr())
	if err != nil {
		return err
	}

	g.httpServer = &http.Server{
		Addr:              g.cfg.Server.Addr(),
		Handler:           g.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := g.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if g.cfg.Server.GRPCAddr != "" {
		glis, err := net.Listen("tcp", g.cfg.Server.GRPCAddr)
		if err != nil {
			_ = g.shutdown()
			return err
		}
		g.grpcServer = g.newGRPCServer()
		go func() {
			if err := g.grpcServer.Serve(glis); err != nil {
				errCh <- err
			}
		}()
		go g.watchAgent(ctx)
	}

	log.Info().
		Str("http", g.cfg.Server.Addr()).
		Str("grpc", g.cfg.Server.GRPCAddr).
		Str("agent", g.cfg.Agent.BackendURL).
		Bool("model_configured", g.cfg.Model.URL != "").
		Msg("API Gateway 已启动")

	select {
	case <-ctx.Done():
		return g.shutdown()
	case err := <-errCh:
		_ = g.shutdown()
		return err
	}
}

// shutdown 关闭服务
func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Server.ShutdownTimeout)
	defer cancel()

	var err error
	if g.httpServer != nil {
		err = g.httpServer.Shutdown(ctx)
	}
	if g.health != nil {
		g.health.Shutdown()
	}
	if g.grpcServer != nil {
		g.grpcServer.GracefulStop()
	}

	stats := g.monitor.Snapshot()
	log.Info().
		Int64("requests", stats.TotalRequests).
		Int64("errors", stats.TotalErrors).
		Int64("upstream_errors", stats.UpstreamErrors).
		Dur("uptime", stats.Uptime()).
		Msg("API Gateway 已关闭")
	return err
}

// newEngine 注册中间件和路由
func (g *Gateway) newEngine() *gin.Engine {
	r := gin.New()
	// 会话 ID 可能包含编码后的 "/"，按原始路径匹配路由
	r.UseRawPath = true
	r.UnescapePathValues = true

	// 中间件
	r.Use(g.requestIDMiddleware())
	r.Use(g.loggerMiddleware())
	r.Use(g.recoveryMiddleware())
	r.Use(g.corsMiddleware())
	r.Use(g.errorMiddleware())

	r.GET("/", g.handleIndex)
	r.GET("/health", g.handleHealth)
	r.GET("/ready", g.handleReady)
	if g.cfg.Metrics.Enabled {
		r.GET(g.cfg.Metrics.Path, gin.WrapH(g.monitor.Handler()))
	}

	api := r.Group("/api")
	{
		// 模型预测
		model := api.Group("/model")
		model.POST("/predict", g.handlePredict)

		// Agent 代理
		agent := api.Group("/agent")
		agent.POST("/run", g.handleAgentRun)
		agent.GET("/session/:session_id/history", g.handleAgentHistory)
		agent.DELETE("/session/:session_id", g.handleAgentClear)
		agent.GET("/health", g.handleAgentHealth)
	}

	// WebSocket
	r.GET("/ws", g.handleWebSocket)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	return r
}

// ============================================================================
// 基础路由
// ============================================================================

var routeListing = []string{
	"GET /health",
	"GET /ready",
	"POST /api/model/predict",
	"POST /api/agent/run",
	"GET /api/agent/session/:session_id/history",
	"DELETE /api/agent/session/:session_id",
	"GET /api/agent/health",
	"GET /ws",
}

// routes 返回对外路由列表，启用 metrics 时包含其路径
func (g *Gateway) routes() []string {
	routes := slices.Clone(routeListing)
	if g.cfg.Metrics.Enabled {
		routes = append(routes, "GET "+g.cfg.Metrics.Path)
	}
	return routes
}

// handleIndex 服务说明
func (g *Gateway) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "PharmAI gateway is running",
		"version": Version,
		"routes":  g.routes(),
	})
}

// handleHealth 健康检查
func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady 就绪检查，数据库未配置时视为就绪
func (g *Gateway) handleReady(c *gin.Context) {
	if g.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "database": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), g.cfg.Agent.ShortTimeout)
	defer cancel()

	if err := g.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"database": g.db.Database(),
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "database": g.db.Database()})
}

// ============================================================================
// 中间件
// ============================================================================

const requestIDHeader = "X-Request-ID"

func (g *Gateway) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(upstream.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (g *Gateway) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		g.monitor.RecordRequest(c.FullPath(), c.Writer.Status(), latency)
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Msg("请求")
	}
}

func (g *Gateway) corsMiddleware() gin.HandlerFunc {
	cors := g.cfg.Server.CORS
	allowAll := len(cors.AllowOrigins) == 0 || slices.Contains(cors.AllowOrigins, "*")
	methods := strings.Join(cors.AllowMethods, ", ")
	headers := strings.Join(cors.AllowHeaders, ", ")

	return func(c *gin.Context) {
		switch origin := c.GetHeader("Origin"); {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case slices.Contains(cors.AllowOrigins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if methods != "" {
			c.Header("Access-Control-Allow-Methods", methods)
		}
		if headers != "" {
			c.Header("Access-Control-Allow-Headers", headers)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// errorMiddleware 兜底错误处理：处理器通过 c.Error 上报且尚未写响应时统一返回 JSON
func (g *Gateway) errorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := http.StatusInternalServerError
		if e, ok := upstream.AsError(err); ok {
			status = e.HTTPStatus()
		}

		log.Error().
			Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString("request_id")).
			Msg("未处理的错误")

		msg := err.Error()
		if msg == "" {
			msg = "Internal Server Error"
		}
		c.JSON(status, gin.H{"error": msg})
	}
}

func (g *Gateway) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("处理器 panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	})
}
