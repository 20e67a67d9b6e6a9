/*
Package agentgateway - Agent 服务客户端

外部 Agent 进程负责 LLM 编排和会话记忆，网关只通过 HTTP 调用它：
- run: 执行一次查询（慢，按分钟超时）
- history / delete: 读取、清空会话
- health: 健康检查
*/
package agentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pharmai/gateway/config"
	"github.com/pharmai/gateway/monitor"
	"github.com/pharmai/gateway/upstream"
)

// upstreamName 指标中的上游名
const upstreamName = "agent"

// RunRequest 运行请求，session_id 为空时由 Agent 服务生成
type RunRequest struct {
	SessionID *string `json:"session_id"`
	Query     string  `json:"query"`
}

// RunResponse 运行响应
type RunResponse struct {
	SessionID       string         `json:"session_id"`
	DecisionBrief   string         `json:"decision_brief"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
	Citations       []string       `json:"citations,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Message 会话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History 会话历史
type History struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages"`
}

// Gateway Agent 服务客户端
type Gateway struct {
	cfg     config.AgentConfig
	client  *upstream.Client
	monitor *monitor.Monitor
}

// New 创建客户端，mon 可以为 nil
func New(cfg config.AgentConfig, mon *monitor.Monitor, opts ...upstream.Option) *Gateway {
	opts = append([]upstream.Option{upstream.WithToken(cfg.APIKey)}, opts...)
	return &Gateway{
		cfg:     cfg,
		client:  upstream.New(opts...),
		monitor: mon,
	}
}

// BackendURL Agent 服务基地址
func (g *Gateway) BackendURL() string {
	return g.cfg.BackendURL
}

// Run 调用 /run，返回原始响应以便原样转发
func (g *Gateway) Run(ctx context.Context, req RunRequest) (*upstream.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化 run 请求失败: %w", err)
	}
	return g.call(ctx, "run", g.cfg.RunTimeout, http.MethodPost, "/run", body)
}

// History 调用 GET /session/{id}/history
func (g *Gateway) History(ctx context.Context, sessionID string) (*upstream.Response, error) {
	return g.call(ctx, "history", g.cfg.ShortTimeout, http.MethodGet,
		"/session/"+url.PathEscape(sessionID)+"/history", nil)
}

// ClearSession 调用 DELETE /session/{id}
func (g *Gateway) ClearSession(ctx context.Context, sessionID string) (*upstream.Response, error) {
	return g.call(ctx, "delete", g.cfg.ShortTimeout, http.MethodDelete,
		"/session/"+url.PathEscape(sessionID), nil)
}

// Health 调用 GET /health
func (g *Gateway) Health(ctx context.Context) (*upstream.Response, error) {
	return g.call(ctx, "health", g.cfg.ShortTimeout, http.MethodGet, "/health", nil)
}

// RunTyped 调用 /run 并解析为 RunResponse，供 WebSocket 中继使用
func (g *Gateway) RunTyped(ctx context.Context, req RunRequest) (*RunResponse, error) {
	resp, err := g.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	var out RunResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("解析 run 响应失败: %w", err)
	}
	return &out, nil
}

// SessionHistory 调用 history 并解析为 History，供 WebSocket 中继使用
func (g *Gateway) SessionHistory(ctx context.Context, sessionID string) (*History, error) {
	resp, err := g.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out History
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("解析 history 响应失败: %w", err)
	}
	return &out, nil
}

func (g *Gateway) call(ctx context.Context, op string, timeout time.Duration, method, path string, body []byte) (*upstream.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Do(ctx, method, g.cfg.BackendURL+path, body)
	g.monitor.RecordUpstream(upstreamName, op, time.Since(start), err)
	return resp, err
}

// Detail 提取上游错误详情：FastAPI 的 {"detail": ...} 优先，否则整个响应体
func Detail(body []byte) any {
	parsed := upstream.DecodeBody(body)
	if obj, ok := parsed.(map[string]any); ok {
		if d, exists := obj["detail"]; exists {
			return d
		}
	}
	return parsed
}
