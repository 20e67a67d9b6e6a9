package apigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pharmai/gateway/agentgateway"
	"github.com/pharmai/gateway/upstream"
)

// ============================================================================
// Agent 代理
// ============================================================================

// handleAgentRun 转发 {session_id, query} 到 Agent 服务的 /run
func (g *Gateway) handleAgentRun(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Error(err)
		return
	}

	var req agentgateway.RunRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	resp, err := g.agent.Run(c.Request.Context(), req)
	if err != nil {
		status, payload := g.agentFailure(err, "Agent request failed")
		c.JSON(status, payload)
		return
	}
	relay(c, resp)
}

// handleAgentHistory 读取会话历史
func (g *Gateway) handleAgentHistory(c *gin.Context) {
	g.relaySession(c, g.agent.History, "Failed to retrieve session history")
}

// handleAgentClear 清空会话
func (g *Gateway) handleAgentClear(c *gin.Context) {
	g.relaySession(c, g.agent.ClearSession, "Failed to clear session")
}

// relaySession 会话 ID 不做格式校验，由 Agent 服务决定是否存在
func (g *Gateway) relaySession(c *gin.Context, call func(context.Context, string) (*upstream.Response, error), failure string) {
	resp, err := call(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		status, payload := g.agentFailure(err, failure)
		c.JSON(status, payload)
		return
	}
	relay(c, resp)
}

// handleAgentHealth 上游任何失败都返回 503，不透传上游状态码
func (g *Gateway) handleAgentHealth(c *gin.Context) {
	backend := g.agent.BackendURL()

	resp, err := g.agent.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "error",
			"error":       "Agent service is unreachable",
			"backend_url": backend,
			"message":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"python_backend": upstream.DecodeBody(resp.Body),
		"backend_url":    backend,
	})
}

// agentFailure 把上游失败翻译为网关错误格式
func (g *Gateway) agentFailure(err error, message string) (int, gin.H) {
	backend := g.agent.BackendURL()

	e, ok := upstream.AsError(err)
	if !ok {
		return http.StatusInternalServerError, gin.H{"error": message, "details": err.Error()}
	}

	switch e.Kind {
	case upstream.KindRefused:
		return http.StatusServiceUnavailable, gin.H{
			"error": "Agent service is not running",
			"message": fmt.Sprintf(
				"Start the agent service with `uvicorn app:app --host 0.0.0.0 --port 7860` "+
					"or point PYTHON_BACKEND_URL at a running instance (currently %s)", backend),
			"backend_url": backend,
		}
	case upstream.KindTimeout:
		return http.StatusGatewayTimeout, gin.H{
			"error":       "Agent service timed out",
			"details":     e.Error(),
			"backend_url": backend,
		}
	case upstream.KindStatus:
		return e.StatusCode, gin.H{"error": message, "details": agentgateway.Detail(e.Body)}
	default:
		return http.StatusInternalServerError, gin.H{"error": message, "details": e.Error()}
	}
}

// relay 原样返回上游状态码和响应体
func relay(c *gin.Context, resp *upstream.Response) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}
