package apigateway

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pharmai/gateway/agentgateway"
	"github.com/pharmai/gateway/upstream"
)

// ============================================================================
// WebSocket 中继
// ============================================================================

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest 客户端帧
type wsRequest struct {
	Type      string `json:"type"` // run, history, clear, health
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// wsResponse 服务端帧，每个请求帧对应一个响应帧
type wsResponse struct {
	Type      string `json:"type"` // response, error
	Op        string `json:"op,omitempty"`
	Status    int    `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Body      any    `json:"body,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// handleWebSocket 处理 WebSocket 连接。会话 ID 在连接内保持，run 返回的新会话会被记住。
func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sessionID := ""

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			g.writeFrame(conn, wsResponse{Type: "error", Status: http.StatusBadRequest, Error: "invalid JSON frame"})
			continue
		}

		if req.SessionID != "" {
			sessionID = req.SessionID
		}

		var resp wsResponse
		switch req.Type {
		case "run":
			if req.Query == "" {
				resp = wsResponse{Type: "error", Op: req.Type, Status: http.StatusBadRequest, Error: "query is required"}
				break
			}
			run := agentgateway.RunRequest{Query: req.Query}
			if sessionID != "" {
				sid := sessionID
				run.SessionID = &sid
			}
			out, err := g.agent.RunTyped(ctx, run)
			if err != nil {
				resp = g.wsFailure(req.Type, err, "Agent request failed")
				break
			}
			// Agent 未返回会话 ID 时沿用当前会话
			if out.SessionID != "" {
				sessionID = out.SessionID
			}
			resp = wsResponse{Type: "response", Op: req.Type, Status: http.StatusOK, SessionID: sessionID, Body: out}

		case "history":
			if sessionID == "" {
				resp = wsResponse{Type: "error", Op: req.Type, Status: http.StatusBadRequest, Error: "session_id is required"}
				break
			}
			out, err := g.agent.SessionHistory(ctx, sessionID)
			if err != nil {
				resp = g.wsFailure(req.Type, err, "Failed to retrieve session history")
				break
			}
			resp = wsResponse{Type: "response", Op: req.Type, Status: http.StatusOK, SessionID: sessionID, Body: out}

		case "clear":
			if sessionID == "" {
				resp = wsResponse{Type: "error", Op: req.Type, Status: http.StatusBadRequest, Error: "session_id is required"}
				break
			}
			out, err := g.agent.ClearSession(ctx, sessionID)
			if err != nil {
				resp = g.wsFailure(req.Type, err, "Failed to clear session")
				break
			}
			resp = wsResponse{Type: "response", Op: req.Type, Status: out.StatusCode, SessionID: sessionID, Body: upstream.DecodeBody(out.Body)}

		case "health":
			out, err := g.agent.Health(ctx)
			if err != nil {
				resp = g.wsFailure(req.Type, err, "Agent service is unreachable")
				break
			}
			resp = wsResponse{Type: "response", Op: req.Type, Status: out.StatusCode, Body: upstream.DecodeBody(out.Body)}

		default:
			resp = wsResponse{Type: "error", Op: req.Type, Status: http.StatusBadRequest, Error: "unknown message type"}
		}

		if !g.writeFrame(conn, resp) {
			break
		}
	}
}

// wsFailure 与 HTTP 路由使用相同的错误翻译
func (g *Gateway) wsFailure(op string, err error, message string) wsResponse {
	status, payload := g.agentFailure(err, message)
	resp := wsResponse{Type: "error", Op: op, Status: status, Details: payload["details"]}
	resp.Error, _ = payload["error"].(string)
	if resp.Details == nil {
		resp.Details = payload["message"]
	}
	return resp
}

func (g *Gateway) writeFrame(conn *websocket.Conn, resp wsResponse) bool {
	if err := conn.WriteJSON(resp); err != nil {
		log.Debug().Err(err).Msg("WebSocket 写入失败")
		return false
	}
	return true
}
