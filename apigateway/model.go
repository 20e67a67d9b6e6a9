package apigateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pharmai/gateway/inference"
	"github.com/pharmai/gateway/upstream"
)

// handlePredict 把请求体原样转发到推理端点
func (g *Gateway) handlePredict(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Error(err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "request body is required"})
		return
	}

	resp, err := g.model.Predict(c.Request.Context(), body)
	if err != nil {
		status, payload := predictFailure(err)
		c.JSON(status, payload)
		return
	}

	var result any = json.RawMessage(resp.Body)
	if !json.Valid(resp.Body) {
		result = upstream.DecodeBody(resp.Body)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

// predictFailure 上游 HTTP 错误透传状态码和响应体；拒绝连接 503，超时 504，其他传输错误 502
func predictFailure(err error) (int, gin.H) {
	if errors.Is(err, inference.ErrNotConfigured) {
		return http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()}
	}

	e, ok := upstream.AsError(err)
	if !ok {
		return http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()}
	}

	switch e.Kind {
	case upstream.KindStatus:
		return e.StatusCode, gin.H{
			"success": false,
			"error":   fmt.Sprintf("inference endpoint returned %d %s", e.StatusCode, http.StatusText(e.StatusCode)),
			"details": upstream.DecodeBody(e.Body),
		}
	case upstream.KindRefused:
		return e.HTTPStatus(), gin.H{
			"success": false,
			"error":   "Inference endpoint is unreachable",
			"message": "Check that HF_MODEL_URL points at a running inference endpoint",
			"details": e.Error(),
		}
	case upstream.KindTimeout:
		return e.HTTPStatus(), gin.H{
			"success": false,
			"error":   "Inference endpoint timed out",
			"details": e.Error(),
		}
	default:
		return e.HTTPStatus(), gin.H{"success": false, "error": e.Error()}
	}
}
