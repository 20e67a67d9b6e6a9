// Package inference 转发预测请求到托管的推理端点
package inference

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pharmai/gateway/config"
	"github.com/pharmai/gateway/monitor"
	"github.com/pharmai/gateway/upstream"
)

// ErrNotConfigured 未设置 HF_MODEL_URL
var ErrNotConfigured = errors.New("model endpoint is not configured")

// Client 推理端点客户端
type Client struct {
	cfg     config.ModelConfig
	client  *upstream.Client
	monitor *monitor.Monitor
}

// New 创建客户端
func New(cfg config.ModelConfig, mon *monitor.Monitor, opts ...upstream.Option) *Client {
	opts = append([]upstream.Option{upstream.WithToken(cfg.APIKey)}, opts...)
	return &Client{
		cfg:     cfg,
		client:  upstream.New(opts...),
		monitor: mon,
	}
}

// Predict 原样转发请求体
func (c *Client) Predict(ctx context.Context, payload []byte) (*upstream.Response, error) {
	// 在调用时检查，而不是启动时
	if c.cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Do(ctx, http.MethodPost, c.cfg.URL, payload)
	c.monitor.RecordUpstream("model", "predict", time.Since(start), err)
	return resp, err
}
