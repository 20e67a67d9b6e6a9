/*
Package upstream - 出站 HTTP 客户端

网关对推理端点和 Agent 服务的每一次调用都经过这里：
- 统一设置 Content-Type / Bearer Token
- 把拒绝连接、超时、非 2xx 响应归类为 *Error
*/
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Response 上游 2xx 响应
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DefaultMaxBodySize 单个上游响应体的读取上限
const DefaultMaxBodySize = 32 << 20

// ErrBodyTooLarge 上游响应体超过上限
var ErrBodyTooLarge = errors.New("upstream response body exceeds size limit")

// Client 上游客户端
type Client struct {
	token       string
	httpClient  *http.Client
	maxBodySize int64
}

// Option 客户端选项
type Option func(*Client)

// WithToken 设置 Bearer Token，空串表示不发送
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxBodySize 设置响应体读取上限
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// New 创建客户端。超时由调用方的 context 决定。
func New(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{}, maxBodySize: DefaultMaxBodySize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do 发送请求。body 为 nil 时不带请求体。
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(method, classify(ctx, url, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, c.fail(method, classify(ctx, url, err))
	}
	if int64(len(data)) > c.maxBodySize {
		return nil, c.fail(method, &Error{
			Kind:       KindTransport,
			StatusCode: resp.StatusCode,
			URL:        url,
			Err:        ErrBodyTooLarge,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(method, &Error{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			URL:        url,
			Body:       data,
		})
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := RequestIDFromContext(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
}

// fail 每次失败只记录一行诊断日志，不记录载荷
func (c *Client) fail(method string, e *Error) error {
	ev := log.Warn().
		Str("method", method).
		Str("url", e.URL).
		Str("kind", e.Kind.String())
	if e.StatusCode != 0 {
		ev = ev.Int("status", e.StatusCode)
	}
	if e.Err != nil {
		ev = ev.AnErr("cause", e.Err)
	}
	ev.Msg("上游调用失败")
	return e
}

// AsError 提取 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

type requestIDKey struct{}

// ContextWithRequestID 让出站请求携带 X-Request-ID
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext 读取请求 ID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// DecodeBody 把上游响应体解析为任意 JSON 值，非 JSON 时返回字符串，空体返回 nil
func DecodeBody(body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
