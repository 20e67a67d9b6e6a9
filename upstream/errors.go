package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Kind 失败类别
type Kind int

const (
	// KindTransport 其他传输层错误
	KindTransport Kind = iota
	// KindRefused 上游未监听
	KindRefused
	// KindTimeout 超过调用方截止时间
	KindTimeout
	// KindStatus 上游返回非 2xx
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindRefused:
		return "refused"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "status"
	default:
		return "transport"
	}
}

// maxBodyInMessage 错误消息里最多带多少字节的上游响应体
const maxBodyInMessage = 512

// Error 上游失败
type Error struct {
	Kind       Kind
	StatusCode int
	URL        string
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		body := strings.TrimSpace(string(e.Body))
		if len(body) > maxBodyInMessage {
			body = body[:maxBodyInMessage] + "..."
		}
		if body == "" {
			return fmt.Sprintf("upstream %s responded %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
		}
		return fmt.Sprintf("upstream %s responded %d: %s", e.URL, e.StatusCode, body)
	case KindRefused:
		return fmt.Sprintf("upstream %s refused the connection", e.URL)
	case KindTimeout:
		return fmt.Sprintf("upstream %s timed out", e.URL)
	default:
		return fmt.Sprintf("upstream %s request failed: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus 映射为网关响应状态码
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindStatus:
		return e.StatusCode
	case KindRefused:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func classify(ctx context.Context, url string, err error) *Error {
	e := &Error{Kind: KindTransport, URL: url, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Kind = KindRefused
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		e.Kind = KindTimeout
	}
	return e
}
