/*
Package monitor - 网关监控

Prometheus 指标：入站路由请求数/延迟，上游调用失败数。
*/
package monitor

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pharmai/gateway/upstream"
)

// Monitor 监控器。nil 指针上的记录方法是空操作。
type Monitor struct {
	registry *prometheus.Registry

	// Prometheus 指标
	requestCounter   *prometheus.CounterVec
	latencyHistogram *prometheus.HistogramVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec

	stats Stats
}

// Stats 进程内累计统计
type Stats struct {
	TotalRequests  int64
	TotalErrors    int64
	UpstreamErrors int64
	StartTime      time.Time
}

// New 创建监控器，每个实例使用独立的 Registry
func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		stats:    Stats{StartTime: time.Now()},
	}

	m.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmai_gateway_requests_total",
			Help: "Total number of inbound requests",
		},
		[]string{"route", "status"},
	)

	m.latencyHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmai_gateway_request_latency_seconds",
			Help:    "Inbound request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmai_gateway_upstream_latency_seconds",
			Help:    "Outbound call latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"upstream", "op"},
	)

	m.upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmai_gateway_upstream_errors_total",
			Help: "Total number of failed outbound calls",
		},
		[]string{"upstream", "kind"},
	)

	m.registry.MustRegister(
		m.requestCounter,
		m.latencyHistogram,
		m.upstreamLatency,
		m.upstreamErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler 返回 /metrics 处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 暴露给测试
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// ============================================================================
// 记录方法
// ============================================================================

// RecordRequest 记录一次入站请求
func (m *Monitor) RecordRequest(route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}

	atomic.AddInt64(&m.stats.TotalRequests, 1)
	if status >= http.StatusInternalServerError {
		atomic.AddInt64(&m.stats.TotalErrors, 1)
	}

	m.requestCounter.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latencyHistogram.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordUpstream 记录一次出站调用
func (m *Monitor) RecordUpstream(name, op string, latency time.Duration, err error) {
	if m == nil {
		return
	}

	m.upstreamLatency.WithLabelValues(name, op).Observe(latency.Seconds())
	if err == nil {
		return
	}

	kind := "internal"
	if e, ok := upstream.AsError(err); ok {
		kind = e.Kind.String()
	}
	atomic.AddInt64(&m.stats.UpstreamErrors, 1)
	m.upstreamErrors.WithLabelValues(name, kind).Inc()
}

// Snapshot 返回统计快照
func (m *Monitor) Snapshot() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		TotalRequests:  atomic.LoadInt64(&m.stats.TotalRequests),
		TotalErrors:    atomic.LoadInt64(&m.stats.TotalErrors),
		UpstreamErrors: atomic.LoadInt64(&m.stats.UpstreamErrors),
		StartTime:      m.stats.StartTime,
	}
}

// Uptime 运行时长
func (s Stats) Uptime() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return time.Since(s.StartTime)
}
