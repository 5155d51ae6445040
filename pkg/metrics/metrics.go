package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/dalle-sse/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the server. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	httpInfl    *prometheus.GaugeVec
	mcpReqCnt   *prometheus.CounterVec
	mcpReqDur   *prometheus.HistogramVec
	toolExecCnt *prometheus.CounterVec
	toolExecDur *prometheus.HistogramVec
	sessions    prometheus.Gauge
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	events      *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:    r,
		httpReqCnt:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
		httpInfl:    prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"}),
		mcpReqCnt:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "mcp_requests_total"}, []string{"method"}),
		mcpReqDur:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "mcp_request_duration_seconds", Buckets: buckets}, []string{"method"}),
		toolExecCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tool_execution_total"}, []string{"tool_name", "status"}),
		toolExecDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "tool_execution_duration_seconds", Buckets: buckets}, []string{"tool_name", "status"}),
		sessions:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sse_sessions_active"}),
		published:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "broker_messages_published_total"}, []string{"status"}),
		dropped:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "broker_messages_dropped_total"}),
		events:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sse_events_written_total"}, []string{"event"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)
	r.MustRegister(m.mcpReqCnt, m.mcpReqDur)
	r.MustRegister(m.toolExecCnt, m.toolExecDur)
	r.MustRegister(m.sessions, m.published, m.dropped, m.events)
	return m
}

func (m *Metrics) McpReqDone(method string, since time.Time) {
	if m == nil {
		return
	}
	m.mcpReqCnt.WithLabelValues(method).Inc()
	m.mcpReqDur.WithLabelValues(method).Observe(time.Since(since).Seconds())
}

func (m *Metrics) ToolExecDone(toolName string, since time.Time, status string) {
	if m == nil {
		return
	}
	m.toolExecCnt.WithLabelValues(toolName, status).Inc()
	m.toolExecDur.WithLabelValues(toolName, status).Observe(time.Since(since).Seconds())
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// Published records one publish attempt. Zero receivers counts as a drop.
func (m *Metrics) Published(receivers int64, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.published.WithLabelValues("error").Inc()
	case receivers == 0:
		m.published.WithLabelValues("ok").Inc()
		m.dropped.Inc()
	default:
		m.published.WithLabelValues("ok").Inc()
	}
}

func (m *Metrics) EventWritten(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
