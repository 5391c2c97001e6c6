package mcp

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	gatherer   prometheus.Gatherer
	requests   *prometheus.CounterVec
	toolCalls  *prometheus.CounterVec
	sseStreams prometheus.Gauge
}

// NewMetrics registers the server collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graph_mcp",
			Name:      "jsonrpc_requests_total",
			Help:      "JSON-RPC requests handled, by method.",
		}, []string{"method"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graph_mcp",
			Name:      "tool_calls_total",
			Help:      "tools/call invocations, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		sseStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graph_mcp",
			Name:      "sse_streams_open",
			Help:      "SSE streams currently open.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.toolCalls,
		m.sseStreams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// knownMethods bounds the method label.
var knownMethods = map[string]bool{
	"initialize":                true,
	"notifications/initialized": true,
	"ping":                      true,
	"tools/list":                true,
	"tools/call":                true,
}

func (m *Metrics) observeRequest(method string) {
	if m == nil {
		return
	}
	if !knownMethods[method] {
		method = "other"
	}
	m.requests.WithLabelValues(method).Inc()
}

func (m *Metrics) observeToolCall(tool string, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) streamOpened() {
	if m == nil {
		return
	}
	m.sseStreams.Inc()
}

func (m *Metrics) streamClosed() {
	if m == nil {
		return
	}
	m.sseStreams.Dec()
}
