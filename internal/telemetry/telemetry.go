// Package telemetry owns the prometheus collectors for the search pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeDegraded = "degraded"
	OutcomeFallback = "fallback"
	OutcomeRejected = "rejected"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	tools     *prometheus.CounterVec
	toolTime  *prometheus.HistogramVec
	repairs   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	phaseTime *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurei_search_requests_total",
			Help: "Search requests by domain and outcome.",
		}, []string{"domain", "outcome"}),
		tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurei_tool_executions_total",
			Help: "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yurei_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurei_tool_repairs_total",
			Help: "Argument repair attempts by tool and outcome.",
		}, []string{"tool", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurei_fallbacks_total",
			Help: "Fallback responses by domain and the stage that failed.",
		}, []string{"domain", "stage"}),
		phaseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yurei_llm_phase_duration_seconds",
			Help:    "Wall time of each LLM phase.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"phase"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.tools, m.toolTime, m.repairs, m.fallbacks, m.phaseTime,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SearchRequest(domain, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(domain, outcome).Inc()
}

func (m *Metrics) ToolExecuted(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tools.WithLabelValues(tool, outcome).Inc()
	m.toolTime.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) Repair(tool, outcome string) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) Fallback(domain, stage string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(domain, stage).Inc()
}

func (m *Metrics) LLMPhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseTime.WithLabelValues(phase).Observe(d.Seconds())
}
