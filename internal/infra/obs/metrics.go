package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	messages     *prometheus.CounterVec
	msgLatency   *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentledger_http_request_duration_seconds",
			Help:    "Request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_messages_total",
			Help: "Dispatched commands and queries",
		}, []string{"kind", "key", "outcome"}),
		msgLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentledger_message_duration_seconds",
			Help:    "Command and query handling latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "key"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_outcomes_total",
			Help: "Business outcomes of settlements, withdrawals and reconciliation",
		}, []string{"flow", "outcome"}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpLatency, m.messages, m.msgLatency, m.outcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveMessage records one command or query dispatch.
func (m *Metrics) ObserveMessage(kind, key, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind, key, outcome).Inc()
	m.msgLatency.WithLabelValues(kind, key).Observe(elapsed.Seconds())
}

// Outcomes returns a counter for one business flow ("settlement", "withdrawal").
func (m *Metrics) Outcomes(flow string) OutcomeCounter {
	return OutcomeCounter{metrics: m, flow: flow}
}

type OutcomeCounter struct {
	metrics *Metrics
	flow    string
}

func (c OutcomeCounter) Inc(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.outcomes.WithLabelValues(c.flow, outcome).Inc()
}
