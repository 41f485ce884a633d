package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はルーターのPrometheusメトリクス
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backendCalls    *prometheus.CounterVec
	connects        *prometheus.CounterVec
}

// NewMetrics はメトリクスを作成し reg に登録する
// reg が nil の場合は登録しない
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_agent_requests_total",
				Help: "Total number of routed requests by terminal state",
			},
			[]string{"state"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_agent_request_duration_seconds",
				Help:    "End-to-end routing duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"state"},
		),
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_agent_backend_calls_total",
				Help: "Total number of backend operation calls",
			},
			[]string{"backend", "operation", "status"},
		),
		connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_agent_backend_connects_total",
				Help: "Total number of backend connection attempts",
			},
			[]string{"backend", "result"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.requestDuration, m.backendCalls, m.connects)
	}
	return m
}

func (m *Metrics) observeRequest(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(state).Inc()
	m.requestDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (m *Metrics) observeCall(backend, operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.backendCalls.WithLabelValues(backend, operation, status).Inc()
}

func (m *Metrics) observeConnect(backend string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.connects.WithLabelValues(backend, result).Inc()
}
