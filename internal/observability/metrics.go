package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Diagnostic kinds used as the "kind" label.
const (
	KindError   = "error"
	KindWarning = "warning"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	queries     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	diagnostics *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshgate",
			Name:      "queries_total",
			Help:      "Dispatched queries by backend, operation and outcome.",
		}, []string{"backend", "operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshgate",
			Name:      "query_duration_seconds",
			Help:      "Time spent in the backend adapter.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"backend", "operation"}),
		diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshgate",
			Name:      "diagnostics_total",
			Help:      "Errors and warnings returned to callers, by code.",
		}, []string{"backend", "kind", "code"}),
	}
}

// ObserveQuery records one dispatched query.
func (m *Metrics) ObserveQuery(backend, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(backend, operation, outcome).Inc()
	m.duration.WithLabelValues(backend, operation).Observe(elapsed.Seconds())
}

// ObserveDiagnostic records one error or warning.
func (m *Metrics) ObserveDiagnostic(backend, kind, code string) {
	if m == nil {
		return
	}
	m.diagnostics.WithLabelValues(backend, kind, code).Inc()
}
