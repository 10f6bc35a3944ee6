package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the authorization module. All methods
// are nil-safe so wiring metrics stays optional.
type Metrics struct {
	// Requests created, by action kind
	RequestsCreated *prometheus.CounterVec

	// Decisions reached, by decision value
	Decisions *prometheus.CounterVec

	// Terminal failures after the retry budget is spent
	RequestsFailed prometheus.Counter

	// Full evaluation latency including feeds and consensus
	EvaluateLatency prometheus.Histogram
}

// New creates a Metrics instance with all authorization metrics registered.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sigil_authz_requests_created_total",
			Help: "Authorization requests accepted, by action kind",
		}, []string{"action"}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sigil_authz_decisions_total",
			Help: "Evaluation decisions reached, by decision value",
		}, []string{"decision"}),

		RequestsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sigil_authz_requests_failed_total",
			Help: "Requests moved to FAILED after exhausting retries",
		}),

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigil_authz_evaluate_duration_seconds",
			Help:    "Duration of one evaluation pass, feeds and consensus included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// IncrementCreated records an accepted authorization request.
func (m *Metrics) IncrementCreated(action string) {
	if m != nil {
		m.RequestsCreated.WithLabelValues(action).Inc()
	}
}

// IncrementDecision records a reached decision.
func (m *Metrics) IncrementDecision(decision string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision).Inc()
	}
}

// IncrementFailed records a request that exhausted its retry budget.
func (m *Metrics) IncrementFailed() {
	if m != nil {
		m.RequestsFailed.Inc()
	}
}

// ObserveEvaluateLatency records the duration of one evaluation pass.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
