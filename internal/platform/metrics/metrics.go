package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the registration core.
type Metrics struct {
	TransitionsApplied *prometheus.CounterVec
	TransitionsDenied  *prometheus.CounterVec
	TransitionsFailed  *prometheus.CounterVec
	IssuanceRetries    prometheus.Counter
	IssuanceExhausted  prometheus.Counter
	VerificationChecks *prometheus.CounterVec
	ExecuteDuration    prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TransitionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_transitions_applied_total",
			Help: "Registration transitions applied, by target status.",
		}, []string{"target"}),
		TransitionsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_transitions_denied_total",
			Help: "Registration transitions denied by authorization, by capability.",
		}, []string{"capability"}),
		TransitionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_transitions_failed_total",
			Help: "Registration transitions rejected by business rules, by error code.",
		}, []string{"code"}),
		IssuanceRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civreg_issuance_retries_total",
			Help: "Identity number generation retries after uniqueness collisions.",
		}),
		IssuanceExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civreg_issuance_exhausted_total",
			Help: "Identity number issuances abandoned after exhausting retries.",
		}),
		VerificationChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_verifications_total",
			Help: "Identity verification attempts, by result.",
		}, []string{"result"}),
		ExecuteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civreg_execute_duration_seconds",
			Help:    "Duration of workflow Execute calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
