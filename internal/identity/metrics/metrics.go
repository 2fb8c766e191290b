package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for identity lifecycle transitions.
// All methods are nil-safe so tests can run without a registry.
type Metrics struct {
	transitions       *prometheus.CounterVec
	verifyFailures    prometheus.Counter
	rejectedMutations prometheus.Counter
}

// New creates and registers all identity lifecycle metrics.
func New() *Metrics {
	return &Metrics{
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veribio_identity_transitions_total",
			Help: "Identity state transitions by target state",
		}, []string{"to"}),
		verifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veribio_identity_verify_failures_total",
			Help: "Biometric verifications rejected as mismatches",
		}),
		rejectedMutations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veribio_identity_rejected_mutations_total",
			Help: "Mutations rejected because the identity is revoked",
		}),
	}
}

func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncVerifyFailure() {
	if m == nil {
		return
	}
	m.verifyFailures.Inc()
}

func (m *Metrics) IncRejectedMutation() {
	if m == nil {
		return
	}
	m.rejectedMutations.Inc()
}
