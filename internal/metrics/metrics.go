package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_login_attempts_total",
			Help: "Login attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	keysProvisioned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_keys_provisioned_total",
		Help: "API keys provisioned for first-time GitHub users.",
	})

	keyRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_key_rotations_total",
			Help: "Key rotation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	reconciliationCandidates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_reconciliation_candidates_total",
		Help: "Provisioned remote keys whose local link failed to persist.",
	})
)

// Init registers the dashboard metrics with the default registry.
func Init() {
	prometheus.MustRegister(loginAttempts, keysProvisioned, keyRotations, reconciliationCandidates)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records one login attempt.
func ObserveLogin(method, outcome string) {
	loginAttempts.WithLabelValues(method, outcome).Inc()
}

// ObserveProvision records one successful key provisioning.
func ObserveProvision() {
	keysProvisioned.Inc()
}

// ObserveRotation records one rotation attempt.
func ObserveRotation(outcome string) {
	keyRotations.WithLabelValues(outcome).Inc()
}

// ObserveReconciliationCandidate records a half-provisioned key needing
// operator attention.
func ObserveReconciliationCandidate() {
	reconciliationCandidates.Inc()
}
