// Package metrics provides the prometheus collectors for authorization
// decisions and tenant store failures.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set of decision outcomes.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeBypassed = "bypassed"
	OutcomeError    = "error"
)

// Metrics wraps the prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decisionsTotal   *prometheus.CounterVec
	storeErrorsTotal *prometheus.CounterVec
	failOpenTotal    prometheus.Counter
}

// New constructs the collectors under namespace and registers them with a
// new registry.
func New(namespace string) *Metrics {
	m := Metrics{
		registry: prometheus.NewRegistry(),

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authz_decisions_total",
				Help:      "Total number of authorization decisions by command and outcome",
			},
			[]string{"command", "outcome"},
		),

		storeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_store_errors_total",
				Help:      "Total number of tenant store failures seen while authorizing",
			},
			[]string{"op"},
		),

		failOpenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authz_fail_open_total",
				Help:      "Total number of requests allowed because the tenant store failed",
			},
		),
	}

	m.registry.MustRegister(m.decisionsTotal, m.storeErrorsTotal, m.failOpenTotal)

	return &m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Decision counts one authorization outcome for the command.
func (m *Metrics) Decision(command string, outcome string) {
	if m == nil {
		return
	}

	m.decisionsTotal.WithLabelValues(command, outcome).Inc()
}

// StoreError counts a tenant store failure for the lookup op.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}

	m.storeErrorsTotal.WithLabelValues(op).Inc()
}

// FailOpen counts a request allowed under the fail open policy.
func (m *Metrics) FailOpen() {
	if m == nil {
		return
	}

	m.failOpenTotal.Inc()
}
