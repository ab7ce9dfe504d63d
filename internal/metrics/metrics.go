// Package metrics exposes Prometheus collectors for the lifecycle engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors incremented by the engine and adapters.
//
// A nil *Metrics is valid and turns every increment into a no-op so tests
// and embedded uses can skip registration.
type Metrics struct {
	lifecycleOps      *prometheus.CounterVec
	publishFailures   prometheus.Counter
	advisoryFallbacks *prometheus.CounterVec
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardflow",
			Name:      "lifecycle_operations_total",
			Help:      "Lifecycle operations by operation, item kind, and outcome.",
		}, []string{"op", "kind", "outcome"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boardflow",
			Name:      "event_publish_failures_total",
			Help:      "Pipeline change events that could not be delivered.",
		}),
		advisoryFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardflow",
			Name:      "advisory_call_fallbacks_total",
			Help:      "Advisory remote calls replaced by their safe default.",
		}, []string{"action"}),
	}
	if reg != nil {
		reg.MustRegister(m.lifecycleOps, m.publishFailures, m.advisoryFallbacks)
	}
	return m
}

// ObserveOp counts one lifecycle operation outcome.
func (m *Metrics) ObserveOp(op, kind, outcome string) {
	if m == nil {
		return
	}
	m.lifecycleOps.WithLabelValues(op, kind, outcome).Inc()
}

// ObservePublishFailure counts one dropped change event.
func (m *Metrics) ObservePublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// ObserveAdvisoryFallback counts one advisory call served by its default.
func (m *Metrics) ObserveAdvisoryFallback(action string) {
	if m == nil {
		return
	}
	m.advisoryFallbacks.WithLabelValues(action).Inc()
}
