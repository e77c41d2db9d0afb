// Package metrics exposes Prometheus instrumentation for the protection layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pqshield/pkg/platform/circuit"
)

// Metrics holds all Prometheus metrics for crypto operations.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	FallbacksTotal    *prometheus.CounterVec
	CircuitState      *prometheus.GaugeVec
	OperationDuration *prometheus.HistogramVec
}

// New creates and registers all crypto metrics on the default registerer.
func New() *Metrics {
	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pqshield_crypto_operations_total",
			Help: "Total crypto operations by operation, algorithm, and outcome",
		}, []string{"operation", "algorithm", "outcome"}),
		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pqshield_crypto_fallbacks_total",
			Help: "Total operations that fell back to the classical provider, by reason",
		}, []string{"reason"}),
		CircuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pqshield_circuit_state",
			Help: "Circuit breaker state per capability (0=closed, 1=half-open, 2=open)",
		}, []string{"capability"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pqshield_crypto_operation_duration_seconds",
			Help:    "Latency of crypto operations",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation", "algorithm"}),
	}
}

// ObserveOperation records one completed operation.
func (m *Metrics) ObserveOperation(operation, algorithm, outcome string, duration time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, algorithm, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation, algorithm).Observe(duration.Seconds())
}

// IncrementFallback counts a classical fallback by reason.
func (m *Metrics) IncrementFallback(reason string) {
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

// SetCircuitState mirrors a breaker state into the gauge.
func (m *Metrics) SetCircuitState(capability string, state circuit.State) {
	var v float64
	switch state {
	case circuit.StateHalfOpen:
		v = 1
	case circuit.StateOpen:
		v = 2
	}
	m.CircuitState.WithLabelValues(capability).Set(v)
}
