// Package metrics exports the registry's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/timelock/internal/engine"
)

// Collector holds the Prometheus metrics of one engine.
// Implements engine.Metrics.
type Collector struct {
	// Request lifecycle
	RequestsCreated  prometheus.Counter
	RequestsExecuted *prometheus.CounterVec

	// Rejected operations by error code
	OperationsRejected *prometheus.CounterVec

	// Current delay
	Delay prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		RequestsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timelock_requests_created_total",
				Help: "Total number of execution requests created",
			},
		),

		RequestsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timelock_requests_executed_total",
				Help: "Total number of execution requests executed",
			},
			[]string{"path"}, // path: normal, fast
		),

		OperationsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timelock_operations_rejected_total",
				Help: "Total number of rejected operations",
			},
			[]string{"op", "code"},
		),

		Delay: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "timelock_delay_seconds",
				Help: "Currently configured delay before normal execution",
			},
		),
	}
}

// RequestCreated records a committed create.
func (c *Collector) RequestCreated() {
	c.RequestsCreated.Inc()
}

// RequestExecuted records a committed execution.
func (c *Collector) RequestExecuted(fast bool) {
	path := "normal"
	if fast {
		path = "fast"
	}
	c.RequestsExecuted.WithLabelValues(path).Inc()
}

// DelayChanged records the delay after initialization or a change.
func (c *Collector) DelayChanged(delay time.Duration) {
	c.Delay.Set(delay.Seconds())
}

// OperationRejected records a rejected operation.
func (c *Collector) OperationRejected(op string, code engine.ErrorCode) {
	c.OperationsRejected.WithLabelValues(op, string(code)).Inc()
}
