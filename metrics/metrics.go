// Package metrics exports marketplace counters and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records one sample per operation. A nil *Collector is valid and
// records nothing.
type Collector struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	volume   *prometheus.CounterVec
	payouts  prometheus.Counter
	gatherer prometheus.Gatherer
}

// New creates a Collector registered on reg. Passing nil uses a private
// registry, which keeps tests from colliding on the global one.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "operations_total",
			Help:      "Marketplace operations by name and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tolmarket",
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing marketplace operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "sale_volume_units_total",
			Help:      "Value settled by completed sales, in base units.",
		}, []string{"kind"}),
		payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "payout_failures_total",
			Help:      "Withdrawals whose payout failed and whose balance was restored.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(c.ops, c.latency, c.volume, c.payouts)
	return c
}

// Observe records one operation outcome.
func (c *Collector) Observe(op, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.ops.WithLabelValues(op, result).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

// Sale adds value to the settled volume for kind ("offer" or "bid").
func (c *Collector) Sale(kind string, value uint64) {
	if c == nil {
		return
	}
	c.volume.WithLabelValues(kind).Add(float64(value))
}

// PayoutFailed counts a failed withdrawal payout.
func (c *Collector) PayoutFailed() {
	if c == nil {
		return
	}
	c.payouts.Inc()
}

// Gatherer exposes the registry for the /metrics endpoint.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.gatherer
}
