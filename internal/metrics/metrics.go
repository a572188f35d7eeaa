// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	// Calls counts gateway invocations by action and outcome
	// (ok, amazon_error, transport_error, parse_error, cached).
	Calls *prometheus.CounterVec

	// CacheHits and CacheMisses count result-cache lookups by action.
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// ThrottleWait observes the time spent sleeping in the throttler.
	ThrottleWait *prometheus.HistogramVec
}

// New registers the gateway collectors with the given registerer. Passing
// nil uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broccoli",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Gateway invocations by action and outcome.",
		}, []string{"action", "outcome"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broccoli",
			Subsystem: "gateway",
			Name:      "cache_hits_total",
			Help:      "Result cache hits by action.",
		}, []string{"action"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broccoli",
			Subsystem: "gateway",
			Name:      "cache_misses_total",
			Help:      "Result cache misses by action.",
		}, []string{"action"}),

		ThrottleWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "broccoli",
			Subsystem: "gateway",
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting for the per-action quota.",
			Buckets:   []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"action"}),
	}
}
