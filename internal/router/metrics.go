package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	classifications *prometheus.CounterVec
	oracleCalls     *prometheus.CounterVec
	latency         prometheus.Histogram
}

// newMetrics registers the router's collectors with reg. A nil reg leaves
// them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rootcause_classifications_total",
			Help: "Classifications by the tier that produced the final label.",
		}, []string{"method"}),
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rootcause_oracle_calls_total",
			Help: "Oracle escalations by result.",
		}, []string{"result"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rootcause_classification_seconds",
			Help:    "End-to-end classification latency.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
	}
}
