package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	outcomeOK      = "ok"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

type metrics struct {
	registry      *prometheus.Registry
	estimates     *prometheus.CounterVec
	configUpdates *prometheus.CounterVec
	estimatedFees prometheus.Histogram
}

// newMetrics registers the server's collectors on a registry of its own so
// several servers can live in one process.
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "honorarium",
			Name:      "estimates_total",
			Help:      "Total number of estimate requests by outcome.",
		}, []string{"outcome"}),
		configUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "honorarium",
			Name:      "config_updates_total",
			Help:      "Total number of committed config edits by field.",
		}, []string{"field"}),
		estimatedFees: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "honorarium",
			Name:      "estimated_fee_total",
			Help:      "Distribution of the total honorarium of computed estimates in euros.",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
		}),
	}
	for _, outcome := range []string{outcomeOK, outcomeInvalid, outcomeError} {
		m.estimates.WithLabelValues(outcome)
	}
	m.registry.MustRegister(
		m.estimates,
		m.configUpdates,
		m.estimatedFees,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
