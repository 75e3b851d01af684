package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/forest6511/cyfer/pkg/bridge"
)

type metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newMetrics registers on reg; a nil reg keeps the collectors unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyfer_engine_tool_calls_total",
				Help: "Total number of engine tool calls by outcome code",
			},
			[]string{"tool", "code"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyfer_engine_tool_duration_seconds",
				Help:    "Duration of engine tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"tool"},
		),
	}
}

// observe records one call. An empty code means success.
func (m *metrics) observe(tool string, start time.Time, err error) {
	code := bridge.CodeOf(err)
	if code == "" {
		code = "ok"
	}
	m.calls.WithLabelValues(tool, code).Inc()
	m.duration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
