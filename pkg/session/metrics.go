package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Intent outcomes used as the result label.
const (
	resultOK = "ok"
)

type metrics struct {
	intents  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newMetrics registers on reg; a nil reg keeps the collectors unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		intents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_intents_total",
				Help: "Total number of session intents by outcome",
			},
			[]string{"intent", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_bridge_call_duration_seconds",
				Help:    "Duration of bridge calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"call"},
		),
	}
}

func (m *metrics) intent(intent string, err error) {
	result := resultOK
	if err != nil {
		result = "error"
		if se, ok := err.(*Error); ok {
			result = se.Kind.String()
		}
	}
	m.intents.WithLabelValues(intent, result).Inc()
}

func (m *metrics) call(call string, start time.Time) {
	m.duration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}
