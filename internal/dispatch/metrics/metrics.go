package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Turns        *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec
	Panics       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustdesk_turns_total",
			Help: "Inbound turns by route (denied, action, command, conversation)",
		}, []string{"route"}),
		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustdesk_turn_duration_seconds",
			Help:    "Time spent handling one inbound turn",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Panics: f.NewCounter(prometheus.CounterOpts{
			Name: "trustdesk_turn_panics_total",
			Help: "Turn handlers that panicked and were recovered",
		}),
	}
}

func (m *Metrics) ObserveTurn(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(route).Inc()
	m.TurnDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) IncPanic() {
	if m == nil {
		return
	}
	m.Panics.Inc()
}
