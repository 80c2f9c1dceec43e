package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Deliveries   *prometheus.CounterVec
	BreakerTrips prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustdesk_broadcast_deliveries_total",
			Help: "Review card deliveries to reviewers by result (delivered, failed, skipped)",
		}, []string{"result"}),
		BreakerTrips: f.NewCounter(prometheus.CounterOpts{
			Name: "trustdesk_broadcast_breaker_trips_total",
			Help: "Times a reviewer's delivery breaker opened",
		}),
	}
}

func (m *Metrics) IncDelivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncBreakerTrip() {
	if m == nil {
		return
	}
	m.BreakerTrips.Inc()
}
