package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verdicts        *prometheus.CounterVec
	FlaggedTotal    prometheus.Counter
	ContentBypasses prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustdesk_intake_verdicts_total",
			Help: "Inbound turns by intake verdict and reason",
		}, []string{"verdict", "reason"}),
		FlaggedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trustdesk_intake_flagged_total",
			Help: "Submitters escalated to a permanent throttle",
		}),
		ContentBypasses: f.NewCounter(prometheus.CounterOpts{
			Name: "trustdesk_intake_content_bypass_total",
			Help: "Turns from exempt submitters that skipped content validation",
		}),
	}
}

func (m *Metrics) IncVerdict(verdict, reason string) {
	m.Verdicts.WithLabelValues(verdict, reason).Inc()
}

func (m *Metrics) IncFlagged() {
	m.FlaggedTotal.Inc()
}

func (m *Metrics) IncBypass() {
	m.ContentBypasses.Inc()
}
