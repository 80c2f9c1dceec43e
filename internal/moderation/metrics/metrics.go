package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Submissions  *prometheus.CounterVec
	Decisions    *prometheus.CounterVec
	InfoRequests *prometheus.CounterVec
	Denials      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustdesk_submissions_finalized_total",
			Help: "Submissions accepted into the moderation queue",
		}, []string{"kind"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustdesk_moderation_decisions_total",
			Help: "Reviewer decisions by kind and outcome",
		}, []string{"kind", "outcome"}),
		InfoRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustdesk_info_requests_total",
			Help: "Info request lifecycle events",
		}, []string{"event"}),
		Denials: f.NewCounter(prometheus.CounterOpts{
			Name: "trustdesk_moderation_denied_total",
			Help: "Moderation calls refused because the caller is not a reviewer",
		}),
	}
}

func (m *Metrics) IncSubmission(kind string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDecision(kind, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncInfoRequest(event string) {
	if m == nil {
		return
	}
	m.InfoRequests.WithLabelValues(event).Inc()
}

func (m *Metrics) IncDenied() {
	if m == nil {
		return
	}
	m.Denials.Inc()
}
