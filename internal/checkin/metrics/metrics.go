package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Resolutions    *prometheus.CounterVec
	Actions        *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	NoOps          *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_resolutions_total",
			Help: "Console lookups by resolved scenario",
		}, []string{"scenario"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_actions_total",
			Help: "Console actions by outcome",
		}, []string{"action", "outcome"}),
		ActionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkpoint_action_duration_seconds",
			Help:    "Time spent executing console actions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"action"}),
		NoOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_action_noops_total",
			Help: "Repeated idempotency tokens answered without a write",
		}, []string{"action"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_notifications_total",
			Help: "Attendee notifications by kind and result",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) IncResolution(scenario string) {
	m.Resolutions.WithLabelValues(scenario).Inc()
}

func (m *Metrics) IncAction(action, outcome string) {
	m.Actions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveActionDuration(action string, seconds float64) {
	m.ActionDuration.WithLabelValues(action).Observe(seconds)
}

func (m *Metrics) IncNoOp(action string) {
	m.NoOps.WithLabelValues(action).Inc()
}

func (m *Metrics) IncNotification(kind, result string) {
	m.Notifications.WithLabelValues(kind, result).Inc()
}
