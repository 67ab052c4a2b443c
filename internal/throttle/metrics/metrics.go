package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Failures *prometheus.CounterVec
	Blocks   *prometheus.CounterVec
	Rejected *prometheus.CounterVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_throttle_failures_total",
			Help: "Failures counted against a throttle policy",
		}, []string{"policy"}),
		Blocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_throttle_blocks_total",
			Help: "Keys blocked after spending their failure budget",
		}, []string{"policy"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_throttle_rejected_total",
			Help: "Calls rejected because the key was blocked",
		}, []string{"policy"}),
	}
}

func (m *Metrics) IncFailure(policy string) { m.Failures.WithLabelValues(policy).Inc() }
func (m *Metrics) IncBlock(policy string)   { m.Blocks.WithLabelValues(policy).Inc() }
func (m *Metrics) IncRejected(policy string) {
	m.Rejected.WithLabelValues(policy).Inc()
}
