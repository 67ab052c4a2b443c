package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Reserved   prometheus.Counter
	Replayed   prometheus.Counter
	Released   prometheus.Counter
	Completed  prometheus.Counter
	InFlight   prometheus.Counter
	Mismatched prometheus.Counter
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Reserved: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_idempotency_reserved_total",
			Help: "Tokens reserved on first sight",
		}),
		Replayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_idempotency_replayed_total",
			Help: "Repeated tokens answered without re-applying the action",
		}),
		Released: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_idempotency_released_total",
			Help: "Reservations released after a failed action",
		}),
		Completed: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_idempotency_completed_total",
			Help: "Reservations marked completed after the action was applied",
		}),
		InFlight: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_idempotency_in_flight_total",
			Help: "Retries rejected because the first call was still running",
		}),
		Mismatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_idempotency_mismatched_total",
			Help: "Tokens reused for a different request",
		}),
	}
}

func (m *Metrics) IncReserved()   { m.Reserved.Inc() }
func (m *Metrics) IncReplayed()   { m.Replayed.Inc() }
func (m *Metrics) IncReleased()   { m.Released.Inc() }
func (m *Metrics) IncCompleted()  { m.Completed.Inc() }
func (m *Metrics) IncInFlight()   { m.InFlight.Inc() }
func (m *Metrics) IncMismatched() { m.Mismatched.Inc() }
