// Package telemetry holds the Prometheus collectors shared by the client.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Turn notification outcomes. no_agent and rpc_failed both fall back to a
// local-only turn but are counted apart.
const (
	OutcomeAcknowledged = "acknowledged"
	OutcomeNoAgent      = "no_agent"
	OutcomeRPCFailed    = "rpc_failed"
)

type Metrics struct {
	TurnSignals   *prometheus.CounterVec
	Connects      *prometheus.CounterVec
	Prefetches    *prometheus.CounterVec
	Disconnects   prometheus.Counter
	TurnsStarted  prometheus.Counter
	TurnsFinished *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicectl",
			Name:      "turn_signals_total",
			Help:      "Turn boundary notifications by method and outcome.",
		}, []string{"method", "outcome"}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicectl",
			Name:      "media_connects_total",
			Help:      "Media session connect attempts by result.",
		}, []string{"result"}),
		Prefetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicectl",
			Name:      "ticket_prefetches_total",
			Help:      "Session ticket prefetches after disconnect by result.",
		}, []string{"result"}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicectl",
			Name:      "media_disconnects_total",
			Help:      "Media session disconnect events.",
		}),
		TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicectl",
			Name:      "turns_started_total",
			Help:      "Turns that reached the active state.",
		}),
		TurnsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicectl",
			Name:      "turns_finished_total",
			Help:      "Turns that returned to idle, by how they finished.",
		}, []string{"how"}),
	}
	if reg != nil {
		reg.MustRegister(m.TurnSignals, m.Connects, m.Prefetches, m.Disconnects, m.TurnsStarted, m.TurnsFinished)
	}
	return m
}
