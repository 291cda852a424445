package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of supervised session processes.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codeclash_active_sessions",
		Help: "Number of running game session processes.",
	})

	// Transitions counts applied and rejected session transitions by event.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeclash_session_transitions_total",
		Help: "Session state transitions by event and result.",
	}, []string{"event", "result"})

	// CheckerRuns counts checker invocations by outcome.
	CheckerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeclash_checker_runs_total",
		Help: "Checker invocations by outcome.",
	}, []string{"outcome"})
)
