package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_active_sessions",
		Help: "Number of call sessions currently active",
	})

	insufficientFundsTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_insufficient_funds_terminations_total",
		Help: "Total number of calls force-terminated by balance exhaustion",
	})

	recordingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_recording_failures_total",
		Help: "Total number of failed recording start/stop requests",
	})

	reconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_reconnections_total",
		Help: "Total number of mid-call transport reconnection episodes",
	})
)
