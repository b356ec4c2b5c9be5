package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ZonesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizzone_zones_created_total",
		Help: "Number of quiz zones created.",
	})

	ZonesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizzone_zones_finished_total",
		Help: "Number of quiz zones that completed all rounds.",
	})

	RoundTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizzone_round_timeouts_total",
		Help: "Number of rounds resolved by timer expiry.",
	})

	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizzone_broadcasts_total",
		Help: "Number of events fanned out to zone audiences.",
	})

	ConnectionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizzone_connections_dropped_total",
		Help: "Number of connections dropped for write failure or backpressure.",
	})
)
