package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_decisions_total",
		Help: "Total number of turn decisions by next action and resulting stage",
	}, []string{"action", "stage"})

	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_extractions_total",
		Help: "Total number of turn extractions by source path",
	}, []string{"source"})

	replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_replays_total",
		Help: "Total number of turns answered from the replay cache",
	}, []string{"route"})
)
