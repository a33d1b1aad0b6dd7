// Package metrics exports the prometheus collectors shared by the engine,
// the distribution protocol and the relay hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsDistributed counts the graph rows installed into local parts by
	// the distribution protocol.
	RowsDistributed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distapsp_distribution_rows_total",
		Help: "The total number of graph rows installed by the distribution protocol",
	})

	// RoundsCompleted counts completed broadcast/relax rounds.
	RoundsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distapsp_engine_rounds_total",
		Help: "The total number of completed broadcast/relax rounds",
	})

	// RoundDuration tracks the time spent in a single broadcast/relax round.
	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "distapsp_engine_round_seconds",
		Help:    "The time spent broadcasting and relaxing a single row",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	// RelayedMessages counts the envelopes relayed by the hub by kind.
	RelayedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distapsp_hub_relayed_messages_total",
		Help: "The total number of envelopes relayed by the hub",
	}, []string{"kind"})

	// RelayedValues counts the payload values relayed by the hub by kind.
	RelayedValues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distapsp_hub_relayed_values_total",
		Help: "The total number of payload values relayed by the hub",
	}, []string{"kind"})

	// ActiveGroups tracks the number of process groups coordinated by the hub.
	ActiveGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distapsp_hub_active_groups",
		Help: "The number of process groups currently coordinated by the hub",
	})
)
