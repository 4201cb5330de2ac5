// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorummetrics wires the quorum core's observable surface into
// Prometheus, the way the teacher's metrics package wires the sampling
// engine: a thin struct holding pre-registered collectors, injected with a
// prometheus.Registerer rather than reaching for a global registry.
package quorummetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the quorum core updates during a round.
type Metrics struct {
	RoundLatency       prometheus.Histogram
	RoundsCommitted     prometheus.Counter
	RoundsAborted       prometheus.Counter
	PeersQuarantined    prometheus.Counter
	VotesRejected       prometheus.Counter
	AuditChainLength    prometheus.Gauge
	QuorumSize          prometheus.Gauge
}

// New creates and registers the quorum core's metrics against reg. A nil
// reg registers against prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RoundLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quorum",
			Subsystem: "consensus",
			Name:      "round_latency_seconds",
			Help:      "Time from proposal open to commit or abort.",
			Buckets:   prometheus.DefBuckets,
		}),
		RoundsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "consensus",
			Name:      "rounds_committed_total",
			Help:      "Rounds that reached consensus and committed.",
		}),
		RoundsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "consensus",
			Name:      "rounds_aborted_total",
			Help:      "Rounds that aborted without consensus.",
		}),
		PeersQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "peer",
			Name:      "quarantined_total",
			Help:      "Peers moved into the quarantined state.",
		}),
		VotesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "consensus",
			Name:      "votes_rejected_total",
			Help:      "Votes dropped for failing signature or window checks.",
		}),
		AuditChainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quorum",
			Subsystem: "audit",
			Name:      "chain_length",
			Help:      "Number of records currently appended to the audit chain.",
		}),
		QuorumSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quorum",
			Subsystem: "strategy",
			Name:      "recommended_size",
			Help:      "Membership size most recently recommended by the quorum strategy.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.RoundLatency, m.RoundsCommitted, m.RoundsAborted,
		m.PeersQuarantined, m.VotesRejected, m.AuditChainLength, m.QuorumSize,
	} {
		// Registration can race with reuse of a shared registry across
		// tests; a duplicate registration is not a usage error here.
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = are
				continue
			}
		}
	}

	return m
}
