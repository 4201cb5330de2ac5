// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package strategy

import (
	"sort"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/quorumguard/quorumconfig"
	"github.com/luxfi/quorumguard/quorumerrors"
	"github.com/luxfi/quorumguard/quorummetrics"
)

// Scoring weights (§4.4 "Selection rule"), summed linearly.
const (
	weightConnectivity = 0.30
	weightCentrality   = 0.25
	weightReliability  = 0.25
	weightDiversity    = 0.20
)

const (
	minWeight = 0.1
	maxWeight = 2.0
)

// Strategy is the Quorum Strategy (§4.4), modeled as an explicit injected
// value holding its own latency-trend state rather than a package global,
// the same shape the teacher's Dynamic/AdaptiveDynamic pair uses for its
// own trailing-window adaptation.
type Strategy struct {
	params  quorumconfig.Parameters
	log     log.Logger
	metrics *quorummetrics.Metrics

	mu        sync.Mutex
	latencies []time.Duration
}

// New constructs a Quorum Strategy.
func New(params quorumconfig.Parameters, logger log.Logger, metrics *quorummetrics.Metrics) *Strategy {
	if logger == nil {
		logger = log.NoLog{}
	}
	return &Strategy{
		params:  params,
		log:     logger,
		metrics: metrics,
	}
}

// RecordRoundLatency feeds one round's observed consensus latency into the
// trailing window used by LatencyDegraded (§4.4, k=10 by default).
func (s *Strategy) RecordRoundLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > s.params.LatencyWindow {
		s.latencies = s.latencies[len(s.latencies)-s.params.LatencyWindow:]
	}
}

// LatencyDegraded reports whether the trailing latency window's average
// exceeds the configured threshold (§4.4 "measured consensus latency over
// the last k rounds exceeds a threshold").
func (s *Strategy) LatencyDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) < s.params.LatencyWindow {
		return false
	}
	var total time.Duration
	for _, d := range s.latencies {
		total += d
	}
	avg := total / time.Duration(len(s.latencies))
	return avg > s.params.LatencyDegradedThreshold
}

// byzantineMin is ⌊2n/3⌋+1 for n reachable authenticated peers (§4.4
// "Sizing rule").
func byzantineMin(n int) int {
	return quorumconfig.ByzantineMin(n)
}

// partitionMin is ⌊(n-maxPartitionSize)/2⌋+1 (§4.4 "Sizing rule").
func partitionMin(n, maxPartitionSize int) int {
	remainder := n - maxPartitionSize
	if remainder < 0 {
		remainder = 0
	}
	return remainder/2 + 1
}

// requiredSize implements max(byzantineMin, partitionMin) clamped to the
// configured floor, returning ErrQuorumInfeasible if the Byzantine-safe
// minimum alone exceeds the ceiling rather than silently weakening safety
// (§4.4).
func (s *Strategy) requiredSize(n, maxPartitionSize int) (int, error) {
	bmin := byzantineMin(n)
	pmin := partitionMin(n, maxPartitionSize)

	required := bmin
	if pmin > required {
		required = pmin
	}
	if required < s.params.QuorumFloor {
		required = s.params.QuorumFloor
	}
	if bmin > s.params.QuorumCeiling {
		return 0, quorumerrors.New(
			quorumerrors.KindInsufficientQuorum,
			"byzantine-safe minimum exceeds configured ceiling",
			quorumerrors.ErrQuorumInfeasible,
		)
	}
	if required > s.params.QuorumCeiling {
		required = s.params.QuorumCeiling
	}
	return required, nil
}

// score computes a candidate's linear composite (§4.4 "Selection rule").
// diversity is 1.0 for a peer from an under-represented cluster and 0.0
// otherwise, looked up by the caller in diversityFactor's result.
func score(c CandidateInput, diversity float64) float64 {
	reliability := c.TrustScore * c.RecentUptime
	return weightConnectivity*c.Connectivity +
		weightCentrality*c.Centrality +
		weightReliability*reliability +
		weightDiversity*diversity
}

// weight derives a peer's per-round weight from its composite score and an
// inverse-latency factor (§4.4 "Weights per peer ... derived from
// normalized score and an inverse-latency factor max(0.1, 1 - latency_ms /
// 1000)"), clamped to [0.1, 2.0].
func weight(normalizedScore float64, latencyMs int64) float64 {
	inverseLatency := 1.0 - float64(latencyMs)/1000.0
	if inverseLatency < 0.1 {
		inverseLatency = 0.1
	}
	w := normalizedScore * inverseLatency * maxWeight
	if w < minWeight {
		w = minWeight
	}
	if w > maxWeight {
		w = maxWeight
	}
	return w
}

// diversityFactor returns, for each candidate, 1.0 if its cluster holds
// strictly fewer than the average candidates-per-cluster and 0.0
// otherwise — a simple under-representation signal (§4.4 "prefer peers
// from under-represented clusters").
func diversityFactor(candidates []CandidateInput) map[string]float64 {
	counts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		counts[c.ClusterID]++
	}
	avg := float64(len(candidates)) / float64(len(counts))

	out := make(map[string]float64, len(counts))
	for cluster, count := range counts {
		if float64(count) < avg {
			out[cluster] = 1.0
		} else {
			out[cluster] = 0.0
		}
	}
	return out
}

// Recommend implements the Quorum Strategy's single externally driven
// operation: given the authenticated candidate pool and an estimate of the
// largest suspected network partition, it scores and ranks candidates and
// selects the top required-size set (§4.4).
func (s *Strategy) Recommend(candidates []CandidateInput, maxPartitionSize int) (Membership, error) {
	n := len(candidates)
	required, err := s.requiredSize(n, maxPartitionSize)
	if err != nil {
		s.log.Warn("quorum infeasible", "reachablePeers", n, "ceiling", s.params.QuorumCeiling)
		return Membership{}, err
	}
	if n < required {
		return Membership{}, quorumerrors.New(
			quorumerrors.KindInsufficientQuorum,
			"fewer reachable candidates than the required membership size",
			quorumerrors.ErrInsufficientQuorum,
		)
	}

	diversity := diversityFactor(candidates)

	var maxScore float64
	scored := make([]Selection, 0, n)
	rawScores := make([]float64, n)
	for i, c := range candidates {
		raw := score(c, diversity[c.ClusterID])
		rawScores[i] = raw
		if raw > maxScore {
			maxScore = raw
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}
	for i, c := range candidates {
		normalized := rawScores[i] / maxScore
		scored = append(scored, Selection{
			NodeID: c.NodeID,
			Score:  rawScores[i],
			Weight: weight(normalized, c.LatencyMs),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	members := scored[:required]
	if s.metrics != nil {
		s.metrics.QuorumSize.Set(float64(len(members)))
	}
	s.log.Info("quorum membership recomputed", "size", len(members), "candidates", n)

	out := make([]Selection, len(members))
	copy(out, members)
	return Membership{Members: out}, nil
}

// ShouldRecompute reports whether the named trigger condition (§4.4
// "Adjustment triggers") warrants a fresh Recommend call. The strategy
// never recommends shrinking below byzantineMin; callers that detect
// TriggerPartitionSuspected or TriggerLatencyDegraded should still call
// Recommend and fall back to degraded-mode signaling if it returns
// ErrQuorumInfeasible, rather than shrinking the prior membership directly.
func (s *Strategy) ShouldRecompute(trigger Trigger, connectivity float64) bool {
	switch trigger {
	case TriggerPeerQuarantined:
		return true
	case TriggerLatencyDegraded:
		return s.LatencyDegraded()
	case TriggerPartitionSuspected:
		return connectivity < s.params.ConnectivityFloor
	default:
		return true
	}
}
