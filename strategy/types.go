// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package strategy implements the Quorum Strategy (§4.4): given network,
// reliability, and fault-tolerance inputs it recommends how many and which
// peers should participate in the next consensus round. It never talks to
// peers directly — it reads the Peer Registry's authenticated set and
// produces a QuorumMembership for the Consensus Engine to drive.
package strategy

import (
	"github.com/luxfi/ids"
)

// CandidateInput is one authenticated peer's topology and reliability
// signal, gathered by the caller from the Peer Registry and a network
// -topology source external to this package.
type CandidateInput struct {
	NodeID ids.NodeID

	// Connectivity is edges incident / total peers, ∈ [0, 1].
	Connectivity float64
	// Centrality is simple degree centrality as a fraction of the maximum
	// possible, ∈ [0, 1].
	Centrality float64
	// TrustScore and RecentUptime combine into observed reliability; both
	// ∈ [0, 1].
	TrustScore   float64
	RecentUptime float64
	// ClusterID groups peers for the diversity factor; peers from
	// under-represented clusters score higher.
	ClusterID string
	// LatencyMs is the peer's most recently observed round-trip latency.
	LatencyMs int64
}

// Selection is one member of a recommended QuorumMembership: a peer plus
// its derived weight (§3: "per-peer weights ∈ [0.1, 2.0]").
type Selection struct {
	NodeID ids.NodeID
	Weight float64
	Score  float64
}

// Membership is the QuorumMembership (§3): "ordered set of PeerRecords plus
// per-peer weights, derived, recomputed, never mutated in place." Recommend
// returns a fresh value rather than mutating an existing one.
type Membership struct {
	Members []Selection
}

// NodeIDs returns the membership's node identities in selection order, the
// shape the Consensus Engine and Peer Registry consume.
func (m Membership) NodeIDs() []ids.NodeID {
	out := make([]ids.NodeID, len(m.Members))
	for i, s := range m.Members {
		out[i] = s.NodeID
	}
	return out
}

// Trigger identifies why a membership recomputation was requested (§4.4
// "Adjustment triggers").
type Trigger int

const (
	TriggerInitial Trigger = iota
	TriggerPeerQuarantined
	TriggerLatencyDegraded
	TriggerPartitionSuspected
)

func (t Trigger) String() string {
	switch t {
	case TriggerInitial:
		return "initial"
	case TriggerPeerQuarantined:
		return "peer-quarantined"
	case TriggerLatencyDegraded:
		return "latency-degraded"
	case TriggerPartitionSuspected:
		return "partition-suspected"
	default:
		return "unknown"
	}
}
