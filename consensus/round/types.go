// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package round implements the Consensus Engine (§4.2): driving one
// proposal at a time through authenticate -> distribute -> collect votes
// -> evaluate -> commit, enforcing safety and liveness.
package round

import (
	"time"

	"github.com/luxfi/ids"
)

// Proposal is the unit of work the engine drives through a round (§3).
type Proposal struct {
	ID          ids.ID
	Payload     []byte
	PayloadHash [32]byte
	OpenedAt    time.Time
	DeadlineAt  time.Time
	Round       uint64
}

// Vote is a signed ballot from one voter (§3). Signature verifies the
// canonical serialization of (voter, proposalId, decision, nonce,
// timestamp) under the voter's registered public key.
type Vote struct {
	Voter      ids.NodeID
	ProposalID ids.ID
	Decision   bool
	Nonce      [16]byte
	Timestamp  int64
	Signature  []byte
}

// Outcome is the ConsensusOutcome (§3) a round produces.
type Outcome struct {
	ProposalID       ids.ID
	PayloadHash      [32]byte
	TotalVotes       int
	ValidVotes       int
	Approvals        int
	ConsensusReached bool
	ByzantineVoters  []ids.NodeID
	Proof            []byte

	// AuditIndex is the index Chain.Append assigned this outcome's record
	// at, valid only when ConsensusReached is true. Callers must read this
	// field rather than re-deriving an index from Chain.Len() afterward,
	// since a concurrent committing round could have advanced the chain in
	// between (§5 "Parallel" scheduling model).
	AuditIndex uint64
}
