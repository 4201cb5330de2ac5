// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorumerrors defines the error kinds surfaced by the quorum core
// (peer registry, consensus engine, audit chain, and quorum strategy).
package quorumerrors

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
)

// Kind classifies an error the way callers across the core need to branch on.
type Kind int

const (
	// KindInputMalformed marks a caller bug: bad arguments, nothing mutated.
	KindInputMalformed Kind = iota
	// KindUnauthorizedPeer marks a peer that failed authorization.
	KindUnauthorizedPeer
	// KindInsufficientQuorum marks a round that could not reach 3f+1 members.
	KindInsufficientQuorum
	// KindDeadlineExceeded marks a round that expired before quorum.
	KindDeadlineExceeded
	// KindByzantineMajority marks a round where more than f voters produced
	// unverifiable or contradicting signed votes.
	KindByzantineMajority
	// KindSignatureInvalid marks a forged or malformed signature.
	KindSignatureInvalid
	// KindAuditTampered marks a detected hash-chain break.
	KindAuditTampered
	// KindInternal marks a fatal, non-recoverable condition.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInputMalformed:
		return "input-malformed"
	case KindUnauthorizedPeer:
		return "unauthorized-peer"
	case KindInsufficientQuorum:
		return "insufficient-quorum"
	case KindDeadlineExceeded:
		return "deadline-exceeded"
	case KindByzantineMajority:
		return "byzantine-majority"
	case KindSignatureInvalid:
		return "signature-invalid"
	case KindAuditTampered:
		return "audit-tampered"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinel errors, matched with errors.Is at call sites the way the teacher's
// config package exposes ErrInvalidK, ErrInvalidAlpha, etc.
var (
	ErrInsufficientQuorum     = errors.New("insufficient quorum")
	ErrDeadlineExceeded       = errors.New("deadline exceeded")
	ErrByzantineMajority      = errors.New("byzantine majority")
	ErrInternalSignature      = errors.New("internal signature failure")
	ErrPeerUnknown            = errors.New("peer unknown")
	ErrPeerQuarantined        = errors.New("peer quarantined")
	ErrSessionExpired         = errors.New("session expired")
	ErrChallengeMismatch      = errors.New("challenge mismatch or expired")
	ErrWeakKey                = errors.New("public key does not meet strength policy")
	ErrSignatureInvalid       = errors.New("signature invalid")
	ErrAuditTampered          = errors.New("audit chain tampered")
	ErrProposalNotOpen        = errors.New("proposal is not open")
	ErrQuorumInfeasible       = errors.New("quorum infeasible")
	ErrInsecureTransport      = errors.New("transport does not meet confidentiality/authentication policy")
)

// Error is the structured error carried across the core's surface (§7):
// every error exposes its kind, the proposal and node it concerns (when
// applicable), and a human-readable detail that never leaks internal file
// or function names.
type Error struct {
	Kind       Kind
	ProposalID ids.ID
	NodeID     ids.NodeID
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.ProposalID != ids.Empty && e.NodeID != ids.EmptyNodeID:
		return fmt.Sprintf("%s: proposal=%s node=%s: %s", e.Kind, e.ProposalID, e.NodeID, e.Detail)
	case e.ProposalID != ids.Empty:
		return fmt.Sprintf("%s: proposal=%s: %s", e.Kind, e.ProposalID, e.Detail)
	case e.NodeID != ids.EmptyNodeID:
		return fmt.Sprintf("%s: node=%s: %s", e.Kind, e.NodeID, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a structured Error without proposal/node context.
func New(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// WithProposal attaches a proposal identifier to the error.
func (e *Error) WithProposal(id ids.ID) *Error {
	e.ProposalID = id
	return e
}

// WithNode attaches an offending node identifier to the error.
func (e *Error) WithNode(id ids.NodeID) *Error {
	e.NodeID = id
	return e
}
