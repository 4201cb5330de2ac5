// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"time"

	"github.com/luxfi/ids"
)

// Kind enumerates the peer wire protocol message kinds (§6).
type Kind string

const (
	KindChallenge Kind = "challenge"
	KindAuth      Kind = "auth"
	KindProposal  Kind = "proposal"
	KindVote      Kind = "vote"
	KindOutcome   Kind = "outcome"
)

// Broadcast is the "to" sentinel meaning "every member of the round".
var Broadcast = ids.NodeID{}

// Message is the envelope every inter-peer message travels in (§6): kind,
// sender, recipient (or Broadcast), a kind-specific body, a timestamp, and
// a signature over the canonical form of the rest.
type Message struct {
	Kind      Kind
	From      ids.NodeID
	To        ids.NodeID
	Body      []byte
	Timestamp int64
	Signature []byte
}

// SigningForm returns the canonical bytes a Message's signature is computed
// over: (messageKind, from, to, body, timestamp), lexically keyed per §6.
func (m *Message) SigningForm() ([]byte, error) {
	return Canonical(
		Field{Key: "body", Value: m.Body},
		Field{Key: "from", Value: m.From.String()},
		Field{Key: "kind", Value: string(m.Kind)},
		Field{Key: "timestamp", Value: m.Timestamp},
		Field{Key: "to", Value: m.To.String()},
	)
}

// Sign computes and attaches the message's signature.
func (m *Message) Sign(signer Signer) error {
	form, err := m.SigningForm()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(form)
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// Fresh reports whether the message's timestamp falls within window of now,
// in either direction. The Peer Registry's challenge expiry and the
// Consensus Engine's vote-window check do their own time comparisons and
// do not call Fresh.
func (m *Message) Fresh(now time.Time, window time.Duration) bool {
	t := time.Unix(m.Timestamp, 0)
	diff := now.Sub(t)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}
