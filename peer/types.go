// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package peer implements the Peer Registry (§4.1): node identity issuance,
// peer credential verification, authenticated session bookkeeping, and
// quarantine of peers flagged as Byzantine.
package peer

import (
	"crypto/rsa"
	"time"

	"github.com/luxfi/ids"
)

// Status is a peer's position in the per-peer state machine (§4.1):
// unknown -> authenticated -> {expired, quarantined}; expired ->
// authenticated is allowed on fresh authentication; quarantined is
// absorbing for the lifetime of the process.
type Status int

const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusQuarantined
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusAuthenticated:
		return "authenticated"
	case StatusQuarantined:
		return "quarantined"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Suspicion is one entry of a peer's bounded suspicion log (§3).
type Suspicion struct {
	Reason    string
	Timestamp time.Time
}

// Record is a PeerRecord (§3). PublicKey is kept as the verification half
// only; the peer's private key never enters this process. SessionKeyHash
// is the hash-handle the spec requires in place of a raw session key (§9:
// "the spec above stores only a hash-handle and requires the raw key never
// leave the Peer Registry").
type Record struct {
	NodeID           ids.NodeID
	PublicKey        *rsa.PublicKey
	SessionKeyHash   [32]byte
	TrustScore       float64
	AuthenticatedAt  time.Time
	SessionExpiresAt time.Time
	Status           Status

	suspicions ringBuffer
	conflicts  int
	observed   int
}

// Suspicions returns a copy of the peer's bounded suspicion log.
func (r *Record) Suspicions() []Suspicion {
	return r.suspicions.Snapshot()
}

// ConflictRate returns the fraction of observed votes in which this peer
// disagreed with a committed round's majority outcome (§4.1 quarantine
// trigger: "observed conflict rate with majority outcomes exceeds 0.3").
func (r *Record) ConflictRate() float64 {
	if r.observed == 0 {
		return 0
	}
	return float64(r.conflicts) / float64(r.observed)
}

// ringBuffer is a small fixed-capacity ring used for the per-peer
// suspicion log (§5: "Bounded memory: the Peer Registry caps the
// suspicion log per peer (ring buffer)").
type ringBuffer struct {
	entries []Suspicion
	cap     int
	next    int
	full    bool
}

func newRingBuffer(capacity int) ringBuffer {
	return ringBuffer{entries: make([]Suspicion, capacity), cap: capacity}
}

func (rb *ringBuffer) Push(s Suspicion) {
	if rb.cap == 0 {
		return
	}
	rb.entries[rb.next] = s
	rb.next = (rb.next + 1) % rb.cap
	if rb.next == 0 {
		rb.full = true
	}
}

// CountSince counts entries newer than cutoff.
func (rb *ringBuffer) CountSince(cutoff time.Time) int {
	n := 0
	for _, e := range rb.Snapshot() {
		if e.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

func (rb *ringBuffer) Snapshot() []Suspicion {
	if rb.cap == 0 {
		return nil
	}
	if !rb.full {
		out := make([]Suspicion, rb.next)
		copy(out, rb.entries[:rb.next])
		return out
	}
	out := make([]Suspicion, rb.cap)
	copy(out, rb.entries[rb.next:])
	copy(out[rb.cap-rb.next:], rb.entries[:rb.next])
	return out
}
