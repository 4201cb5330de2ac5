// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package peer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/quorumguard/quorumconfig"
	"github.com/luxfi/quorumguard/quorumerrors"
	"github.com/luxfi/quorumguard/quorummetrics"
	"github.com/luxfi/quorumguard/wire"
)

// challenge is an outstanding authentication challenge issued to a nodeID.
type challenge struct {
	value     [32]byte
	issuedAt  time.Time
}

// Registry is the Peer Registry (§4.1): process-wide peer state, modeled
// as an explicit injected value per §9's "ad-hoc mutable singletons"
// guidance rather than a package-level global.
type Registry struct {
	params   quorumconfig.Parameters
	verifier wire.Verifier
	log      log.Logger
	metrics  *quorummetrics.Metrics

	idCounter uint64

	mu         sync.RWMutex
	peers      map[ids.NodeID]*Record
	challenges map[ids.NodeID]challenge
	sessions   map[[32]byte]ids.NodeID
}

// New constructs a Peer Registry. log and metrics may be nil: a nil log is
// replaced by a no-op logger, and a nil metrics disables metric updates.
func New(params quorumconfig.Parameters, verifier wire.Verifier, logger log.Logger, metrics *quorummetrics.Metrics) *Registry {
	if logger == nil {
		logger = log.NoLog{}
	}
	return &Registry{
		params:     params,
		verifier:   verifier,
		log:        logger,
		metrics:    metrics,
		peers:      make(map[ids.NodeID]*Record),
		challenges: make(map[ids.NodeID]challenge),
		sessions:   make(map[[32]byte]ids.NodeID),
	}
}

// NewNodeIdentity mints a fresh NodeIdentity (§3): "opaque string produced
// by hashing 32 bytes of fresh randomness with a monotonically increasing
// counter; immutable for the lifetime of a process."
func (r *Registry) NewNodeIdentity() (ids.NodeID, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return ids.NodeID{}, quorumerrors.New(quorumerrors.KindInternal, "failed to read randomness", err)
	}
	counter := atomic.AddUint64(&r.idCounter, 1)

	h := sha256.New()
	h.Write(seed[:])
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)
	h.Write(counterBytes[:])

	sum := h.Sum(nil)
	return ids.NodeID(sum[:20]), nil
}

// IssueChallenge mints a fresh challenge for nodeID, valid for ChallengeTTL
// (§4.1: "challenge must match an outstanding challenge issued to this
// nodeId within the last 60 seconds").
func (r *Registry) IssueChallenge(nodeID ids.NodeID) ([32]byte, error) {
	var value [32]byte
	if _, err := rand.Read(value[:]); err != nil {
		return value, quorumerrors.New(quorumerrors.KindInternal, "failed to read randomness", err)
	}

	r.mu.Lock()
	r.challenges[nodeID] = challenge{value: value, issuedAt: time.Now()}
	r.mu.Unlock()

	return value, nil
}

// authChallengeForm is the canonical form a signature over {nodeId,
// challenge, currentTimeSecond} is computed over (§4.1).
func authChallengeForm(nodeID ids.NodeID, challengeValue [32]byte, second int64) ([]byte, error) {
	return wire.Canonical(
		wire.Field{Key: "challenge", Value: challengeValue[:]},
		wire.Field{Key: "nodeId", Value: nodeID.String()},
		wire.Field{Key: "second", Value: second},
	)
}

// AuthChallengeForm exposes the canonical signing form for callers
// constructing the authentication signature (test helper and clients).
func AuthChallengeForm(nodeID ids.NodeID, challengeValue [32]byte, second int64) ([]byte, error) {
	return authChallengeForm(nodeID, challengeValue, second)
}

// Authenticate implements authenticate(nodeId, publicKey, challenge,
// signature) -> sessionHandle | failure (§4.1). Errors returned here are
// non-retryable at this layer: callers must obtain a new challenge.
func (r *Registry) Authenticate(nodeID ids.NodeID, publicKey *rsa.PublicKey, challengeValue [32]byte, currentTimeSecond int64, signature []byte) ([32]byte, error) {
	var handle [32]byte

	r.mu.Lock()
	if rec, ok := r.peers[nodeID]; ok && rec.Status == StatusQuarantined {
		r.mu.Unlock()
		return handle, quorumerrors.New(quorumerrors.KindUnauthorizedPeer, "peer is quarantined", quorumerrors.ErrPeerQuarantined).WithNode(nodeID)
	}

	// A challenge is consumed by the first attempt that presents it, whether
	// or not that attempt succeeds.
	issued, ok := r.challenges[nodeID]
	delete(r.challenges, nodeID)
	r.mu.Unlock()
	if !ok || issued.value != challengeValue || time.Since(issued.issuedAt) > r.params.ChallengeTTL {
		return handle, quorumerrors.New(quorumerrors.KindUnauthorizedPeer, "no matching outstanding challenge", quorumerrors.ErrChallengeMismatch).WithNode(nodeID)
	}

	if publicKey.N.BitLen() < r.params.MinKeyBits {
		return handle, quorumerrors.New(quorumerrors.KindUnauthorizedPeer, "public key too weak", quorumerrors.ErrWeakKey).WithNode(nodeID)
	}

	form, err := authChallengeForm(nodeID, challengeValue, currentTimeSecond)
	if err != nil {
		return handle, quorumerrors.New(quorumerrors.KindInternal, "failed to build challenge form", err).WithNode(nodeID)
	}
	if err := r.verifier.Verify(publicKey, form, signature); err != nil {
		return handle, quorumerrors.New(quorumerrors.KindSignatureInvalid, "authentication signature invalid", quorumerrors.ErrSignatureInvalid).WithNode(nodeID)
	}

	var sessionKey [32]byte
	if _, err := rand.Read(sessionKey[:]); err != nil {
		return handle, quorumerrors.New(quorumerrors.KindInternal, "failed to read randomness", err).WithNode(nodeID)
	}
	handle = sha256.Sum256(sessionKey[:])

	now := time.Now()
	r.mu.Lock()
	delete(r.challenges, nodeID)
	r.sessions[handle] = nodeID
	r.peers[nodeID] = &Record{
		NodeID:           nodeID,
		PublicKey:        publicKey,
		SessionKeyHash:   handle,
		TrustScore:       1.0,
		AuthenticatedAt:  now,
		SessionExpiresAt: now.Add(r.params.SessionTTL),
		Status:           StatusAuthenticated,
		suspicions:       newRingBuffer(r.params.SuspicionRingSize),
	}
	r.mu.Unlock()

	r.log.Info("peer authenticated", "nodeID", nodeID.String())
	return handle, nil
}

// Authorize implements authorize(nodeId) -> PeerRecord | rejection (§4.1):
// the single gate every other component uses.
func (r *Registry) Authorize(nodeID ids.NodeID) (*Record, error) {
	r.mu.RLock()
	rec, ok := r.peers[nodeID]
	r.mu.RUnlock()

	if !ok {
		return nil, quorumerrors.New(quorumerrors.KindUnauthorizedPeer, "peer unknown", quorumerrors.ErrPeerUnknown).WithNode(nodeID)
	}
	if rec.Status == StatusQuarantined {
		return nil, quorumerrors.New(quorumerrors.KindUnauthorizedPeer, "peer quarantined", quorumerrors.ErrPeerQuarantined).WithNode(nodeID)
	}
	if time.Now().After(rec.SessionExpiresAt) {
		r.mu.Lock()
		if rec.Status != StatusQuarantined {
			rec.Status = StatusExpired
		}
		r.mu.Unlock()
		return nil, quorumerrors.New(quorumerrors.KindUnauthorizedPeer, "session expired", quorumerrors.ErrSessionExpired).WithNode(nodeID)
	}
	return rec, nil
}

// RecordSuspicion implements recordSuspicion(nodeId, reason) (§4.1).
// Suspicion recording never fails.
func (r *Registry) RecordSuspicion(nodeID ids.NodeID, reason string) {
	now := time.Now()

	r.mu.Lock()
	rec, ok := r.peers[nodeID]
	if !ok || rec.Status == StatusQuarantined {
		r.mu.Unlock()
		return
	}
	rec.suspicions.Push(Suspicion{Reason: reason, Timestamp: now})
	count := rec.suspicions.CountSince(now.Add(-r.params.SuspicionWindow))
	shouldQuarantine := count > r.params.SuspicionThreshold ||
		rec.TrustScore < r.params.TrustQuarantineFloor ||
		rec.ConflictRate() > r.params.ConflictRateQuarantineCeiling
	if shouldQuarantine {
		rec.Status = StatusQuarantined
		handle := rec.SessionKeyHash
		delete(r.sessions, handle)
	}
	r.mu.Unlock()

	if shouldQuarantine {
		if r.metrics != nil {
			r.metrics.PeersQuarantined.Inc()
		}
		r.log.Warn("peer quarantined", "nodeID", nodeID.String(), "reason", reason)
	}
}

// RecordVoteOutcome updates a peer's trust score and conflict tally after a
// committed round (§4.2 step 6): "Voters who approved when the majority
// rejected (or vice versa) on a committed round have their trustScore
// multiplied by 0.9 and a suspicion recorded."
func (r *Registry) RecordVoteOutcome(nodeID ids.NodeID, agreedWithMajority bool) {
	r.mu.Lock()
	rec, ok := r.peers[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.observed++
	if !agreedWithMajority {
		rec.conflicts++
		rec.TrustScore *= 0.9
	}
	r.mu.Unlock()

	if !agreedWithMajority {
		r.RecordSuspicion(nodeID, "voted against committed majority")
	}
}

// Quarantine immediately transitions nodeID to the absorbing quarantined
// state, bypassing RecordSuspicion's threshold accumulation. It is used
// when a single round already supplies conclusive evidence of Byzantine
// behavior (§4.2 "Byzantine majority" failure class) rather than the
// slow, cross-round suspicion count RecordSuspicion otherwise requires.
func (r *Registry) Quarantine(nodeID ids.NodeID, reason string) {
	r.mu.Lock()
	rec, ok := r.peers[nodeID]
	if !ok || rec.Status == StatusQuarantined {
		r.mu.Unlock()
		return
	}
	rec.Status = StatusQuarantined
	handle := rec.SessionKeyHash
	delete(r.sessions, handle)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PeersQuarantined.Inc()
	}
	r.log.Warn("peer quarantined", "nodeID", nodeID.String(), "reason", reason)
}

// IsQuarantined reports whether a peer is in the absorbing quarantined
// state, independent of Authorize's session-expiry side effects.
func (r *Registry) IsQuarantined(nodeID ids.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[nodeID]
	return ok && rec.Status == StatusQuarantined
}

// SweepExpired implements sweepExpired() (§4.1): removes sessions whose
// expiry has passed. Called periodically (nominally once per minute).
func (r *Registry) SweepExpired() int {
	now := time.Now()
	swept := 0

	r.mu.Lock()
	for _, rec := range r.peers {
		if rec.Status == StatusAuthenticated && now.After(rec.SessionExpiresAt) {
			rec.Status = StatusExpired
			delete(r.sessions, rec.SessionKeyHash)
			swept++
		}
	}
	r.mu.Unlock()

	if swept > 0 {
		r.log.Debug("swept expired sessions", "count", swept)
	}
	return swept
}

// StartSweepLoop runs SweepExpired on a ticker until stop is closed,
// mirroring the teacher's callback-fanout maintenance loops
// (acceptor_group.go) as a stoppable goroutine instead of a bare
// background timer.
func (r *Registry) StartSweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.params.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.SweepExpired()
			case <-stop:
				return
			}
		}
	}()
}

// AuthenticatedPeers returns the set of currently authenticated, non
// -quarantined peer records, used by the Quorum Strategy (§4.4) to build
// its candidate pool.
func (r *Registry) AuthenticatedPeers() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.peers))
	for _, rec := range r.peers {
		if rec.Status == StatusAuthenticated && time.Now().Before(rec.SessionExpiresAt) {
			out = append(out, rec)
		}
	}
	return out
}

// Get returns a peer's record without the authorization gate's expiry
// side effects, for inspection (diagnostics, strategy scoring). The
// returned pointer is the registry's own record, not a copy.
func (r *Registry) Get(nodeID ids.NodeID) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[nodeID]
	return rec, ok
}
