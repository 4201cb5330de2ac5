// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorumcore wires the Peer Registry, Consensus Engine, Audit
// Chain, and Quorum Strategy into the single coherent subsystem described
// by the data flow in §2: Strategy recommends membership, Registry
// authorizes it, Engine drives a round over it, Chain seals the result.
// It is the facade external callers use; nothing outside this package
// talks to the four components directly in normal operation.
package quorumcore

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/quorumguard/audit"
	"github.com/luxfi/quorumguard/consensus/round"
	"github.com/luxfi/quorumguard/events"
	"github.com/luxfi/quorumguard/peer"
	"github.com/luxfi/quorumguard/quorumconfig"
	"github.com/luxfi/quorumguard/quorummetrics"
	"github.com/luxfi/quorumguard/strategy"
	"github.com/luxfi/quorumguard/wire"
)

// Core is the assembled quorum subsystem.
type Core struct {
	registry *peer.Registry
	chain    *audit.Chain
	engine   *round.Engine
	strategy *strategy.Strategy
	params   quorumconfig.Parameters
	log      log.Logger
	metrics  *quorummetrics.Metrics
	sink     events.Sink
	stop     chan struct{}
}

// New assembles a Core from its four components plus the node's own
// signer/transport, mirroring the teacher's engine/bft Wrapper pattern of
// one constructor gathering every collaborator a running node needs.
func New(
	self ids.NodeID,
	params quorumconfig.Parameters,
	signer wire.Signer,
	verifier wire.Verifier,
	transport round.Transport,
	logger log.Logger,
	metrics *quorummetrics.Metrics,
	sink events.Sink,
) *Core {
	if logger == nil {
		logger = log.NoLog{}
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	registry := peer.New(params, verifier, logger, metrics)
	chain := audit.New(signer, verifier, logger, metrics)
	engine := round.New(self, registry, chain, verifier, signer, transport, params, logger, metrics, sink)
	strat := strategy.New(params, logger, metrics)

	stop := make(chan struct{})
	registry.StartSweepLoop(stop)

	return &Core{
		registry: registry,
		chain:    chain,
		engine:   engine,
		strategy: strat,
		params:   params,
		log:      logger,
		metrics:  metrics,
		sink:     sink,
		stop:     stop,
	}
}

// Close stops the Core's background session-expiry sweep loop (§5
// "periodic session-expiry sweep" suspension point).
func (c *Core) Close() {
	close(c.stop)
}

// IssuePeerChallenge begins authentication for a fresh or reconnecting
// peer, returning the challenge value the peer must sign (§4.1).
func (c *Core) IssuePeerChallenge(nodeID ids.NodeID) ([32]byte, error) {
	return c.registry.IssueChallenge(nodeID)
}

// NewPeerIdentity mints a fresh NodeIdentity for a peer connecting for the
// first time (§3).
func (c *Core) NewPeerIdentity() (ids.NodeID, error) {
	return c.registry.NewNodeIdentity()
}

// RegisterPeer completes authentication for nodeID: it verifies the
// supplied signature over the outstanding challenge and, on success,
// returns an opaque session handle (§4.1 "authenticate(nodeId, publicKey,
// challenge, signature) -> sessionHandle | failure").
func (c *Core) RegisterPeer(nodeID ids.NodeID, publicKey *rsa.PublicKey, challengeValue [32]byte, currentTimeSecond int64, signature []byte) ([32]byte, error) {
	handle, err := c.registry.Authenticate(nodeID, publicKey, challengeValue, currentTimeSecond, signature)
	if err != nil {
		return handle, err
	}
	c.log.Info("peer registered", "nodeID", nodeID.String())
	return handle, nil
}

// RecommendMembership asks the Quorum Strategy for the next round's
// membership from the currently authenticated peer pool (§4.4 data-flow
// step 1).
func (c *Core) RecommendMembership(candidates []strategy.CandidateInput, maxPartitionSize int) (strategy.Membership, error) {
	return c.strategy.Recommend(candidates, maxPartitionSize)
}

// SubmitProposal drives a full round for payload over membership and, on
// commit, seals the outcome into the audit chain (§2 data-flow steps 2-4).
// membership must already have passed the Peer Registry's Authorize gate
// (its members come from AuthenticatedPeers or an equivalent caller-side
// filter); SubmitProposal does not re-authorize them itself, mirroring the
// single-responsibility split in §4's component table.
func (c *Core) SubmitProposal(ctx context.Context, payload []byte, membership []*peer.Record, deadline time.Time) (round.Outcome, uint64, error) {
	started := time.Now()
	outcome, err := c.engine.RunProposal(ctx, payload, membership, deadline)
	c.strategy.RecordRoundLatency(time.Since(started))
	if c.metrics != nil {
		c.metrics.RoundLatency.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return outcome, 0, err
	}
	if !outcome.ConsensusReached {
		return outcome, 0, nil
	}
	return outcome, outcome.AuditIndex, nil
}

// AuthenticatedMembers exposes the Peer Registry's current authenticated,
// non-quarantined pool for the caller to translate into strategy
// candidates and engine membership.
func (c *Core) AuthenticatedMembers() []*peer.Record {
	return c.registry.AuthenticatedPeers()
}

// GetAuditChain returns audit records in [start, end); an end of 0 means
// "through the tail" (§4.3).
func (c *Core) GetAuditChain(start, end uint64) []*audit.Record {
	return c.chain.Records(start, end)
}

// VerifyAudit verifies the full audit chain against the committing node's
// public key (§4.3).
func (c *Core) VerifyAudit(committerPub *rsa.PublicKey) audit.VerifyResult {
	result := c.chain.Verify(committerPub)
	if !result.Valid {
		c.sink.Emit(events.Event{
			Kind: events.KindAuditTampering,
			AuditTampering: &events.AuditTampering{
				FirstTamperedIndex: result.FirstTamperedIdx,
			},
		})
	}
	return result
}

// HealthCheck reports the Core's operating status, mirroring the
// teacher's Engine.HealthCheck(ctx) (interface{}, error) shape.
func (c *Core) HealthCheck(ctx context.Context) (interface{}, error) {
	members := c.registry.AuthenticatedPeers()
	status := "healthy"
	if len(members) < c.params.QuorumFloor {
		status = "degraded"
	}

	return map[string]interface{}{
		"component":          "quorumcore",
		"status":             status,
		"authenticatedPeers": len(members),
		"auditChainLength":   c.chain.Len(),
		"quorumFloor":        c.params.QuorumFloor,
		"quorumCeiling":      c.params.QuorumCeiling,
	}, nil
}

// QuarantinePeer is a diagnostic escape hatch for callers that have
// external evidence of Byzantine behavior (§4.1 recordSuspicion path): it
// records one suspicion, and emits a PeerQuarantined event whenever the
// peer is quarantined after that call. It does not recompute membership;
// callers use ShouldRecomputeMembership with TriggerPeerQuarantined and
// RecommendMembership for that.
func (c *Core) QuarantinePeer(nodeID ids.NodeID, reason string) {
	c.registry.RecordSuspicion(nodeID, reason)
	if c.registry.IsQuarantined(nodeID) {
		c.sink.Emit(events.Event{
			Kind: events.KindPeerQuarantined,
			PeerQuarantined: &events.PeerQuarantined{
				NodeID: nodeID,
				Reason: reason,
			},
		})
	}
}

// ShouldRecomputeMembership exposes the Quorum Strategy's adjustment
// -trigger decision (§4.4) to a caller-driven scheduling loop.
func (c *Core) ShouldRecomputeMembership(trigger strategy.Trigger, connectivity float64) bool {
	return c.strategy.ShouldRecompute(trigger, connectivity)
}
