// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/quorumguard/audit"
	"github.com/luxfi/quorumguard/events"
	"github.com/luxfi/quorumguard/peer"
	"github.com/luxfi/quorumguard/quorumconfig"
	"github.com/luxfi/quorumguard/quorumerrors"
	"github.com/luxfi/quorumguard/quorummetrics"
	"github.com/luxfi/quorumguard/wire"
)

// Engine is the Consensus Engine (§4.2), modeled as an explicit value
// holding its collaborators by injection (§9) rather than package state:
// a Peer Registry gate, an Audit Chain to seal commits into, a Transport
// to reach members, and this node's own signer for the outcome proof.
type Engine struct {
	self     ids.NodeID
	registry *peer.Registry
	chain    *audit.Chain
	verifier wire.Verifier
	signer   wire.Signer
	transport Transport
	params   quorumconfig.Parameters
	log      log.Logger
	metrics  *quorummetrics.Metrics
	sink     events.Sink

	mu    sync.Mutex
	open  map[ids.ID]struct{}
}

// New constructs a Consensus Engine.
func New(
	self ids.NodeID,
	registry *peer.Registry,
	chain *audit.Chain,
	verifier wire.Verifier,
	signer wire.Signer,
	transport Transport,
	params quorumconfig.Parameters,
	logger log.Logger,
	metrics *quorummetrics.Metrics,
	sink events.Sink,
) *Engine {
	if logger == nil {
		logger = log.NoLog{}
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Engine{
		self:      self,
		registry:  registry,
		chain:     chain,
		verifier:  verifier,
		signer:    signer,
		transport: transport,
		params:    params,
		log:       logger,
		metrics:   metrics,
		sink:      sink,
		open:      make(map[ids.ID]struct{}),
	}
}

// RunProposal implements runProposal(payload, membership, deadline) ->
// ConsensusOutcome (§4.2). membership is the set of candidate members
// (already Authorize-gated by the Peer Registry per §2 data flow step 2).
// A round that does not commit fails one of three ways: insufficient
// membership (returned before any vote is dispatched), Byzantine majority
// (more than f voters rejected, each quarantined immediately), or deadline
// exceeded / supermajority not reached (returned after vote collection).
func (e *Engine) RunProposal(ctx context.Context, payload []byte, membership []*peer.Record, deadline time.Time) (Outcome, error) {
	if len(payload) > e.params.MaxPayloadSize {
		return Outcome{}, quorumerrors.New(quorumerrors.KindInputMalformed, "payload exceeds configured maximum size", nil)
	}
	maxDeadline := time.Now().Add(e.params.MaxRoundDeadline)
	if !deadline.After(time.Now()) {
		return Outcome{}, quorumerrors.New(quorumerrors.KindInputMalformed, "deadline must be in the future", nil)
	}
	if deadline.After(maxDeadline) {
		return Outcome{}, quorumerrors.New(quorumerrors.KindInputMalformed, "deadline exceeds configured maximum", nil)
	}

	n := len(membership)
	requiredMembers := 3*e.params.MaxByzantineFaults + 1
	if n < requiredMembers {
		return Outcome{}, quorumerrors.New(
			quorumerrors.KindInsufficientQuorum,
			"membership smaller than 3f+1",
			quorumerrors.ErrInsufficientQuorum,
		)
	}

	proposal, err := e.openProposal(payload, deadline)
	if err != nil {
		return Outcome{}, err
	}
	defer e.closeProposal(proposal.ID)

	roundCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	votes, rejected := e.collectVotes(roundCtx, proposal, membership)

	if len(rejected) > e.params.MaxByzantineFaults {
		for _, nodeID := range rejected {
			e.registry.Quarantine(nodeID, "unverifiable or contradicting signed vote in a byzantine-majority round")
			e.sink.Emit(events.Event{
				Kind: events.KindPeerQuarantined,
				PeerQuarantined: &events.PeerQuarantined{
					NodeID: nodeID,
					Reason: "byzantine majority round",
				},
			})
		}
		outcome := Outcome{
			ProposalID:      proposal.ID,
			PayloadHash:     proposal.PayloadHash,
			TotalVotes:      n,
			ValidVotes:      len(votes),
			Approvals:       approvals(votes),
			ByzantineVoters: rejected,
		}
		e.emitAborted(proposal.ID, "byzantine majority: more than f voters rejected")
		if e.metrics != nil {
			e.metrics.RoundsAborted.Inc()
		}
		return outcome, quorumerrors.New(
			quorumerrors.KindByzantineMajority,
			"more than f voters produced unverifiable or contradicting signed votes",
			quorumerrors.ErrByzantineMajority,
		).WithProposal(proposal.ID)
	}

	outcome := e.evaluate(proposal, membership, votes)

	if !outcome.ConsensusReached {
		if len(votes) < quorumconfig.Supermajority(n) {
			e.emitAborted(proposal.ID, "deadline exceeded before supermajority of votes arrived")
			if e.metrics != nil {
				e.metrics.RoundsAborted.Inc()
			}
			return outcome, quorumerrors.New(quorumerrors.KindDeadlineExceeded, "round expired with too few verified votes", quorumerrors.ErrDeadlineExceeded).WithProposal(proposal.ID)
		}
		e.emitAborted(proposal.ID, "supermajority not reached")
		if e.metrics != nil {
			e.metrics.RoundsAborted.Inc()
		}
		return outcome, nil
	}

	proof, err := e.signOutcome(outcome)
	if err != nil {
		return Outcome{}, quorumerrors.New(quorumerrors.KindInternal, "failed to sign consensus outcome", quorumerrors.ErrInternalSignature).WithProposal(proposal.ID)
	}
	outcome.Proof = proof

	auditIndex, err := e.chain.Append(audit.Outcome{
		ProposalID:  outcome.ProposalID,
		PayloadHash: outcome.PayloadHash,
		TotalVotes:  outcome.TotalVotes,
		ValidVotes:  outcome.ValidVotes,
		Approvals:   outcome.Approvals,
		Consensus:   outcome.ConsensusReached,
		Byzantine:   outcome.ByzantineVoters,
		Proof:       outcome.Proof,
		CommittedAt: time.Now(),
	})
	if err != nil {
		return Outcome{}, err
	}
	outcome.AuditIndex = auditIndex

	if e.metrics != nil {
		e.metrics.RoundsCommitted.Inc()
	}
	e.sink.Emit(events.Event{
		Kind: events.KindConsensusReached,
		ConsensusReached: &events.ConsensusReached{
			ProposalID: outcome.ProposalID,
			Approvals:  outcome.Approvals,
			TotalVotes: outcome.TotalVotes,
			AuditIndex: auditIndex,
		},
	})

	return outcome, nil
}

func (e *Engine) openProposal(payload []byte, deadline time.Time) (Proposal, error) {
	var idBytes [32]byte
	if _, err := rand.Read(idBytes[:16]); err != nil {
		return Proposal{}, quorumerrors.New(quorumerrors.KindInternal, "failed to read randomness", err)
	}
	id := ids.ID(idBytes)

	now := time.Now()
	payloadHash := computePayloadHash(e.self, now, payload)

	e.mu.Lock()
	e.open[id] = struct{}{}
	e.mu.Unlock()

	return Proposal{
		ID:          id,
		Payload:     payload,
		PayloadHash: payloadHash,
		OpenedAt:    now,
		DeadlineAt:  deadline,
	}, nil
}

func (e *Engine) closeProposal(id ids.ID) {
	e.mu.Lock()
	delete(e.open, id)
	e.mu.Unlock()
}

func (e *Engine) isOpen(id ids.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.open[id]
	return ok
}

// computePayloadHash implements payloadHash = SHA-256(nodeIdentity ||
// currentTime || payload) (§4.2 step 1).
func computePayloadHash(self ids.NodeID, at time.Time, payload []byte) [32]byte {
	h := sha256.New()
	h.Write(self[:])
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(at.UnixNano()))
	h.Write(tsBytes[:])
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// voteSigningForm is the canonical serialization a vote's signature
// verifies (§3): (voter, proposalId, decision, nonce, timestamp).
func voteSigningForm(v Vote) ([]byte, error) {
	return wire.Canonical(
		wire.Field{Key: "decision", Value: v.Decision},
		wire.Field{Key: "nonce", Value: v.Nonce[:]},
		wire.Field{Key: "proposalId", Value: v.ProposalID[:]},
		wire.Field{Key: "timestamp", Value: v.Timestamp},
		wire.Field{Key: "voter", Value: v.Voter.String()},
	)
}

// collectVotes dispatches the proposal to every member concurrently and
// collects votes until all members respond, the deadline passes, or every
// member's vote has been verified — whichever comes first (§4.2 step 4).
// Access to the round's vote set is serialized by the caller's single
// -goroutine collection loop draining a channel fed by m dispatch
// goroutines (§5: per-round mutual exclusion via channel ownership rather
// than an explicit lock). The second return value lists voters whose vote
// arrived but failed verifyVote (unverifiable or contradicting signed
// votes, §4.2's Byzantine-majority failure class) — distinct from members
// who simply never responded before the deadline.
func (e *Engine) collectVotes(ctx context.Context, proposal Proposal, membership []*peer.Record) ([]Vote, []ids.NodeID) {
	type result struct {
		vote Vote
		err  error
		from ids.NodeID
	}

	results := make(chan result, len(membership))
	var wg sync.WaitGroup
	for _, member := range membership {
		wg.Add(1)
		go func(m *peer.Record) {
			defer wg.Done()
			vote, err := e.transport.Dispatch(ctx, m.NodeID, proposal)
			results <- result{vote: vote, err: err, from: m.NodeID}
		}(member)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	verified := make([]Vote, 0, len(membership))
	rejected := make([]ids.NodeID, 0)
	responded := 0
collect:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			responded++
			if r.err != nil {
				continue
			}
			if e.verifyVote(proposal, r.vote) {
				verified = append(verified, r.vote)
			} else {
				rejected = append(rejected, r.from)
			}
			if responded >= len(membership) {
				break collect
			}
			if len(verified) >= len(membership) {
				break collect
			}
		case <-ctx.Done():
			break collect
		}
	}

	return verified, rejected
}

func approvals(votes []Vote) int {
	a := 0
	for _, vote := range votes {
		if vote.Decision {
			a++
		}
	}
	return a
}

// verifyVote implements §4.2 step 5: verify the signature, verify
// proposalId matches an open proposal, verify the vote's timestamp is
// within the round window, verify the voter is still authorized. Failed
// verification increments the voter's suspicion count and drops the vote
// silently (§9: signature failure is data, not a thrown exception).
func (e *Engine) verifyVote(proposal Proposal, v Vote) bool {
	if v.ProposalID != proposal.ID || !e.isOpen(proposal.ID) {
		e.registry.RecordSuspicion(v.Voter, "vote references a proposal that is not open")
		e.countRejected()
		return false
	}

	// Vote timestamps carry whole seconds, so the window opens at the start
	// of the second the proposal was opened in.
	windowStart := proposal.OpenedAt.Truncate(time.Second)
	windowEnd := proposal.DeadlineAt
	voteTime := time.Unix(v.Timestamp, 0)
	if voteTime.Before(windowStart) || voteTime.After(windowEnd) {
		e.registry.RecordSuspicion(v.Voter, "vote timestamp outside round window")
		e.countRejected()
		return false
	}

	rec, err := e.registry.Authorize(v.Voter)
	if err != nil {
		e.registry.RecordSuspicion(v.Voter, "vote from a voter that is not authorized")
		e.countRejected()
		return false
	}

	form, err := voteSigningForm(v)
	if err != nil {
		e.registry.RecordSuspicion(v.Voter, "failed to build vote signing form")
		e.countRejected()
		return false
	}
	if err := e.verifier.Verify(rec.PublicKey, form, v.Signature); err != nil {
		e.registry.RecordSuspicion(v.Voter, "vote signature failed verification")
		e.countRejected()
		return false
	}

	return true
}

func (e *Engine) countRejected() {
	if e.metrics != nil {
		e.metrics.VotesRejected.Inc()
	}
}

// evaluate implements §4.2 step 6: consensus is reached iff v >= ceil(2n/3)
// and a/v >= 2/3, where n is the number of voters in the round (the
// membership size, not merely the verified-vote count) and v, a are the
// verified-vote and approval counts. An approval ratio of exactly 2/3
// reaches consensus (the comparison is >=). Voters whose verified vote
// disagreed with the majority on a committed round are penalized via the
// Peer Registry.
func (e *Engine) evaluate(proposal Proposal, membership []*peer.Record, votes []Vote) Outcome {
	n := len(membership)
	v := len(votes)
	a := approvals(votes)

	required := quorumconfig.Supermajority(n)
	// a*3 >= v*2 is a/v >= 2/3 without floating point.
	reached := v >= required && a*3 >= v*2

	majority := a*2 > v
	if reached {
		for _, vote := range votes {
			e.registry.RecordVoteOutcome(vote.Voter, vote.Decision == majority)
		}
	}

	return Outcome{
		ProposalID:       proposal.ID,
		PayloadHash:      proposal.PayloadHash,
		TotalVotes:       len(membership),
		ValidVotes:       v,
		Approvals:        a,
		ConsensusReached: reached,
	}
}

func (e *Engine) signOutcome(outcome Outcome) ([]byte, error) {
	form, err := wire.Canonical(
		wire.Field{Key: "approvals", Value: int64(outcome.Approvals)},
		wire.Field{Key: "payloadHash", Value: outcome.PayloadHash[:]},
		wire.Field{Key: "timestamp", Value: time.Now().Unix()},
		wire.Field{Key: "totalVotes", Value: int64(outcome.TotalVotes)},
	)
	if err != nil {
		return nil, err
	}
	return e.signer.Sign(form)
}

func (e *Engine) emitAborted(id ids.ID, reason string) {
	e.sink.Emit(events.Event{
		Kind: events.KindRoundAborted,
		RoundAborted: &events.RoundAborted{
			ProposalID: id,
			Reason:     reason,
		},
	})
}
