// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/quorumguard/audit"
	"github.com/luxfi/quorumguard/peer"
	"github.com/luxfi/quorumguard/quorumconfig"
	"github.com/luxfi/quorumguard/wire"
)

type harness struct {
	engine   *Engine
	registry *peer.Registry
	chain    *audit.Chain
	keys     map[ids.NodeID]*rsa.PrivateKey
	members  []*peer.Record
}

// buildHarness authenticates n peers against a shared registry and wires an
// Engine around them, mirroring the teacher's pattern of constructing every
// collaborator explicitly in test setup rather than relying on globals.
func buildHarness(t *testing.T, n int) *harness {
	t.Helper()
	require := require.New(t)

	params := quorumconfig.Local()
	verifier := wire.NewVerifier()
	registry := peer.New(params, verifier, nil, nil)

	committerKey, err := rsa.GenerateKey(rand.Reader, 4096)
	require.NoError(err)
	committerSigner, err := wire.NewSigner(committerKey)
	require.NoError(err)

	chain := audit.New(committerSigner, verifier, nil, nil)

	keys := make(map[ids.NodeID]*rsa.PrivateKey, n)
	members := make([]*peer.Record, 0, n)
	for i := 0; i < n; i++ {
		key, err := rsa.GenerateKey(rand.Reader, 4096)
		require.NoError(err)

		nodeID, err := registry.NewNodeIdentity()
		require.NoError(err)

		ch, err := registry.IssueChallenge(nodeID)
		require.NoError(err)

		now := time.Now().Unix()
		form, err := peer.AuthChallengeForm(nodeID, ch, now)
		require.NoError(err)

		signer, err := wire.NewSigner(key)
		require.NoError(err)
		sig, err := signer.Sign(form)
		require.NoError(err)

		_, err = registry.Authenticate(nodeID, &key.PublicKey, ch, now, sig)
		require.NoError(err)

		keys[nodeID] = key
		rec, ok := registry.Get(nodeID)
		require.True(ok)
		members = append(members, rec)
	}

	self, err := registry.NewNodeIdentity()
	require.NoError(err)

	engine := New(self, registry, chain, verifier, committerSigner, nil, params, nil, nil, nil)
	return &harness{engine: engine, registry: registry, chain: chain, keys: keys, members: members}
}

// honestTransport casts the given decision from every member.
func (h *harness) honestTransport(decision func(ids.NodeID) bool) Transport {
	return TransportFunc(func(_ context.Context, member ids.NodeID, proposal Proposal) (Vote, error) {
		key := h.keys[member]
		var nonce [16]byte
		v := Vote{
			Voter:      member,
			ProposalID: proposal.ID,
			Decision:   decision(member),
			Nonce:      nonce,
			Timestamp:  time.Now().Unix(),
		}
		form, err := voteSigningForm(v)
		if err != nil {
			return Vote{}, err
		}
		signer, err := wire.NewSigner(key)
		if err != nil {
			return Vote{}, err
		}
		sig, err := signer.Sign(form)
		if err != nil {
			return Vote{}, err
		}
		v.Signature = sig
		return v, nil
	})
}

func TestRunProposalCommitsOnUnanimousApproval(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 7)
	h.engine.transport = h.honestTransport(func(ids.NodeID) bool { return true })

	outcome, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.NoError(err)
	require.True(outcome.ConsensusReached)
	require.Equal(7, outcome.Approvals)
	require.Equal(uint64(1), h.chain.Len())
}

func TestRunProposalCommitsOnExactSupermajority(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 7)
	// Supermajority(7) = ceil(14/3) = 5: five approvals out of seven members.
	approvers := map[ids.NodeID]bool{}
	for i, m := range h.members {
		approvers[m.NodeID] = i < 5
	}
	h.engine.transport = h.honestTransport(func(id ids.NodeID) bool { return approvers[id] })

	outcome, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.NoError(err)
	require.True(outcome.ConsensusReached)
	require.Equal(5, outcome.Approvals)
}

func TestRunProposalRejectsBelowSupermajority(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 7)
	approvers := map[ids.NodeID]bool{}
	for i, m := range h.members {
		approvers[m.NodeID] = i < 4
	}
	h.engine.transport = h.honestTransport(func(id ids.NodeID) bool { return approvers[id] })

	outcome, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.NoError(err)
	require.False(outcome.ConsensusReached)
	require.Equal(uint64(0), h.chain.Len())
}

func TestRunProposalRejectsInsufficientMembership(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 2)
	h.engine.transport = h.honestTransport(func(ids.NodeID) bool { return true })

	_, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.Error(err)
}

func TestRunProposalDropsForgedVotesAndStillCommits(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 7)

	forger, err := rsa.GenerateKey(rand.Reader, 4096)
	require.NoError(err)

	h.engine.transport = TransportFunc(func(_ context.Context, member ids.NodeID, proposal Proposal) (Vote, error) {
		var nonce [16]byte
		v := Vote{
			Voter:      member,
			ProposalID: proposal.ID,
			Decision:   true,
			Nonce:      nonce,
			Timestamp:  time.Now().Unix(),
		}
		form, err := voteSigningForm(v)
		require.NoError(err)

		key := h.keys[member]
		if member == h.members[0].NodeID {
			// Byzantine: sign with a key the registry never authenticated.
			key = forger
		}
		signer, err := wire.NewSigner(key)
		require.NoError(err)
		sig, err := signer.Sign(form)
		require.NoError(err)
		v.Signature = sig
		return v, nil
	})

	outcome, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.NoError(err)
	// 6 honest votes of 7 members still clears Supermajority(7) = 5.
	require.True(outcome.ConsensusReached)
	require.Equal(6, outcome.ValidVotes)
}

func TestRunProposalDetectsByzantineMajorityAndQuarantines(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 7)

	// Local()'s f=1: forge two voters' signatures so rejected > f and the
	// round aborts as a Byzantine majority instead of a plain supermajority
	// miss, with both offenders quarantined immediately.
	forger, err := rsa.GenerateKey(rand.Reader, 4096)
	require.NoError(err)
	forged := map[ids.NodeID]bool{
		h.members[0].NodeID: true,
		h.members[1].NodeID: true,
	}

	h.engine.transport = TransportFunc(func(_ context.Context, member ids.NodeID, proposal Proposal) (Vote, error) {
		var nonce [16]byte
		v := Vote{
			Voter:      member,
			ProposalID: proposal.ID,
			Decision:   true,
			Nonce:      nonce,
			Timestamp:  time.Now().Unix(),
		}
		form, err := voteSigningForm(v)
		require.NoError(err)

		key := h.keys[member]
		if forged[member] {
			key = forger
		}
		signer, err := wire.NewSigner(key)
		require.NoError(err)
		sig, err := signer.Sign(form)
		require.NoError(err)
		v.Signature = sig
		return v, nil
	})

	outcome, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.Error(err)
	require.False(outcome.ConsensusReached)
	require.ElementsMatch([]ids.NodeID{h.members[0].NodeID, h.members[1].NodeID}, outcome.ByzantineVoters)
	require.True(h.registry.IsQuarantined(h.members[0].NodeID))
	require.True(h.registry.IsQuarantined(h.members[1].NodeID))
	require.Equal(uint64(0), h.chain.Len())
}

func TestRunProposalExpiresOnDeadlineWithTooFewVotes(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 7)

	h.engine.transport = TransportFunc(func(ctx context.Context, member ids.NodeID, proposal Proposal) (Vote, error) {
		<-ctx.Done()
		return Vote{}, ctx.Err()
	})

	outcome, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(50*time.Millisecond))
	require.Error(err)
	require.False(outcome.ConsensusReached)
}

func TestRunProposalAtMostOnceCommit(t *testing.T) {
	require := require.New(t)
	h := buildHarness(t, 7)
	h.engine.transport = h.honestTransport(func(ids.NodeID) bool { return true })

	outcome1, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.NoError(err)
	outcome2, err := h.engine.RunProposal(context.Background(), []byte("payload"), h.members, time.Now().Add(time.Second))
	require.NoError(err)

	require.NotEqual(outcome1.ProposalID, outcome2.ProposalID)
	require.Equal(uint64(2), h.chain.Len())
}
