// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package quorumcore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/quorumguard/consensus/round"
	"github.com/luxfi/quorumguard/events"
	"github.com/luxfi/quorumguard/peer"
	"github.com/luxfi/quorumguard/quorumconfig"
	"github.com/luxfi/quorumguard/strategy"
	"github.com/luxfi/quorumguard/wire"
)

type testNode struct {
	nodeID ids.NodeID
	key    *rsa.PrivateKey
}

// buildCore wires a Core whose transport signs an approving vote for every
// registered node, keyed by a map the test setup populates as each peer
// authenticates — the transport closure reads it lazily at dispatch time.
func buildCore(t *testing.T, n int) (*Core, []testNode) {
	t.Helper()
	require := require.New(t)

	params := quorumconfig.Local()
	verifier := wire.NewVerifier()

	selfKey, err := rsa.GenerateKey(rand.Reader, 4096)
	require.NoError(err)
	selfSigner, err := wire.NewSigner(selfKey)
	require.NoError(err)

	keys := make(map[ids.NodeID]*rsa.PrivateKey)
	core := New(ids.NodeID{}, params, selfSigner, verifier, votingTransport(keys), nil, nil, nil)

	nodes := make([]testNode, 0, n)
	for i := 0; i < n; i++ {
		key, err := rsa.GenerateKey(rand.Reader, 4096)
		require.NoError(err)

		nodeID, err := core.NewPeerIdentity()
		require.NoError(err)

		ch, err := core.IssuePeerChallenge(nodeID)
		require.NoError(err)

		now := time.Now().Unix()
		form, err := peer.AuthChallengeForm(nodeID, ch, now)
		require.NoError(err)

		signer, err := wire.NewSigner(key)
		require.NoError(err)
		sig, err := signer.Sign(form)
		require.NoError(err)

		_, err = core.RegisterPeer(nodeID, &key.PublicKey, ch, now, sig)
		require.NoError(err)

		keys[nodeID] = key
		nodes = append(nodes, testNode{nodeID: nodeID, key: key})
	}

	return core, nodes
}

func votingTransport(keys map[ids.NodeID]*rsa.PrivateKey) round.Transport {
	return round.TransportFunc(func(_ context.Context, member ids.NodeID, proposal round.Proposal) (round.Vote, error) {
		var nonce [16]byte
		v := round.Vote{
			Voter:      member,
			ProposalID: proposal.ID,
			Decision:   true,
			Nonce:      nonce,
			Timestamp:  time.Now().Unix(),
		}
		form, err := wire.Canonical(
			wire.Field{Key: "decision", Value: v.Decision},
			wire.Field{Key: "nonce", Value: v.Nonce[:]},
			wire.Field{Key: "proposalId", Value: v.ProposalID[:]},
			wire.Field{Key: "timestamp", Value: v.Timestamp},
			wire.Field{Key: "voter", Value: v.Voter.String()},
		)
		if err != nil {
			return round.Vote{}, err
		}
		signer, err := wire.NewSigner(keys[member])
		if err != nil {
			return round.Vote{}, err
		}
		sig, err := signer.Sign(form)
		if err != nil {
			return round.Vote{}, err
		}
		v.Signature = sig
		return v, nil
	})
}

func TestCoreRegisterAndRecommendMembership(t *testing.T) {
	require := require.New(t)
	core, nodes := buildCore(t, 7)

	candidates := make([]strategy.CandidateInput, 0, len(nodes))
	for _, n := range nodes {
		candidates = append(candidates, strategy.CandidateInput{
			NodeID:       n.nodeID,
			Connectivity: 0.8,
			Centrality:   0.8,
			TrustScore:   1.0,
			RecentUptime: 1.0,
			ClusterID:    "default",
			LatencyMs:    20,
		})
	}

	membership, err := core.RecommendMembership(candidates, 0)
	require.NoError(err)
	require.Equal(quorumconfig.ByzantineMin(7), len(membership.Members))
}

func TestCoreSubmitProposalCommitsAndSeals(t *testing.T) {
	require := require.New(t)
	core, _ := buildCore(t, 7)

	membership := core.AuthenticatedMembers()
	require.Len(membership, 7)

	outcome, auditIndex, err := core.SubmitProposal(context.Background(), []byte("payload"), membership, time.Now().Add(time.Second))
	require.NoError(err)
	require.True(outcome.ConsensusReached)
	require.Equal(uint64(0), auditIndex)

	records := core.GetAuditChain(0, 0)
	require.Len(records, 1)
}

func TestCoreHealthCheckReportsDegradedBelowFloor(t *testing.T) {
	require := require.New(t)
	core, _ := buildCore(t, 1)

	status, err := core.HealthCheck(context.Background())
	require.NoError(err)
	m, ok := status.(map[string]interface{})
	require.True(ok)
	require.Equal("degraded", m["status"])
}

func TestCoreQuarantinePeerEmitsEvent(t *testing.T) {
	require := require.New(t)
	core, nodes := buildCore(t, 4)
	target := nodes[0].nodeID

	sink := make(events.ChannelSink, 16)
	core.sink = sink

	for i := 0; i < 10; i++ {
		core.QuarantinePeer(target, "observed double-voting")
	}

	_, err := core.registry.Authorize(target)
	require.Error(err)

	select {
	case ev := <-sink:
		require.Equal(events.KindPeerQuarantined, ev.Kind)
		require.NotNil(ev.PeerQuarantined)
		require.Equal(target, ev.PeerQuarantined.NodeID)
	default:
		require.Fail("no PeerQuarantined event was emitted")
	}
}
