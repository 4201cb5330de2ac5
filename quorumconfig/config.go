// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorumconfig holds the tunable parameters of the quorum core,
// presented the way github.com/luxfi/consensus/config presents Parameters:
// a single struct with named deployment presets plus explicit validation.
package quorumconfig

import (
	"errors"
	"time"
)

// Validation sentinels, mirroring config.ErrInvalidK / ErrInvalidBeta style.
var (
	ErrMaxByzantineTooLow   = errors.New("maxByzantineFaults must be >= 0")
	ErrQuorumFloorTooLow    = errors.New("quorumFloor must be >= 1")
	ErrQuorumCeilingTooLow  = errors.New("quorumCeiling must be >= quorumFloor")
	ErrRoundDeadlineTooLow  = errors.New("roundDeadline must be positive")
	ErrRoundDeadlineTooHigh = errors.New("roundDeadline exceeds maxRoundDeadline")
	ErrSessionTTLTooLow     = errors.New("sessionTTL must be positive")
	ErrSuspicionWindowLow   = errors.New("suspicionWindow must be positive")
	ErrKeyBitsTooLow        = errors.New("minKeyBits must be >= 4096")
)

// Parameters holds every tunable used by the peer registry, consensus
// engine, audit chain, and quorum strategy.
type Parameters struct {
	// MaxByzantineFaults is f: the engine tolerates up to f arbitrarily
	// malicious voters per round; membership must carry >= 3f+1 peers.
	MaxByzantineFaults int

	// QuorumFloor / QuorumCeiling bound the Quorum Strategy's recommended
	// membership size (§4.4; Local 3 / 7, Testnet 7 / 11, Mainnet 13 / 21).
	QuorumFloor   int
	QuorumCeiling int

	// RoundDeadline is the nominal round deadline; only Validate reads it
	// (it must be positive and within MaxRoundDeadline), and no round is
	// given it automatically, since callers always pass a deadline.
	// MaxRoundDeadline is the hard ceiling a caller-supplied deadline may
	// not exceed (§4.2, default 30s).
	RoundDeadline    time.Duration
	MaxRoundDeadline time.Duration

	// MaxPayloadSize bounds a proposal's opaque payload in bytes.
	MaxPayloadSize int

	// ChallengeTTL bounds how long an authentication challenge remains
	// valid once issued (§4.1, default 60s).
	ChallengeTTL time.Duration

	// SessionTTL is the lifetime of a session handle after authentication
	// (§3, default 24h).
	SessionTTL time.Duration

	// SweepInterval is the cadence of the periodic expired-session sweep
	// (§4.1, nominally once per minute).
	SweepInterval time.Duration

	// SuspicionThreshold is the number of suspicions within SuspicionWindow
	// that triggers quarantine (§4.1, default 3).
	SuspicionThreshold int
	SuspicionWindow    time.Duration

	// TrustQuarantineFloor is the trustScore below which a peer is
	// quarantined outright (§4.1, default 0.4).
	TrustQuarantineFloor float64

	// ConflictRateQuarantineCeiling is the observed-conflict-rate above
	// which a peer is quarantined (§4.1, default 0.3).
	ConflictRateQuarantineCeiling float64

	// MinKeyBits is the minimum RSA modulus size accepted at authentication
	// (§3, default 4096).
	MinKeyBits int

	// SuspicionRingSize bounds the per-peer suspicion log (§3).
	SuspicionRingSize int

	// AuditTailCacheSize is a tail-cache size (default 256) that no
	// component reads: audit.Chain keeps every appended record in memory
	// and has no on-disk store or bounded tail cache.
	AuditTailCacheSize int

	// LatencyWindow is k, the number of trailing round latencies the
	// Quorum Strategy averages before deciding latency has degraded
	// (§4.4 "Adjustment triggers", default 10).
	LatencyWindow int

	// LatencyDegradedThreshold is the average round latency over
	// LatencyWindow rounds above which the strategy signals degraded
	// network conditions (§4.4).
	LatencyDegradedThreshold time.Duration

	// ConnectivityFloor is the connectivity score below which the
	// strategy suspects a network partition (§4.4).
	ConnectivityFloor float64
}

// Local returns parameters for a small local development quorum.
func Local() Parameters {
	return Parameters{
		MaxByzantineFaults:            1,
		QuorumFloor:                   3,
		QuorumCeiling:                 7,
		RoundDeadline:                 5 * time.Second,
		MaxRoundDeadline:              30 * time.Second,
		MaxPayloadSize:                1 << 20,
		ChallengeTTL:                  60 * time.Second,
		SessionTTL:                    24 * time.Hour,
		SweepInterval:                 time.Minute,
		SuspicionThreshold:            3,
		SuspicionWindow:               5 * time.Minute,
		TrustQuarantineFloor:          0.4,
		ConflictRateQuarantineCeiling: 0.3,
		MinKeyBits:                    4096,
		SuspicionRingSize:             32,
		AuditTailCacheSize:            256,
		LatencyWindow:                 10,
		LatencyDegradedThreshold:      500 * time.Millisecond,
		ConnectivityFloor:             0.5,
	}
}

// Testnet returns parameters for a mid-sized testnet quorum (n ~ 11).
func Testnet() Parameters {
	p := Local()
	p.MaxByzantineFaults = 3
	p.QuorumFloor = 7
	p.QuorumCeiling = 11
	return p
}

// Mainnet returns parameters for a production-sized quorum (n ~ 21).
func Mainnet() Parameters {
	p := Local()
	p.MaxByzantineFaults = 6
	p.QuorumFloor = 13
	p.QuorumCeiling = 21
	return p
}

// ForPeerCount picks a preset sized for the given reachable peer count,
// mirroring consensus.GetConfig(nodeCount)'s deployment-size switch.
func ForPeerCount(n int) Parameters {
	switch {
	case n <= 5:
		return Local()
	case n <= 13:
		return Testnet()
	default:
		p := Mainnet()
		p.MaxByzantineFaults = (n - 1) / 3
		p.QuorumFloor = 2*n/3 + 1
		if p.QuorumCeiling < p.QuorumFloor {
			p.QuorumCeiling = p.QuorumFloor
		}
		return p
	}
}

// Validate checks internal consistency, mirroring config.Parameters'
// sentinel-error validation style.
func (p Parameters) Validate() error {
	if p.MaxByzantineFaults < 0 {
		return ErrMaxByzantineTooLow
	}
	if p.QuorumFloor < 1 {
		return ErrQuorumFloorTooLow
	}
	if p.QuorumCeiling < p.QuorumFloor {
		return ErrQuorumCeilingTooLow
	}
	if p.RoundDeadline <= 0 {
		return ErrRoundDeadlineTooLow
	}
	if p.RoundDeadline > p.MaxRoundDeadline {
		return ErrRoundDeadlineTooHigh
	}
	if p.SessionTTL <= 0 {
		return ErrSessionTTLTooLow
	}
	if p.SuspicionWindow <= 0 {
		return ErrSuspicionWindowLow
	}
	if p.MinKeyBits < 4096 {
		return ErrKeyBitsTooLow
	}
	return nil
}

// ByzantineMin returns ⌊2n/3⌋+1, the Byzantine-safe minimum membership size
// for n reachable authenticated peers (§4.4 sizing rule).
func ByzantineMin(n int) int {
	return (2*n)/3 + 1
}

// Supermajority returns ⌈2n/3⌉, the vote count required for safety
// against f <= (n-1)/3 Byzantine voters (§4.2 step 6, GLOSSARY).
func Supermajority(n int) int {
	return (2*n + 2) / 3
}
