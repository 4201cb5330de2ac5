// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package audit implements the Audit Chain (§4.3): an append-only,
// hash-linked, signature-bound record of every committed consensus
// decision.
package audit

import (
	"crypto/rsa"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/quorumguard/quorumerrors"
	"github.com/luxfi/quorumguard/quorummetrics"
	"github.com/luxfi/quorumguard/wire"
)

// genesisHash is the previousHash of the first record (§4.3: "Genesis
// record uses previousHash = \"0\" * 64", represented here as the zero
// value of [32]byte rather than a hex string).
var genesisHash = [32]byte{}

// Outcome is the embedded ConsensusOutcome (§3) an audit record binds.
type Outcome struct {
	ProposalID  ids.ID
	PayloadHash [32]byte
	TotalVotes  int
	ValidVotes  int
	Approvals   int
	Consensus   bool
	Byzantine   []ids.NodeID
	Proof       []byte
	CommittedAt time.Time
}

// Record is an AuditRecord (§3), immutable once appended.
type Record struct {
	Index           uint64
	Outcome         Outcome
	PreviousHash    [32]byte
	RecordHash      [32]byte
	RecordSignature []byte
}

// canonicalForm renders the fields a record's hash covers, in the lexical
// -key / decimal-integer / base64url form fixed by §6.
func (r *Record) canonicalForm() ([]byte, error) {
	byzantine := make([]byte, 0, len(r.Outcome.Byzantine)*20)
	for _, id := range r.Outcome.Byzantine {
		byzantine = append(byzantine, id[:]...)
	}

	return wire.Canonical(
		wire.Field{Key: "approvals", Value: int64(r.Outcome.Approvals)},
		wire.Field{Key: "byzantine", Value: byzantine},
		wire.Field{Key: "consensus", Value: r.Outcome.Consensus},
		wire.Field{Key: "index", Value: int64(r.Index)},
		wire.Field{Key: "payloadHash", Value: r.Outcome.PayloadHash[:]},
		wire.Field{Key: "previousHash", Value: r.PreviousHash[:]},
		wire.Field{Key: "proposalId", Value: r.Outcome.ProposalID[:]},
		wire.Field{Key: "proof", Value: r.Outcome.Proof},
		wire.Field{Key: "timestamp", Value: r.Outcome.CommittedAt.Unix()},
		wire.Field{Key: "totalVotes", Value: int64(r.Outcome.TotalVotes)},
		wire.Field{Key: "validVotes", Value: int64(r.Outcome.ValidVotes)},
	)
}

func (r *Record) computeHash() ([32]byte, error) {
	form, err := r.canonicalForm()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(form), nil
}

// VerifyResult is the outcome of Chain.Verify (§4.3).
type VerifyResult struct {
	Valid            bool
	FirstTamperedIdx uint64
}

// Chain is the Audit Chain (§4.3): append-only, totally ordered, and
// self-contained to verify given only its bytes and the committing node's
// public key. It is modeled as an explicit injected value (§9) rather than
// a package-level global, consumed by the Consensus Engine at commit time.
type Chain struct {
	mu       sync.Mutex
	records  []*Record
	signer   wire.Signer
	verifier wire.Verifier
	log      log.Logger
	metrics  *quorummetrics.Metrics
}

// New constructs an empty Audit Chain. signer is the committing node's own
// signer, used to sign each appended record's hash.
func New(signer wire.Signer, verifier wire.Verifier, logger log.Logger, metrics *quorummetrics.Metrics) *Chain {
	if logger == nil {
		logger = log.NoLog{}
	}
	return &Chain{
		signer:   signer,
		verifier: verifier,
		log:      logger,
		metrics:  metrics,
	}
}

// Tail returns the current tail record's hash, or genesisHash if the chain
// is empty.
func (c *Chain) Tail() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tailLocked()
}

func (c *Chain) tailLocked() [32]byte {
	if len(c.records) == 0 {
		return genesisHash
	}
	return c.records[len(c.records)-1].RecordHash
}

// Append implements append(outcome) -> index (§4.3): atomically loads the
// current tail's recordHash, constructs the new record with
// previousHash = tail.recordHash, computes recordHash, signs it, and
// appends. Concurrent writers observe a changed tail as a retry: Append
// always recomputes the tail under the same lock it appends under, so no
// external retry loop is needed here (§4.3 failure semantics).
func (c *Chain) Append(outcome Outcome) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &Record{
		Index:        uint64(len(c.records)),
		Outcome:      outcome,
		PreviousHash: c.tailLocked(),
	}

	hash, err := rec.computeHash()
	if err != nil {
		return 0, quorumerrors.New(quorumerrors.KindInternal, "failed to compute record hash", err)
	}
	rec.RecordHash = hash

	sig, err := c.signer.Sign(hash[:])
	if err != nil {
		return 0, quorumerrors.New(quorumerrors.KindInternal, "failed to sign audit record", quorumerrors.ErrInternalSignature)
	}
	rec.RecordSignature = sig

	c.records = append(c.records, rec)

	if c.metrics != nil {
		c.metrics.AuditChainLength.Set(float64(len(c.records)))
	}
	c.log.Info("audit record appended", "index", rec.Index, "proposalId", outcome.ProposalID.String())

	return rec.Index, nil
}

// Len returns the number of records currently appended.
func (c *Chain) Len() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.records))
}

// Records returns the records in [start, end) in a new slice; the *Record
// values themselves are shared with the chain, not copied. An end of 0
// means "through the tail".
func (c *Chain) Records(start, end uint64) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	if end == 0 || end > uint64(len(c.records)) {
		end = uint64(len(c.records))
	}
	if start > end {
		start = end
	}
	out := make([]*Record, end-start)
	copy(out, c.records[start:end])
	return out
}

// Verify implements verify(range?) -> {valid, firstTamperedIndex?} (§4.3):
// iterates in order, recomputes each recordHash, verifies each chain link,
// and verifies each recordSignature against committerPub (a nil
// committerPub skips the signature checks). Verification
// never mutates and may run concurrently with Append, operating over a
// snapshot of the chain prefix taken at call time (§5).
func (c *Chain) Verify(committerPub *rsa.PublicKey) VerifyResult {
	snapshot := c.Records(0, 0)

	prev := genesisHash
	for _, rec := range snapshot {
		if rec.PreviousHash != prev {
			return VerifyResult{Valid: false, FirstTamperedIdx: rec.Index}
		}
		hash, err := rec.computeHash()
		if err != nil || hash != rec.RecordHash {
			return VerifyResult{Valid: false, FirstTamperedIdx: rec.Index}
		}
		if committerPub != nil {
			if err := c.verifier.Verify(committerPub, rec.RecordHash[:], rec.RecordSignature); err != nil {
				return VerifyResult{Valid: false, FirstTamperedIdx: rec.Index}
			}
		}
		prev = rec.RecordHash
	}
	return VerifyResult{Valid: true}
}

// Snapshot implements snapshot(name) -> snapshotId (§4.3): a
// content-addressed identifier over the canonical serialization of the
// full chain plus metadata, letting an external verifier prove the
// chain's state at a point in time.
func (c *Chain) Snapshot(name string) ([32]byte, error) {
	records := c.Records(0, 0)

	var buf []byte
	for _, rec := range records {
		form, err := rec.canonicalForm()
		if err != nil {
			return [32]byte{}, err
		}
		buf = append(buf, form...)
		buf = append(buf, rec.RecordHash[:]...)
	}
	form, err := wire.Canonical(
		wire.Field{Key: "length", Value: int64(len(records))},
		wire.Field{Key: "name", Value: name},
	)
	if err != nil {
		return [32]byte{}, err
	}
	buf = append(buf, form...)

	return sha256.Sum256(buf), nil
}
