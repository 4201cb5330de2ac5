// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"context"

	"github.com/luxfi/ids"
)

// Transport dispatches a proposal to one member and returns its vote once
// the member responds. The engine spawns one call per member concurrently
// (§5: "Vote dispatch to the m membership peers runs concurrently; no
// peer's delay can stall another's send or receipt"), so implementations
// must be safe for concurrent use and must respect ctx cancellation when
// the round's deadline passes.
type Transport interface {
	Dispatch(ctx context.Context, member ids.NodeID, proposal Proposal) (Vote, error)
}

// TransportFunc adapts a function to a Transport, mirroring the teacher's
// sendermock.MockSender function-adapter style for test doubles.
type TransportFunc func(ctx context.Context, member ids.NodeID, proposal Proposal) (Vote, error)

// Dispatch implements Transport.
func (f TransportFunc) Dispatch(ctx context.Context, member ids.NodeID, proposal Proposal) (Vote, error) {
	return f(ctx, member, proposal)
}
