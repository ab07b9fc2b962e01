// Package discovery produces a stream of candidate peer endpoints from
// pluggable sources — static list, UDP multicast announcements, and DNS
// SRV/A resolution (spec.md §4.5). Sources only emit Candidates; the
// caller (pkg/manager) decides how each one reaches the Peer Directory
// (C3).
package discovery

import (
	"context"

	"github.com/cuemby/iffish/pkg/clustertypes"
)

// Candidate is one discovered peer, before the directory has any
// liveness information about it. NodeID is zero when a source only
// knows an address (static seeds, DNS); the caller sends an Announce to
// the endpoint, and learns the peer's identity only from the body of an
// Announce that peer sends in turn, not from the transport handshake.
type Candidate struct {
	NodeID      clustertypes.NodeID
	Incarnation uint64
	Endpoints   []clustertypes.Endpoint
}

// Source produces candidates until ctx is cancelled, calling emit for
// each one it finds. Sources run independently and compose additively;
// duplicates collapse in the directory's upsert.
type Source interface {
	Run(ctx context.Context, emit func(Candidate))
}
