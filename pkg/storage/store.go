// Package storage persists the only state a node keeps across restarts:
// its node id, its last incarnation, and the token mutation log (spec.md
// §6 "Persisted state"). Everything else — membership, terms, engine
// handles — is rebuilt in memory on startup.
package storage

import "github.com/cuemby/iffish/pkg/clustertypes"

// TokenMutation is one append-only entry in tokens.log: a full token
// record as it looked right after the mutation that produced it. Replay
// order is preserved so LWW merges during replay land on the same state
// the live store would have converged to.
type TokenMutation struct {
	Seq   uint64
	Token clustertypes.Token
}

// Store is the persistence interface backing a single node's data
// directory.
type Store interface {
	// NodeIdentity returns the persisted node id and last incarnation,
	// creating and persisting a fresh node id on first boot.
	NodeIdentity() (clustertypes.NodeID, uint64, error)

	// SaveIncarnation persists the node's own incarnation so a restart
	// resumes at last_incarnation+1 (spec.md §6).
	SaveIncarnation(incarnation uint64) error

	// AppendTokenMutation appends one mutation to tokens.log.
	AppendTokenMutation(t clustertypes.Token) error

	// ReplayTokenLog returns every mutation in append order, for startup
	// replay into the Token Store.
	ReplayTokenLog() ([]TokenMutation, error)

	// CompactTokenLog rewrites tokens.log to keep only the given
	// snapshot, dropping mutation history. Used by the leader's periodic
	// token-compaction job once revoked tokens pass RETENTION.
	CompactTokenLog(snapshot []clustertypes.Token) error

	Close() error
}
