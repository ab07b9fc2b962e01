// Package directory implements the Peer Directory: the single in-memory
// map from node id to PeerRecord that every other component reads and
// writes through. It is a passive data store, owned by neither the
// Failure Detector nor the Transport, to avoid the two forming a cycle
// (spec.md's "Cycles between components" note) — both hold a handle to
// it and neither inverts control onto the other through callbacks.
package directory

import (
	"reflect"
	"sync"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/metrics"
)

// Directory is the single cross-component mutable map. All writes are
// serialized behind one lock held only for the O(1) upsert itself.
type Directory struct {
	mu     sync.Mutex
	peers  map[clustertypes.NodeID]clustertypes.PeerRecord
	selfID clustertypes.NodeID
}

// New constructs an empty directory. selfID never appears in Snapshot.
func New(selfID clustertypes.NodeID) *Directory {
	return &Directory{
		peers:  make(map[clustertypes.NodeID]clustertypes.PeerRecord),
		selfID: selfID,
	}
}

// Upsert merges rec into the directory by (incarnation, then state
// order), per spec.md §4.3. It reports whether the merge actually
// changed the stored record, so gossip can skip re-broadcasting a no-op.
func (d *Directory) Upsert(rec clustertypes.PeerRecord) bool {
	if rec.NodeID == d.selfID {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.peers[rec.NodeID]
	if !ok {
		d.peers[rec.NodeID] = rec
		metrics.PeerIncarnation.WithLabelValues(rec.NodeID.String()).Set(float64(rec.Incarnation))
		return true
	}

	if rec.Incarnation < existing.Incarnation {
		return false // (a) a lower incarnation is discarded
	}

	if rec.Incarnation == existing.Incarnation {
		// Dead is sticky at the same incarnation unless outranked.
		if existing.State == clustertypes.StateDead && rec.State != clustertypes.StateDead {
			return false
		}
		if !clustertypes.StateOutranks(rec.State, existing.State) && rec.State != existing.State {
			return false
		}
	}

	merged := rec
	merged.Endpoints = mergeEndpoints(existing.Endpoints, rec.Endpoints)
	if rec.Load.SampledAt.Before(existing.Load.SampledAt) {
		merged.Load = existing.Load
	}
	if reflect.DeepEqual(merged, existing) {
		return false
	}
	d.peers[rec.NodeID] = merged

	if rec.Incarnation > existing.Incarnation {
		metrics.PeerIncarnation.WithLabelValues(rec.NodeID.String()).Set(float64(rec.Incarnation))
	}
	return true
}

// mergeEndpoints keeps the most-recently-successful endpoint first,
// appending any new ones the incoming record introduced.
func mergeEndpoints(existing, incoming []clustertypes.Endpoint) []clustertypes.Endpoint {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[clustertypes.Endpoint]bool, len(incoming))
	merged := append([]clustertypes.Endpoint(nil), incoming...)
	for _, e := range merged {
		seen[e] = true
	}
	for _, e := range existing {
		if !seen[e] {
			merged = append(merged, e)
			seen[e] = true
		}
	}
	return merged
}

// MarkSuspect transitions a known peer to Suspect without touching its
// incarnation. No-op if the peer is unknown or already ranked >= Suspect.
func (d *Directory) MarkSuspect(id clustertypes.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[id]
	if !ok || clustertypes.StateOutranks(rec.State, clustertypes.StateSuspect) {
		return
	}
	rec.State = clustertypes.StateSuspect
	d.peers[id] = rec
}

// MarkDead transitions a known peer to Dead. Dead is sticky: a later
// Upsert at the same incarnation cannot undo it (only a higher
// incarnation can, via Upsert).
func (d *Directory) MarkDead(id clustertypes.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[id]
	if !ok {
		return
	}
	rec.State = clustertypes.StateDead
	d.peers[id] = rec
}

// Get returns a copy of one peer's record.
func (d *Directory) Get(id clustertypes.NodeID) (clustertypes.PeerRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers[id]
	return rec, ok
}

// Snapshot returns a point-in-time copy of every known peer. Callers
// must not cache it beyond a single operation (spec.md §4.3).
func (d *Directory) Snapshot() []clustertypes.PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]clustertypes.PeerRecord, 0, len(d.peers))
	for _, rec := range d.peers {
		out = append(out, rec)
	}
	return out
}

// Len reports the number of known peers, excluding self.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

// LivePeers returns peers not in state Dead, for heartbeat fan-out.
func (d *Directory) LivePeers() []clustertypes.PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]clustertypes.PeerRecord, 0, len(d.peers))
	for _, rec := range d.peers {
		if rec.State != clustertypes.StateDead {
			out = append(out, rec)
		}
	}
	return out
}

// TouchHeartbeat records that a HeartbeatAck was just received from id,
// refreshing its last-heartbeat timestamp and reviving it to Alive if it
// was Suspect (a liveness proof per spec.md §4.6).
func (d *Directory) TouchHeartbeat(id clustertypes.NodeID, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[id]
	if !ok {
		return
	}
	rec.LastHeartbeatAt = at
	if rec.State == clustertypes.StateSuspect {
		rec.State = clustertypes.StateAlive
	}
	d.peers[id] = rec
}
