// Package clustertypes defines the core data structures shared by every
// component of the iffish cluster: node identity, peer membership, gossip
// payloads, tokens, engine handles, and analysis requests.
package clustertypes

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeID is a stable 128-bit node identity, generated once and persisted
// to the data directory. Equality defines identity.
type NodeID uuid.UUID

// NewNodeID generates a fresh random NodeID.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses the string form of a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("parse node id: %w", err)
	}
	return NodeID(id), nil
}

func (id NodeID) String() string { return uuid.UUID(id).String() }

// Less provides a deterministic total order over NodeIDs, used for Bully
// priority and dispatcher tie-breaks.
func (id NodeID) Less(other NodeID) bool {
	a, b := uuid.UUID(id), uuid.UUID(other)
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Endpoint is a reachable peer-transport address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// PeerState is the lifecycle state of a peer as tracked by the directory.
type PeerState int

const (
	StateJoining PeerState = iota
	StateAlive
	StateSuspect
	StateDead
	StateLeaving
)

func (s PeerState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// stateRank orders states for upsert tie-breaking: Dead > Leaving > Suspect
// > Alive > Joining, per spec.
func stateRank(s PeerState) int {
	switch s {
	case StateDead:
		return 4
	case StateLeaving:
		return 3
	case StateSuspect:
		return 2
	case StateAlive:
		return 1
	default:
		return 0
	}
}

// StateOutranks reports whether s should win a same-incarnation merge
// against other.
func StateOutranks(s, other PeerState) bool {
	return stateRank(s) > stateRank(other)
}

// LoadSample is a point-in-time load observation for a node, replaced in
// whole by a strictly newer SampledAt.
type LoadSample struct {
	CPURatio   float64
	QueueDepth int
	Inflight   int
	RTTEWMAMs  float64
	SampledAt  time.Time
}

// Stale reports whether the sample is older than ttl as of now.
func (l LoadSample) Stale(now time.Time, ttl time.Duration) bool {
	if l.SampledAt.IsZero() {
		return true
	}
	return now.Sub(l.SampledAt) > ttl
}

// PeerRecord is the directory's view of one cluster member.
type PeerRecord struct {
	NodeID          NodeID
	Endpoints       []Endpoint // most-recently-successful first
	State           PeerState
	Incarnation     uint64
	LastHeartbeatAt time.Time
	Load            LoadSample
	TermSeen        uint64
}

// PrimaryEndpoint returns the endpoint the directory prefers for dialing,
// or the zero value if none is known.
func (p PeerRecord) PrimaryEndpoint() (Endpoint, bool) {
	if len(p.Endpoints) == 0 {
		return Endpoint{}, false
	}
	return p.Endpoints[0], true
}

// Term is the cluster-wide monotonically increasing leadership epoch.
type Term uint64

// TokenID uniquely identifies a token, independent of its MAC.
type TokenID [16]byte

func NewTokenID() TokenID {
	var id TokenID
	copy(id[:], uuid.New()[:])
	return id
}

func (t TokenID) String() string { return fmt.Sprintf("%x", t[:]) }

// ParseTokenID parses the hex form produced by TokenID.String.
func ParseTokenID(s string) (TokenID, error) {
	var id TokenID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return TokenID{}, fmt.Errorf("parse token id: %w", err)
	}
	if len(decoded) != len(id) {
		return TokenID{}, fmt.Errorf("parse token id: wrong length")
	}
	copy(id[:], decoded)
	return id, nil
}

// Token is a cluster-wide API credential. Version is a per-token Lamport
// counter bumped on every mutation; Revoked is terminal once true.
type Token struct {
	ID        TokenID
	Name      string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Revoked   bool
	Version   uint64
}

// Expired reports whether the token has passed its expiry as of now.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Outranks implements the LWW-with-revoked-wins-on-tie-with-smaller-id-wins
// merge order from spec §4.2.
func (t Token) Outranks(other Token) bool {
	if t.Version != other.Version {
		return t.Version > other.Version
	}
	if t.Revoked != other.Revoked {
		return t.Revoked
	}
	return bytesLess(t.ID[:], other.ID[:])
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// EngineState is the lifecycle state of a pooled engine process.
type EngineState int

const (
	EngineIdle EngineState = iota
	EngineBusy
	EngineDraining
	EngineDead
)

func (s EngineState) String() string {
	switch s {
	case EngineIdle:
		return "idle"
	case EngineBusy:
		return "busy"
	case EngineDraining:
		return "draining"
	case EngineDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Request is a single position-analysis request submitted to the cluster.
// HopCount is 0 for a request entering the cluster from a client; the
// dispatcher sets it to 1 on the single Forward a request may travel
// (spec.md §4.9), and a peer that receives HopCount > 0 must execute
// locally rather than forward again.
type Request struct {
	RequestID     string
	Position      string // opaque FEN, never interpreted by the core
	Depth         int
	Deadline      time.Time
	ClientTokenID TokenID
	HopCount      int
}

// AnalysisResult is what the dispatcher returns on success. Evaluation
// fields are an opaque pass-through of whatever the engine reported.
type AnalysisResult struct {
	RequestID    string
	BestMove     string
	PonderMove   string
	ScoreCP      *int
	ScoreMate    *int
	DepthReached int
	PV           []string
	Nodes        int64
	NPS          int64
	ExecutedBy   NodeID
}

// GossipDigest is the per-peer high-watermark state the gossip engine
// exchanges so that both sides can compute what the other is missing.
type GossipDigest struct {
	MembershipHWM map[NodeID]uint64
	TokenHWM      map[TokenID]uint64
}
