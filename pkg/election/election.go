// Package election implements Bully-style leader election with
// explicit terms (spec.md §4.8). A candidate challenges only peers with
// a strictly higher node id; any ack yields the election to that peer.
// The elected leader's sole duty is a periodic token-compaction job,
// grounded in the same ticker-driven loop shape as a desired-state
// reconciler, generalized to this cluster's domain.
package election

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/metrics"
	"github.com/cuemby/iffish/pkg/transport"
	"github.com/rs/zerolog"
)

// Role is this node's current election role.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "follower"
	}
}

// Config tunes election timing.
type Config struct {
	HeartbeatInterval time.Duration // used to derive the randomized election_timeout window
	BullyTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BullyTimeout == 0 {
		c.BullyTimeout = 500 * time.Millisecond
	}
	return c
}

// OnLeader is invoked whenever this node's leadership status changes.
type OnLeader func(isLeader bool, term uint64)

// Election owns this node's role, current_term, and voted_for_term.
type Election struct {
	cfg       Config
	selfID    clustertypes.NodeID
	dir       *directory.Directory
	transport *transport.Transport
	onLeader  OnLeader
	logger    zerolog.Logger

	mu           sync.Mutex
	role         Role
	currentTerm  uint64
	votedForTerm uint64
	lastCoord    time.Time
	pendingAcks  map[uint64]bool // term -> whether any ack has arrived
}

func New(cfg Config, selfID clustertypes.NodeID, dir *directory.Directory, tr *transport.Transport, onLeader OnLeader) *Election {
	cfg = cfg.withDefaults()
	return &Election{
		cfg:         cfg,
		selfID:      selfID,
		dir:         dir,
		transport:   tr,
		onLeader:    onLeader,
		logger:      log.WithComponent("election").With().Str("peer_id", selfID.String()).Logger(),
		pendingAcks: make(map[uint64]bool),
	}
}

// Role reports the current role and term.
func (e *Election) Role() (Role, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role, e.currentTerm
}

// Run starts a new election whenever no Coordinator has arrived within
// a randomized election_timeout, until ctx is cancelled. It does not
// consult the directory for the leader's state.
func (e *Election) Run(ctx context.Context) {
	for {
		timeout := e.randomizedTimeout()
		timer := time.NewTimer(timeout)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.mu.Lock()
			sinceCoord := time.Since(e.lastCoord)
			isLeader := e.role == Leader
			e.mu.Unlock()
			if !isLeader && sinceCoord >= timeout {
				e.startElection()
			}
		}
	}
}

func (e *Election) randomizedTimeout() time.Duration {
	base := e.cfg.HeartbeatInterval
	if base <= 0 {
		base = time.Second
	}
	// 150-300% of heartbeat_interval, randomized (spec.md §4.8).
	factor := 1.5 + rand.Float64()*1.5
	return time.Duration(float64(base) * factor)
}

// startElection implements the Bully candidacy procedure: increment
// current_term, challenge every peer with a strictly higher node id,
// and self-declare leader if none acks within bully_timeout.
func (e *Election) startElection() {
	e.mu.Lock()
	e.currentTerm++
	term := e.currentTerm
	e.role = Candidate
	e.votedForTerm = term
	e.pendingAcks[term] = false
	e.mu.Unlock()

	metrics.ElectionsStarted.Inc()
	e.logger.Info().Uint64("term", term).Msg("starting election")

	higher := e.higherPeers()
	if len(higher) == 0 {
		e.becomeLeader(term)
		return
	}

	body := transport.NewEncoder().PutUint64(term).PutString(e.selfID.String()).Bytes()
	for _, p := range higher {
		ep, ok := p.PrimaryEndpoint()
		if !ok {
			continue
		}
		e.transport.Send(ep, transport.Frame{Type: transport.MsgElectionRequest, Body: body})
	}

	time.AfterFunc(e.cfg.BullyTimeout, func() {
		e.mu.Lock()
		acked := e.pendingAcks[term]
		stillCandidate := e.role == Candidate && e.currentTerm == term
		delete(e.pendingAcks, term)
		e.mu.Unlock()

		if !acked && stillCandidate {
			e.becomeLeader(term)
		}
	})
}

func (e *Election) higherPeers() []clustertypes.PeerRecord {
	var out []clustertypes.PeerRecord
	for _, p := range e.dir.LivePeers() {
		if e.selfID.Less(p.NodeID) {
			out = append(out, p)
		}
	}
	return out
}

func (e *Election) becomeLeader(term uint64) {
	e.mu.Lock()
	if e.currentTerm != term {
		e.mu.Unlock()
		return
	}
	e.role = Leader
	e.lastCoord = time.Now()
	e.mu.Unlock()

	e.logger.Info().Uint64("term", term).Msg("declaring leadership")
	metrics.ElectionIsLeader.Set(1)
	metrics.ElectionCurrentTerm.Set(float64(term))

	body := transport.NewEncoder().PutUint64(term).PutString(e.selfID.String()).Bytes()
	for _, p := range e.dir.LivePeers() {
		ep, ok := p.PrimaryEndpoint()
		if !ok {
			continue
		}
		e.transport.Send(ep, transport.Frame{Type: transport.MsgCoordinator, Body: body})
	}

	if e.onLeader != nil {
		e.onLeader(true, term)
	}
}

// HandleElectionRequest replies ElectionAck(term) when the candidate's
// term is not behind ours, which makes the lower-id candidate yield.
func (e *Election) HandleElectionRequest(from clustertypes.NodeID, body []byte) {
	dec := transport.NewDecoder(body)
	term := dec.GetUint64()
	_ = dec.GetString()
	if dec.Err() != nil {
		return
	}

	e.mu.Lock()
	if term < e.currentTerm {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	rec, ok := e.dir.Get(from)
	if !ok {
		return
	}
	ep, ok := rec.PrimaryEndpoint()
	if !ok {
		return
	}

	ack := transport.NewEncoder().PutUint64(term).PutString(e.selfID.String()).Bytes()
	e.transport.Send(ep, transport.Frame{Type: transport.MsgElectionAck, Body: ack})
}

// HandleElectionAck records that some higher peer answered, so our own
// candidacy for that term yields instead of self-declaring.
func (e *Election) HandleElectionAck(from clustertypes.NodeID, body []byte) {
	dec := transport.NewDecoder(body)
	term := dec.GetUint64()
	if dec.Err() != nil {
		return
	}

	e.mu.Lock()
	if e.role == Candidate && e.currentTerm == term {
		e.pendingAcks[term] = true
		e.role = Follower
	}
	e.mu.Unlock()
}

// HandleCoordinator adopts any Coordinator whose term >= our
// current_term, stepping down unconditionally (spec.md §4.8).
func (e *Election) HandleCoordinator(from clustertypes.NodeID, body []byte) {
	dec := transport.NewDecoder(body)
	term := dec.GetUint64()
	if dec.Err() != nil {
		return
	}

	e.mu.Lock()
	if term < e.currentTerm {
		e.mu.Unlock()
		return
	}
	wasLeader := e.role == Leader
	e.currentTerm = term
	e.role = Follower
	e.lastCoord = time.Now()
	e.mu.Unlock()

	metrics.ElectionCurrentTerm.Set(float64(term))
	if wasLeader {
		metrics.ElectionIsLeader.Set(0)
		if e.onLeader != nil {
			e.onLeader(false, term)
		}
	}
}
