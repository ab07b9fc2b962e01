// Package failuredetector implements the per-peer Alive → Suspect →
// Dead state machine from spec.md §4.6: heartbeats on a fixed interval,
// suspicion after k missed acks, death after m, indirect probing through
// a handful of other peers before declaring Suspect, and incarnation
// self-defense when this node hears itself reported unhealthy.
package failuredetector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/transport"
	"github.com/rs/zerolog"
)

// Config tunes the detector's timing. HeartbeatInterval is the only
// value spec.md requires as configuration; the rest derive from it
// unless overridden.
type Config struct {
	HeartbeatInterval time.Duration
	SuspectAfter      int // k, default 3
	DeadAfter         int // m, default 5
	IndirectProbes    int // number of peers asked to relay-probe a suspect, default 3
}

func (c Config) withDefaults() Config {
	if c.SuspectAfter == 0 {
		c.SuspectAfter = 3
	}
	if c.DeadAfter == 0 {
		c.DeadAfter = 5
	}
	if c.IndirectProbes == 0 {
		c.IndirectProbes = 3
	}
	return c
}

// SelfDefense is invoked when this node hears itself reported Suspect or
// Dead; the caller bumps its own incarnation.
type SelfDefense func()

// Detector tracks heartbeat round trips for every known peer and drives
// directory state transitions.
type Detector struct {
	cfg           Config
	dir           *directory.Directory
	transport     *transport.Transport
	selfID        clustertypes.NodeID
	onSelfAccused SelfDefense
	logger        zerolog.Logger

	mu        sync.Mutex
	lastAckAt map[clustertypes.NodeID]time.Time
	missed    map[clustertypes.NodeID]int
	rtt       map[clustertypes.NodeID]ewma.MovingAverage
}

// New constructs a Detector bound to dir and tr. onSelfAccused may be nil.
func New(cfg Config, selfID clustertypes.NodeID, dir *directory.Directory, tr *transport.Transport, onSelfAccused SelfDefense) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:           cfg,
		dir:           dir,
		transport:     tr,
		selfID:        selfID,
		onSelfAccused: onSelfAccused,
		logger:        log.WithComponent("failuredetector").With().Str("peer_id", selfID.String()).Logger(),
		lastAckAt:     make(map[clustertypes.NodeID]time.Time),
		missed:        make(map[clustertypes.NodeID]int),
		rtt:           make(map[clustertypes.NodeID]ewma.MovingAverage),
	}
}

// Run ticks every HeartbeatInterval, sending a Heartbeat to each
// non-Dead peer and evaluating suspect/dead transitions for peers that
// haven't acked recently.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Detector) tick() {
	now := time.Now()
	for _, peer := range d.dir.LivePeers() {
		d.sendHeartbeat(peer)
		d.evaluate(peer, now)
	}
}

func (d *Detector) sendHeartbeat(peer clustertypes.PeerRecord) {
	ep, ok := peer.PrimaryEndpoint()
	if !ok {
		return
	}

	sentAt := time.Now()
	body := transport.NewEncoder().PutString(d.selfID.String()).PutInt64(sentAt.UnixNano()).Bytes()

	if err := d.transport.Send(ep, transport.Frame{Type: transport.MsgHeartbeat, Body: body}); err != nil {
		d.logger.Debug().Err(err).Str("peer_id", peer.NodeID.String()).Msg("heartbeat send failed")
		d.recordMiss(peer.NodeID)
	}
}

// HandleHeartbeatAck is called by the transport's frame handler when an
// ack arrives. It refreshes liveness and the RTT EWMA.
func (d *Detector) HandleHeartbeatAck(from clustertypes.NodeID, body []byte) {
	dec := transport.NewDecoder(body)
	sentAtNanos := dec.GetInt64()
	if dec.Err() != nil {
		return
	}

	now := time.Now()
	rtt := now.Sub(time.Unix(0, sentAtNanos))

	d.mu.Lock()
	d.lastAckAt[from] = now
	d.missed[from] = 0
	avg, ok := d.rtt[from]
	if !ok {
		avg = ewma.NewMovingAverage()
		d.rtt[from] = avg
	}
	avg.Add(float64(rtt.Milliseconds()))
	rttMs := avg.Value()
	d.mu.Unlock()

	d.dir.TouchHeartbeat(from, now)

	if rec, ok := d.dir.Get(from); ok {
		rec.Load.RTTEWMAMs = rttMs
		d.dir.Upsert(rec)
	}
}

// HandleHeartbeat is called when an inbound Heartbeat frame arrives;
// replies with an ack carrying the same timestamp.
func (d *Detector) HandleHeartbeat(from clustertypes.NodeID, body []byte) {
	rec, ok := d.dir.Get(from)
	if !ok {
		return
	}
	ep, ok := rec.PrimaryEndpoint()
	if !ok {
		return
	}

	dec := transport.NewDecoder(body)
	_ = dec.GetString() // sender node id, informational
	sentAtNanos := dec.GetInt64()
	if dec.Err() != nil {
		return
	}

	ack := transport.NewEncoder().PutInt64(sentAtNanos).Bytes()
	d.transport.Send(ep, transport.Frame{Type: transport.MsgHeartbeatAck, Body: ack})
}

func (d *Detector) recordMiss(id clustertypes.NodeID) {
	d.mu.Lock()
	d.missed[id]++
	count := d.missed[id]
	d.mu.Unlock()

	if count >= d.cfg.SuspectAfter {
		d.maybeIndirectProbe(id)
	}
}

func (d *Detector) evaluate(peer clustertypes.PeerRecord, now time.Time) {
	d.mu.Lock()
	last, seen := d.lastAckAt[peer.NodeID]
	d.mu.Unlock()

	if !seen {
		last = peer.LastHeartbeatAt
	}
	if last.IsZero() {
		return
	}

	elapsed := now.Sub(last)
	suspectAt := time.Duration(d.cfg.SuspectAfter) * d.cfg.HeartbeatInterval
	deadAt := time.Duration(d.cfg.DeadAfter) * d.cfg.HeartbeatInterval

	switch {
	case elapsed >= deadAt:
		if peer.NodeID == d.selfID {
			d.refuteSelf()
			return
		}
		d.dir.MarkDead(peer.NodeID)
	case elapsed >= suspectAt:
		if peer.NodeID == d.selfID {
			d.refuteSelf()
			return
		}
		d.dir.MarkSuspect(peer.NodeID)
	}
}

// refuteSelf implements incarnation self-defense (spec.md §4.6): hearing
// ourselves reported unhealthy triggers an immediate incarnation bump
// via the supplied callback.
func (d *Detector) refuteSelf() {
	if d.onSelfAccused != nil {
		d.onSelfAccused()
	}
}

// maybeIndirectProbe asks IndirectProbes other live peers to ping the
// suspect on our behalf before we locally mark it Suspect, reducing
// false positives from a flaky direct path.
func (d *Detector) maybeIndirectProbe(suspect clustertypes.NodeID) {
	live := d.dir.LivePeers()
	candidates := make([]clustertypes.PeerRecord, 0, len(live))
	for _, p := range live {
		if p.NodeID != suspect {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return
	}

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	n := d.cfg.IndirectProbes
	if n > len(candidates) {
		n = len(candidates)
	}

	target, ok := d.dir.Get(suspect)
	if !ok {
		return
	}
	ep, ok := target.PrimaryEndpoint()
	if !ok {
		return
	}

	body := transport.NewEncoder().PutString(suspect.String()).PutString(ep.Host).PutUint32(uint32(ep.Port)).Bytes()
	for i := 0; i < n; i++ {
		relayEp, ok := candidates[i].PrimaryEndpoint()
		if !ok {
			continue
		}
		d.transport.Send(relayEp, transport.Frame{Type: transport.MsgHeartbeat, Body: body})
	}
}
