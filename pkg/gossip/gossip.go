// Package gossip implements the anti-entropy engine (spec.md §4.7):
// every gossip_interval, pick a fanout of peers weighted towards the
// least-recently-gossiped, and exchange membership/load/token deltas
// bounded by max_bundle_bytes with priority rollover Token > Membership
// > Load.
package gossip

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
	"github.com/google/btree"
	"github.com/rs/zerolog"
)

// TokenSource is the subset of the Token Store the gossip engine needs:
// compute deltas newer than a peer's last-seen version, and apply a
// remote mutation using the LWW merge rule.
type TokenSource interface {
	TokenDeltasSince(seen map[clustertypes.TokenID]uint64) []clustertypes.Token
	ApplyRemoteToken(t clustertypes.Token) bool
}

// Config tunes one engine.
type Config struct {
	GossipInterval time.Duration
	Fanout         int
	MaxBundleBytes int
	LoadTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Fanout == 0 {
		c.Fanout = 3
	}
	if c.MaxBundleBytes == 0 {
		c.MaxBundleBytes = 16 * 1024
	}
	if c.LoadTTL == 0 {
		c.LoadTTL = 10 * time.Second
	}
	return c
}

// Engine runs the anti-entropy round loop.
type Engine struct {
	cfg       Config
	selfID    clustertypes.NodeID
	dir       *directory.Directory
	tokens    TokenSource
	transport *transport.Transport
	logger    zerolog.Logger

	mu           sync.Mutex
	lastGossiped map[clustertypes.NodeID]time.Time // staleness index source
	peerHWM      map[clustertypes.NodeID]clustertypes.GossipDigest
	localLoad    clustertypes.LoadSample
}

func New(cfg Config, selfID clustertypes.NodeID, dir *directory.Directory, tokens TokenSource, tr *transport.Transport) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:          cfg,
		selfID:       selfID,
		dir:          dir,
		tokens:       tokens,
		transport:    tr,
		logger:       log.WithComponent("gossip").With().Str("peer_id", selfID.String()).Logger(),
		lastGossiped: make(map[clustertypes.NodeID]time.Time),
		peerHWM:      make(map[clustertypes.NodeID]clustertypes.GossipDigest),
	}
}

// SetLocalLoad updates the LoadSample gossiped every round.
func (e *Engine) SetLocalLoad(l clustertypes.LoadSample) {
	e.mu.Lock()
	e.localLoad = l
	e.mu.Unlock()
}

// Run ticks every GossipInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.round()
		}
	}
}

func (e *Engine) round() {
	targets := e.selectFanout()
	for _, peer := range targets {
		e.gossipTo(peer)
	}
	metrics.GossipRoundsTotal.Inc()
}

// selectFanout builds a staleness-ordered btree of live peers (keyed by
// last_gossiped_at, oldest first, jittered among near-ties) and takes
// the front Fanout entries — "weighted slightly towards recently-unseen
// peers" without a flat uniform sample (spec.md §4.7 step 1).
func (e *Engine) selectFanout() []clustertypes.PeerRecord {
	live := e.dir.LivePeers()
	if len(live) == 0 {
		return nil
	}

	e.mu.Lock()
	tree := btree.New(8)
	for _, p := range live {
		last, ok := e.lastGossiped[p.NodeID]
		if !ok {
			last = time.Time{}
		}
		// Jitter breaks exact-tie ordering among peers never gossiped to.
		jitter := time.Duration(rand.Int63n(int64(time.Millisecond)))
		tree.ReplaceOrInsert(stalenessItem{at: last.Add(jitter), id: p.NodeID})
	}
	e.mu.Unlock()

	byID := make(map[clustertypes.NodeID]clustertypes.PeerRecord, len(live))
	for _, p := range live {
		byID[p.NodeID] = p
	}

	fanout := e.cfg.Fanout
	if fanout > len(live) {
		fanout = len(live)
	}

	selected := make([]clustertypes.PeerRecord, 0, fanout)
	tree.Ascend(func(item btree.Item) bool {
		if len(selected) >= fanout {
			return false
		}
		si := item.(stalenessItem)
		selected = append(selected, byID[si.id])
		return true
	})
	return selected
}

type stalenessItem struct {
	at time.Time
	id clustertypes.NodeID
}

func (a stalenessItem) Less(other btree.Item) bool {
	b := other.(stalenessItem)
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.id.Less(b.id)
}

func (e *Engine) gossipTo(peer clustertypes.PeerRecord) {
	ep, ok := peer.PrimaryEndpoint()
	if !ok {
		return
	}

	e.mu.Lock()
	hwm, ok := e.peerHWM[peer.NodeID]
	if !ok {
		hwm = clustertypes.GossipDigest{
			MembershipHWM: make(map[clustertypes.NodeID]uint64),
			TokenHWM:      make(map[clustertypes.TokenID]uint64),
		}
	}
	localLoad := e.localLoad
	e.mu.Unlock()

	bundle := buildBundle(e.dir.Snapshot(), e.tokens, hwm, e.cfg.MaxBundleBytes)

	if len(bundle.membership) > 0 {
		if err := e.transport.Send(ep, transport.Frame{Type: transport.MsgMembershipDelta, Body: encodeMembershipDelta(bundle.membership)}); err == nil {
			for _, rec := range bundle.membership {
				hwm.MembershipHWM[rec.NodeID] = rec.Incarnation
			}
		}
	}

	if !localLoad.SampledAt.IsZero() {
		e.transport.Send(ep, transport.Frame{Type: transport.MsgLoadSample, Body: encodeLoadSample(e.selfID, localLoad)})
	}

	if len(bundle.tokens) > 0 {
		if err := e.transport.Send(ep, transport.Frame{Type: transport.MsgTokenDelta, Body: encodeTokenDeltas(bundle.tokens)}); err == nil {
			for _, tok := range bundle.tokens {
				hwm.TokenHWM[tok.ID] = tok.Version
			}
		}
	}

	e.mu.Lock()
	e.peerHWM[peer.NodeID] = hwm
	e.lastGossiped[peer.NodeID] = time.Now()
	e.mu.Unlock()
}

// HandleMembershipDelta merges an inbound bundle into the directory.
// Gossiping the same delta twice is a no-op on the directory (Upsert's
// incarnation/state-order check).
func (e *Engine) HandleMembershipDelta(from clustertypes.NodeID, body []byte) {
	recs, err := decodeMembershipDelta(body)
	if err != nil {
		e.logger.Debug().Err(err).Str("from", from.String()).Msg("bad membership delta")
		return
	}
	for _, rec := range recs {
		e.dir.Upsert(rec)
	}
}

// HandleLoadSample merges an inbound load sample, replacing in whole
// only if strictly newer (per LoadSample's own semantics).
func (e *Engine) HandleLoadSample(from clustertypes.NodeID, body []byte) {
	id, sample, err := decodeLoadSample(body)
	if err != nil {
		return
	}
	rec, ok := e.dir.Get(id)
	if !ok || sample.SampledAt.Before(rec.Load.SampledAt) || sample.Stale(time.Now(), e.cfg.LoadTTL) {
		return
	}
	rec.Load = sample
	e.dir.Upsert(rec)
}

// HandleTokenDelta merges each inbound token via the LWW rule.
func (e *Engine) HandleTokenDelta(from clustertypes.NodeID, body []byte) {
	toks, err := decodeTokenDeltas(body)
	if err != nil {
		e.logger.Debug().Err(err).Str("from", from.String()).Msg("bad token delta")
		return
	}
	for _, tok := range toks {
		e.tokens.ApplyRemoteToken(tok)
	}
}
