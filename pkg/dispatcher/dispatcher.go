// Package dispatcher implements load-aware request dispatch (spec.md
// §4.9): score every Alive peer plus self, route to the lowest score,
// admission-control a self-selection that would overload the local
// pool, and forward at most one hop with deadline propagation.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/enginepool"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/metrics"
	"github.com/cuemby/iffish/pkg/transport"
	"github.com/rs/zerolog"
)

// EnginePool is the subset of pkg/enginepool.Pool the dispatcher needs
// to execute a request locally.
type EnginePool interface {
	Checkout(ctx context.Context, timeout time.Duration) (*enginepool.Lease, error)
	Release(lease *enginepool.Lease, outcome enginepool.Outcome)
	Metrics() enginepool.Metrics
}

// Config tunes scoring and admission control.
type Config struct {
	Weights      Weights
	RefRTTMs     float64
	SelfBias     float64
	LoadTTL      time.Duration
	QueueCap     int
	CheckoutWait time.Duration
	ForwardWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.RefRTTMs == 0 {
		c.RefRTTMs = defaultRefRTTMs
	}
	if c.SelfBias == 0 {
		c.SelfBias = defaultSelfBias
	}
	if c.LoadTTL == 0 {
		c.LoadTTL = 10 * time.Second
	}
	if c.QueueCap == 0 {
		c.QueueCap = defaultQueueCap
	}
	if c.CheckoutWait == 0 {
		c.CheckoutWait = 2 * time.Second
	}
	if c.ForwardWait == 0 {
		c.ForwardWait = 30 * time.Second
	}
	return c
}

// Dispatcher routes analyze requests to the best-suited peer.
type Dispatcher struct {
	cfg       Config
	selfID    clustertypes.NodeID
	dir       *directory.Directory
	pool      EnginePool
	transport *transport.Transport
	execute   func(ctx context.Context, pool EnginePool, req clustertypes.Request) (clustertypes.AnalysisResult, error)
	logger    zerolog.Logger

	localInflight int64

	mu       sync.Mutex
	pending  map[string]chan forwardReply
	localCPU float64 // most recent self-reported cpu_ratio, set via SetLocalCPU
}

type forwardReply struct {
	res clustertypes.AnalysisResult
	err error
}

func New(cfg Config, selfID clustertypes.NodeID, dir *directory.Directory, pool EnginePool, tr *transport.Transport) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:       cfg,
		selfID:    selfID,
		dir:       dir,
		pool:      pool,
		transport: tr,
		execute:   executeUCI,
		logger:    log.WithComponent("dispatcher").With().Str("peer_id", selfID.String()).Logger(),
		pending:   make(map[string]chan forwardReply),
	}
}

// Submit is the entry point for a client-submitted request. It scores
// candidates, applies admission control for a local self-selection,
// and forwards at most one hop to a remote peer.
func (d *Dispatcher) Submit(ctx context.Context, req clustertypes.Request) (clustertypes.AnalysisResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AnalysisDuration)

	if req.HopCount > 0 {
		// Already travelled one hop: execute locally or fail, never
		// forward again (spec.md §4.9).
		return d.executeLocal(ctx, req)
	}

	candidates := d.rankCandidates()
	for i, c := range candidates {
		if c.self {
			if !d.admitSelf() {
				continue
			}
			res, err := d.executeLocal(ctx, req)
			if err == nil {
				metrics.DispatchDecisions.WithLabelValues("local").Inc()
				return res, nil
			}
			d.logger.Warn().Err(err).Msg("local execution failed, trying next candidate")
			continue
		}

		res, err := d.forwardTo(ctx, c.id, req)
		if err == nil {
			metrics.DispatchDecisions.WithLabelValues("forwarded").Inc()
			return res, nil
		}
		d.logger.Warn().Err(err).Str("peer_id", c.id.String()).Int("rank", i).Msg("forward failed, trying next candidate")
	}

	metrics.DispatchDecisions.WithLabelValues("overloaded").Inc()
	return clustertypes.AnalysisResult{}, clustertypes.ErrOverloaded
}

// rankCandidates scores every live peer plus self, ascending, with
// lower node_id breaking ties.
func (d *Dispatcher) rankCandidates() []candidate {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchScoringDuration)

	now := time.Now()
	peers := d.dir.LivePeers()
	out := make([]candidate, 0, len(peers)+1)

	selfLoad := d.localLoadSample(now)
	out = append(out, candidate{
		id:    d.selfID,
		self:  true,
		score: score(d.selfID, d.selfID, clustertypes.StateAlive, selfLoad, now, d.cfg),
	})

	for _, p := range peers {
		if p.NodeID == d.selfID {
			continue
		}
		out = append(out, candidate{
			id:    p.NodeID,
			score: score(p.NodeID, d.selfID, p.State, p.Load, now, d.cfg),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].id.Less(out[j].id)
	})
	return out
}

// SetLocalCPU updates the cpu_ratio reported for self in scoring,
// sourced from whatever OS-level sampler the host process runs.
func (d *Dispatcher) SetLocalCPU(ratio float64) {
	d.mu.Lock()
	d.localCPU = ratio
	d.mu.Unlock()
}

// localLoadSample reports this node's own current load, always fresh.
func (d *Dispatcher) localLoadSample(now time.Time) clustertypes.LoadSample {
	m := d.pool.Metrics()
	d.mu.Lock()
	cpu := d.localCPU
	d.mu.Unlock()
	return clustertypes.LoadSample{
		CPURatio:   cpu,
		QueueDepth: m.Busy,
		Inflight:   int(atomic.LoadInt64(&d.localInflight)),
		SampledAt:  now,
	}
}

// admitSelf reports whether local execution should be attempted: the
// local pool has an idle handle, or inflight is below queue_cap.
func (d *Dispatcher) admitSelf() bool {
	m := d.pool.Metrics()
	if m.Idle > 0 {
		return true
	}
	return int(atomic.LoadInt64(&d.localInflight)) < d.cfg.QueueCap
}

func (d *Dispatcher) executeLocal(ctx context.Context, req clustertypes.Request) (clustertypes.AnalysisResult, error) {
	atomic.AddInt64(&d.localInflight, 1)
	defer atomic.AddInt64(&d.localInflight, -1)

	deadlineCtx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		deadlineCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	res, err := d.execute(deadlineCtx, d.pool, req)
	if err != nil {
		return clustertypes.AnalysisResult{}, err
	}
	res.ExecutedBy = d.selfID
	return res, nil
}

// forwardTo sends the request to a remote peer as a single-hop Forward
// message and blocks for its ForwardReply, bounded by ForwardWait and
// the request's own deadline.
func (d *Dispatcher) forwardTo(ctx context.Context, peerID clustertypes.NodeID, req clustertypes.Request) (clustertypes.AnalysisResult, error) {
	rec, ok := d.dir.Get(peerID)
	if !ok {
		return clustertypes.AnalysisResult{}, clustertypes.ErrPeerUnreachable
	}
	ep, ok := rec.PrimaryEndpoint()
	if !ok {
		return clustertypes.AnalysisResult{}, clustertypes.ErrPeerUnreachable
	}

	ch := make(chan forwardReply, 1)
	d.mu.Lock()
	d.pending[req.RequestID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, req.RequestID)
		d.mu.Unlock()
	}()

	forwarded := req
	forwarded.HopCount = 1
	body := encodeForward(forwarded, 1)
	if err := d.transport.Send(ep, transport.Frame{Type: transport.MsgForward, Body: body}); err != nil {
		return clustertypes.AnalysisResult{}, fmt.Errorf("%w: %v", clustertypes.ErrPeerUnreachable, err)
	}

	wait := d.cfg.ForwardWait
	if !req.Deadline.IsZero() {
		if remaining := time.Until(req.Deadline); remaining < wait {
			wait = remaining
		}
	}

	select {
	case r := <-ch:
		return r.res, r.err
	case <-time.After(wait):
		return clustertypes.AnalysisResult{}, clustertypes.ErrTimeout
	case <-ctx.Done():
		return clustertypes.AnalysisResult{}, ctx.Err()
	}
}

// HandleForward executes an inbound forwarded request locally (a
// forwarded request must never be forwarded again) and replies with
// ForwardReply.
func (d *Dispatcher) HandleForward(from clustertypes.NodeID, body []byte) {
	req, err := decodeForward(body)
	if err != nil {
		return
	}

	ctx := context.Background()
	res, execErr := d.executeLocal(ctx, req)

	rec, ok := d.dir.Get(from)
	if !ok {
		return
	}
	ep, ok := rec.PrimaryEndpoint()
	if !ok {
		return
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	replyBody := encodeForwardReply(req.RequestID, res, errMsg)
	_ = d.transport.Send(ep, transport.Frame{Type: transport.MsgForwardReply, Body: replyBody})
}

// HandleForwardReply wakes whichever Submit call is waiting on this
// request id.
func (d *Dispatcher) HandleForwardReply(from clustertypes.NodeID, body []byte) {
	requestID, res, errMsg, err := decodeForwardReply(body)
	if err != nil {
		return
	}

	d.mu.Lock()
	ch, ok := d.pending[requestID]
	d.mu.Unlock()
	if !ok {
		return
	}

	var replyErr error
	if errMsg != "" {
		replyErr = fmt.Errorf("remote execution failed: %s", errMsg)
	}
	select {
	case ch <- forwardReply{res: res, err: replyErr}:
	default:
	}
}
