package enginepool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/metrics"
	"github.com/rs/zerolog"
)

// Config tunes pool sizing, process lifecycle, and the zombie killer.
type Config struct {
	PoolSize     int
	EngineBinary string
	EngineArgs   []string
	ReadyCommand string
	ReadyLine    string

	SpawnTimeout   time.Duration
	ReadyTimeout   time.Duration
	MaxJobDuration time.Duration

	ZombieInterval time.Duration
	KillGrace      time.Duration

	RestartBase time.Duration
	RestartCap  time.Duration

	FailWindow    time.Duration
	FailThreshold int // N: quarantine after this many failed spawns within FailWindow
	HealthFailK   int // K: consecutive failed health probes before zombie
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.ReadyCommand == "" {
		c.ReadyCommand = "isready"
	}
	if c.ReadyLine == "" {
		c.ReadyLine = "readyok"
	}
	if c.SpawnTimeout == 0 {
		c.SpawnTimeout = 5 * time.Second
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 2 * time.Second
	}
	if c.MaxJobDuration == 0 {
		c.MaxJobDuration = 2 * time.Minute
	}
	if c.ZombieInterval == 0 {
		c.ZombieInterval = 5 * time.Second
	}
	if c.KillGrace == 0 {
		c.KillGrace = 3 * time.Second
	}
	if c.RestartBase == 0 {
		c.RestartBase = 500 * time.Millisecond
	}
	if c.RestartCap == 0 {
		c.RestartCap = 30 * time.Second
	}
	if c.FailWindow == 0 {
		c.FailWindow = time.Minute
	}
	if c.FailThreshold == 0 {
		c.FailThreshold = 5
	}
	if c.HealthFailK == 0 {
		c.HealthFailK = 3
	}
	return c
}

// Outcome is how a caller reports a lease back to the pool.
type Outcome int

const (
	Ok Outcome = iota
	ProtocolError
	Crashed
)

// Lease is exclusive ownership of one engine handle for the duration of
// a request. Never aliased (spec.md §9 "Shared-resource policy").
type Lease struct {
	h *handle
}

// Send writes a line to the leased engine's stdin.
func (l *Lease) Send(line string) error { return l.h.send(line) }

// ReadLine blocks for the next stdout line, honoring ctx.
func (l *Lease) ReadLine(ctx context.Context) (string, error) { return l.h.readLine(ctx) }

// Metrics is a point-in-time summary of pool state.
type Metrics struct {
	Idle          int
	Busy          int
	Dead          int
	Quarantined   int
	RestartsTotal uint64
}

// Pool manages up to Config.PoolSize engine child processes.
type Pool struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	handles  []*handle
	idle     []int // indices into handles, FIFO
	waiters  []chan struct{}
	draining bool
	restarts uint64
}

// New constructs a pool with no processes spawned yet; handles are
// spawned lazily on first checkout up to PoolSize.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:    cfg,
		logger: log.WithComponent("enginepool"),
	}
	p.handles = make([]*handle, cfg.PoolSize)
	for i := range p.handles {
		p.handles[i] = newHandle(i)
	}
	return p
}

// Checkout draws an idle handle, spawning a fresh one if the pool has
// spare capacity, blocking up to timeout otherwise.
func (p *Pool) Checkout(ctx context.Context, timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)

	for {
		p.mu.Lock()
		if p.draining {
			p.mu.Unlock()
			return nil, clustertypes.ErrPoolDraining
		}

		if len(p.idle) > 0 {
			idx := p.idle[0]
			p.idle = p.idle[1:]
			h := p.handles[idx]
			h.mu.Lock()
			h.state = clustertypes.EngineBusy
			h.busySince = time.Now()
			h.mu.Unlock()
			p.mu.Unlock()
			p.refreshGauges()
			return &Lease{h: h}, nil
		}

		idx := p.firstSpawnableLocked()
		p.mu.Unlock()

		if idx >= 0 {
			if err := p.trySpawn(ctx, idx); err != nil {
				p.logger.Warn().Err(err).Int("slot", idx).Msg("engine spawn failed")
			} else {
				continue // re-check idle queue with the newly spawned handle
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, clustertypes.ErrTimedOut
		}
		wait := make(chan struct{})
		p.mu.Lock()
		p.waiters = append(p.waiters, wait)
		p.mu.Unlock()

		select {
		case <-wait:
		case <-time.After(remaining):
			return nil, clustertypes.ErrTimedOut
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// firstSpawnableLocked returns a Dead, non-quarantined, backoff-expired
// slot index, or -1. Caller holds p.mu.
func (p *Pool) firstSpawnableLocked() int {
	now := time.Now()
	for _, h := range p.handles {
		h.mu.Lock()
		ok := h.state == clustertypes.EngineDead && !h.quarantined && !now.Before(h.nextRespawnAfter)
		h.mu.Unlock()
		if ok {
			return h.slot
		}
	}
	return -1
}

func (p *Pool) trySpawn(ctx context.Context, slot int) error {
	h := p.handles[slot]
	recordSpawnAttempt(h, p.cfg)

	err := h.spawn(ctx, p.cfg)
	if err != nil {
		h.mu.Lock()
		h.state = clustertypes.EngineDead
		h.restartBackoff = nextBackoff(h.restartBackoff, p.cfg)
		h.nextRespawnAfter = time.Now().Add(h.restartBackoff)
		quarantineIfExhausted(h, p.cfg)
		h.mu.Unlock()
		p.refreshGauges()
		return err
	}

	h.mu.Lock()
	h.restartBackoff = 0
	h.healthFails = 0
	h.spawnAttempts = nil
	h.mu.Unlock()

	p.mu.Lock()
	p.idle = append(p.idle, slot)
	p.restarts++
	p.mu.Unlock()

	metrics.EngineRestartsTotal.Inc()
	p.refreshGauges()
	p.wakeOneWaiter()
	return nil
}

// Release returns a leased handle: on Ok, it re-probes health before
// re-enqueueing idle; any other outcome marks it Dead for respawn.
func (p *Pool) Release(lease *Lease, outcome Outcome) {
	h := lease.h

	if outcome != Ok {
		h.mu.Lock()
		h.state = clustertypes.EngineDead
		h.mu.Unlock()
		h.killLocked(p.cfg.KillGrace)
		p.refreshGauges()
		p.wakeOneWaiter()
		return
	}

	checker := health.NewEngineChecker(h.send, h.readLine, p.cfg.ReadyTimeout)
	checker.Command, checker.ExpectLine = p.cfg.ReadyCommand, p.cfg.ReadyLine
	result := checker.Check(context.Background())

	h.mu.Lock()
	if result.Healthy {
		h.healthFails = 0
		h.state = clustertypes.EngineIdle
	} else {
		h.healthFails++
	}
	becameZombie := !result.Healthy && h.healthFails >= p.cfg.HealthFailK
	h.mu.Unlock()

	if becameZombie {
		h.killLocked(p.cfg.KillGrace)
		p.refreshGauges()
		p.wakeOneWaiter()
		return
	}

	if !result.Healthy {
		// Still within K: re-enqueued as idle without a passing probe.
		// Checkout does not probe; the next Release's probe counts
		// toward K.
		h.mu.Lock()
		h.state = clustertypes.EngineIdle
		h.mu.Unlock()
	}

	p.mu.Lock()
	p.idle = append(p.idle, h.slot)
	p.mu.Unlock()
	p.refreshGauges()
	p.wakeOneWaiter()
}

func (p *Pool) wakeOneWaiter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	close(w)
}

// Drain stops accepting new checkouts; in-flight leases still drain to
// completion via Release.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
}

// Metrics reports a point-in-time count of handles by state.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	var m Metrics
	m.RestartsTotal = p.restarts
	for _, h := range p.handles {
		h.mu.Lock()
		switch {
		case h.quarantined:
			m.Quarantined++
		case h.state == clustertypes.EngineIdle:
			m.Idle++
		case h.state == clustertypes.EngineBusy:
			m.Busy++
		default:
			m.Dead++
		}
		h.mu.Unlock()
	}
	return m
}

func (p *Pool) refreshGauges() {
	m := p.Metrics()
	metrics.EnginesIdle.Set(float64(m.Idle))
	metrics.EnginesBusy.Set(float64(m.Busy))
	metrics.EnginesDead.Set(float64(m.Dead))
	metrics.EngineQuarantinedSlots.Set(float64(m.Quarantined))
}

// Close drains every running handle immediately, for process shutdown.
func (p *Pool) Close() error {
	p.Drain()
	p.mu.Lock()
	handles := append([]*handle(nil), p.handles...)
	p.mu.Unlock()
	for _, h := range handles {
		h.killLocked(p.cfg.KillGrace)
	}
	return nil
}

// nextBackoff doubles cur (bounded to [RestartBase, RestartCap]) and
// applies ±20% jitter (spec.md §4.1).
func nextBackoff(cur time.Duration, cfg Config) time.Duration {
	next := cur * 2
	if next < cfg.RestartBase {
		next = cfg.RestartBase
	}
	if next > cfg.RestartCap {
		next = cfg.RestartCap
	}
	jitter := (rand.Float64()*0.4 - 0.2) * float64(next)
	return next + time.Duration(jitter)
}

func recordSpawnAttempt(h *handle, cfg Config) {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := now.Add(-cfg.FailWindow)
	kept := h.spawnAttempts[:0]
	for _, t := range h.spawnAttempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.spawnAttempts = append(kept, now)
}

func quarantineIfExhausted(h *handle, cfg Config) {
	if len(h.spawnAttempts) >= cfg.FailThreshold {
		h.quarantined = true
	}
}
