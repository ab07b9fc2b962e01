package manager

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/iffish/pkg/adminapi"
	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/discovery"
	"github.com/cuemby/iffish/pkg/dispatcher"
	"github.com/cuemby/iffish/pkg/election"
	"github.com/cuemby/iffish/pkg/enginepool"
	"github.com/cuemby/iffish/pkg/failuredetector"
	"github.com/cuemby/iffish/pkg/gossip"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/metrics"
	"github.com/cuemby/iffish/pkg/security"
	"github.com/cuemby/iffish/pkg/storage"
	"github.com/cuemby/iffish/pkg/tokenstore"
	"github.com/cuemby/iffish/pkg/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Config is everything a node needs to boot: where to persist state,
// how to reach and be reached by peers, what discovery sources to run,
// and the tuning for each component. Zero values fall back to each
// component's own withDefaults().
type Config struct {
	DataDir        string
	ListenAddr     string // peer transport
	AdminAddr      string // JSON control plane
	ClusterSecret  []byte
	TokenSecret    []byte
	TokenRateLimit float64
	TokenBurst     int

	Discovery []discovery.Source

	EnginePool      enginepool.Config
	Dispatcher      dispatcher.Config
	FailureDetector failuredetector.Config
	Gossip          gossip.Config
	Election        election.Config

	HousekeepInterval time.Duration
	TokenRetention    time.Duration
}

// Manager is the composition root: it owns every long-running
// component for one node and the transport demux that ties them
// together.
type Manager struct {
	cfg    Config
	selfID clustertypes.NodeID
	logger zerolog.Logger

	store     storage.Store
	secrets   *security.ClusterSecrets
	dir       *directory.Directory
	tr        *transport.Transport
	tokens    *tokenstore.Store
	fd        *failuredetector.Detector
	goss      *gossip.Engine
	elec      *election.Election
	pool      *enginepool.Pool
	disp      *dispatcher.Dispatcher
	admin     *adminapi.Server
	collector *metrics.Collector
	router    *router
	incarn    uint64

	mu          sync.Mutex
	housekeeper *election.Housekeeper
	hkCancel    context.CancelFunc
}

// New wires every component but starts nothing. Call Run to bring the
// node up.
func New(cfg Config) (*Manager, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	selfID, incarnation, err := store.NodeIdentity()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load node identity: %w", err)
	}
	incarnation++
	if err := store.SaveIncarnation(incarnation); err != nil {
		store.Close()
		return nil, fmt.Errorf("persist incarnation: %w", err)
	}

	secrets, err := security.LoadClusterSecrets(cfg.ClusterSecret, cfg.TokenSecret)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load cluster secrets: %w", err)
	}

	dir := directory.New(selfID)
	tokens := tokenstore.New(secrets, store, cfg.TokenRateLimit, cfg.TokenBurst)

	muts, err := store.ReplayTokenLog()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("replay token log: %w", err)
	}
	tokens.ReplayFrom(muts)

	r := newRouter(selfID, dir)

	tr := transport.New(transport.Config{
		ListenAddr:      cfg.ListenAddr,
		ClusterSecrets:  secrets,
		SelfNodeID:      selfID,
		SelfIncarnation: func() uint64 { return incarnation },
	}, r.handle)

	m := &Manager{
		cfg:     cfg,
		selfID:  selfID,
		incarn:  incarnation,
		logger:  log.WithComponent("manager").With().Str("peer_id", selfID.String()).Logger(),
		store:   store,
		secrets: secrets,
		dir:     dir,
		tr:      tr,
		tokens:  tokens,
		router:  r,
	}

	m.fd = failuredetector.New(cfg.FailureDetector, selfID, dir, tr, m.refuteSelf)
	m.goss = gossip.New(cfg.Gossip, selfID, dir, tokens, tr)
	m.elec = election.New(cfg.Election, selfID, dir, tr, m.onLeaderChange)
	m.pool = enginepool.New(cfg.EnginePool)
	m.disp = dispatcher.New(cfg.Dispatcher, selfID, dir, m.pool, tr)
	m.admin = adminapi.NewServer(tokens, dir, m.disp, m.pool)
	m.collector = metrics.NewCollector(dir, 0)

	r.fd = m.fd
	r.goss = m.goss
	r.elec = m.elec
	r.disp = m.disp

	return m, nil
}

// refuteSelf bumps and persists this node's own incarnation and is
// passed to the failure detector as SelfDefense. It sends nothing
// itself, and membership deltas carry only directory records, which
// never include this node: the new incarnation reaches peers only in
// Announce frames this node sends afterwards.
func (m *Manager) refuteSelf() {
	m.incarn++
	if err := m.store.SaveIncarnation(m.incarn); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist refuted incarnation")
	}
}

// onLeaderChange starts or stops the leader-only token housekeeping
// job, mirroring the teacher's "only the leader runs janitorial jobs"
// wiring (see DESIGN.md).
func (m *Manager) onLeaderChange(isLeader bool, term uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hkCancel != nil {
		m.hkCancel()
		m.hkCancel = nil
		m.housekeeper = nil
	}
	if !isLeader {
		return
	}

	interval := m.cfg.HousekeepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	retention := m.cfg.TokenRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	hk := election.NewHousekeeper(interval, retention, m.tokens)
	ctx, cancel := context.WithCancel(context.Background())
	m.housekeeper = hk
	m.hkCancel = cancel
	go hk.Run(ctx)
	m.logger.Info().Uint64("term", term).Msg("became leader, started housekeeping")
}

// Run starts every component and blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := m.tr.Serve(ctx); err != nil {
			select {
			case errCh <- fmt.Errorf("transport: %w", err):
			default:
			}
		}
	}()

	go m.fd.Run(ctx)
	go m.goss.Run(ctx)
	go m.elec.Run(ctx)
	go m.runDiscovery(ctx)
	go m.runSelfLoadSampler(ctx)
	go m.collector.Run(ctx)

	go func() {
		if err := m.admin.Serve(ctx, m.cfg.AdminAddr); err != nil {
			select {
			case errCh <- fmt.Errorf("adminapi: %w", err):
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		return m.Close()
	case err := <-errCh:
		m.Close()
		return err
	}
}

// Close tears down every component's held resources, collecting
// failures from each rather than stopping at the first.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.hkCancel != nil {
		m.hkCancel()
	}
	m.mu.Unlock()

	var result *multierror.Error
	if err := m.pool.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("enginepool close: %w", err))
	}
	if err := m.tr.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("transport close: %w", err))
	}
	if err := m.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage close: %w", err))
	}
	return result.ErrorOrNil()
}

// runDiscovery fans every configured discovery.Source's candidates into
// an Announce frame sent to each newly-seen endpoint, so the remote
// side learns our identity and we can later address it in the
// directory once it announces back.
func (m *Manager) runDiscovery(ctx context.Context) {
	for _, src := range m.cfg.Discovery {
		go src.Run(ctx, m.onCandidate)
	}
	<-ctx.Done()
}

func (m *Manager) onCandidate(c discovery.Candidate) {
	if c.NodeID != (clustertypes.NodeID{}) {
		m.dir.Upsert(clustertypes.PeerRecord{
			NodeID:      c.NodeID,
			Endpoints:   c.Endpoints,
			State:       clustertypes.StateJoining,
			Incarnation: c.Incarnation,
		})
	}

	body := encodeAnnounce(m.selfID, m.incarn, m.selfEndpoints())
	for _, ep := range c.Endpoints {
		if err := m.tr.Send(ep, transport.Frame{Type: transport.MsgAnnounce, Body: body}); err != nil {
			m.logger.Debug().Err(err).Str("endpoint", ep.String()).Msg("announce failed")
		}
	}
}

func (m *Manager) selfEndpoints() []clustertypes.Endpoint {
	return []clustertypes.Endpoint{parseListenEndpoint(m.cfg.ListenAddr)}
}

// parseListenEndpoint turns a "host:port" listen address into an
// Endpoint, defaulting an empty host (bind-all) to loopback since a
// peer cannot dial 0.0.0.0 back to us.
func parseListenEndpoint(addr string) clustertypes.Endpoint {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return clustertypes.Endpoint{}
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port, _ := strconv.Atoi(portStr)
	return clustertypes.Endpoint{Host: host, Port: port}
}

// runSelfLoadSampler feeds the dispatcher and gossip engine a self
// load sample derived from the engine pool's own occupancy, in lieu of
// an OS-level CPU sampler (see DESIGN.md's "local self cpu_ratio
// sampling" open-question decision).
func (m *Manager) runSelfLoadSampler(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.pool.Metrics()
			total := stats.Idle + stats.Busy
			ratio := 0.0
			if total > 0 {
				ratio = float64(stats.Busy) / float64(total)
			}
			m.disp.SetLocalCPU(ratio)
			m.goss.SetLocalLoad(clustertypes.LoadSample{
				CPURatio:   ratio,
				QueueDepth: stats.Busy,
				SampledAt:  time.Now(),
			})
		}
	}
}
