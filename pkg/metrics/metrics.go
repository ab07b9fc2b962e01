package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Peer directory / membership
	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iffish_peers_total",
			Help: "Total number of known peers by state",
		},
		[]string{"state"},
	)

	PeerIncarnation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iffish_peer_incarnation",
			Help: "Last observed incarnation number per peer",
		},
		[]string{"node_id"},
	)

	// Election
	ElectionIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iffish_is_leader",
			Help: "Whether this node currently believes it is leader (1) or not (0)",
		},
	)

	ElectionCurrentTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iffish_current_term",
			Help: "Current election term observed by this node",
		},
	)

	ElectionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iffish_elections_started_total",
			Help: "Total number of elections this node has initiated",
		},
	)

	// Gossip
	GossipRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iffish_gossip_rounds_total",
			Help: "Total number of gossip rounds executed",
		},
	)

	GossipBundleBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iffish_gossip_bundle_bytes",
			Help:    "Size in bytes of gossip bundles sent",
			Buckets: prometheus.ExponentialBuckets(64, 2, 12),
		},
	)

	GossipDeltasRolledOver = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iffish_gossip_deltas_rolled_over_total",
			Help: "Total deltas that overflowed a bundle and rolled to the next round, by kind",
		},
		[]string{"kind"},
	)

	// Token store
	TokensTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iffish_tokens_total",
			Help: "Total number of tokens by revoked state",
		},
		[]string{"revoked"},
	)

	TokenValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iffish_token_validations_total",
			Help: "Total token validations by outcome",
		},
		[]string{"outcome"},
	)

	TokenRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iffish_token_rate_limited_total",
			Help: "Total requests rejected by per-token rate limiting",
		},
	)

	// Engine pool
	EnginesIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iffish_engines_idle",
			Help: "Number of idle engine handles",
		},
	)

	EnginesBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iffish_engines_busy",
			Help: "Number of busy engine handles",
		},
	)

	EnginesDead = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iffish_engines_dead",
			Help: "Number of dead engine handles awaiting respawn",
		},
	)

	EngineRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iffish_engine_restarts_total",
			Help: "Total number of engine process restarts",
		},
	)

	EngineQuarantinedSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iffish_engine_quarantined_slots",
			Help: "Number of engine pool slots currently quarantined",
		},
	)

	EngineCheckoutWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iffish_engine_checkout_wait_seconds",
			Help:    "Time spent waiting for an engine checkout",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dispatcher
	DispatchDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iffish_dispatch_decisions_total",
			Help: "Total dispatch decisions by outcome (local, forwarded, overloaded)",
		},
		[]string{"outcome"},
	)

	DispatchScoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iffish_dispatch_scoring_duration_seconds",
			Help:    "Time taken to score peers and pick an executor",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iffish_analysis_duration_seconds",
			Help:    "End-to-end analysis request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
	)

	// Election leader housekeeping
	TokenCompactionCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iffish_token_compaction_cycles_total",
			Help: "Total number of leader token-compaction cycles executed",
		},
	)

	TokenCompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iffish_token_compaction_duration_seconds",
			Help:    "Time taken by one token-compaction cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	TokensCompactedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iffish_tokens_compacted_total",
			Help: "Total number of revoked-and-expired tokens dropped by compaction",
		},
	)

	// Transport
	TransportDialFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iffish_transport_dial_failures_total",
			Help: "Total transport dial failures by endpoint",
		},
		[]string{"endpoint"},
	)

	TransportMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iffish_transport_messages_total",
			Help: "Total transport messages by type and direction",
		},
		[]string{"msg_type", "direction"},
	)
)

func init() {
	prometheus.MustRegister(
		PeersTotal,
		PeerIncarnation,
		ElectionIsLeader,
		ElectionCurrentTerm,
		ElectionsStarted,
		GossipRoundsTotal,
		GossipBundleBytes,
		GossipDeltasRolledOver,
		TokensTotal,
		TokenValidationsTotal,
		TokenRateLimited,
		EnginesIdle,
		EnginesBusy,
		EnginesDead,
		EngineRestartsTotal,
		EngineQuarantinedSlots,
		EngineCheckoutWait,
		TokenCompactionCyclesTotal,
		TokenCompactionDuration,
		TokensCompactedTotal,
		DispatchDecisions,
		DispatchScoringDuration,
		AnalysisDuration,
		TransportDialFailures,
		TransportMessagesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
