package dispatcher

import (
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
)

// Weights tunes the dispatch scoring formula (spec.md §4.9).
type Weights struct {
	CPU float64
	Q   float64
	Lat float64
	Age float64
}

// DefaultWeights are the spec's recommended defaults.
func DefaultWeights() Weights {
	return Weights{CPU: 1.0, Q: 1.5, Lat: 0.5, Age: 0.25}
}

const (
	defaultRefRTTMs = 50.0
	defaultSelfBias = -0.05
	notAlivePenalty = 10.0
	defaultQueueCap = 64
)

// candidate is one scored peer (or self).
type candidate struct {
	id    clustertypes.NodeID
	score float64
	self  bool
}

// score implements the weighted-sum formula. A stale sample (or one
// never received) is treated as fully loaded: cpu_ratio=1, queue_depth
// at cap, per spec.md §4.9.
func score(id clustertypes.NodeID, selfID clustertypes.NodeID, state clustertypes.PeerState, load clustertypes.LoadSample, now time.Time, cfg Config) float64 {
	w := cfg.Weights
	cpuRatio := load.CPURatio
	queueDepth := load.Inflight
	age := now.Sub(load.SampledAt)

	if load.SampledAt.IsZero() || age > cfg.LoadTTL {
		cpuRatio = 1.0
		queueDepth = cfg.QueueCap
		age = cfg.LoadTTL
	}

	normalizedQueue := float64(queueDepth) / float64(maxInt(cfg.QueueCap, 1))
	stalenessRatio := age.Seconds() / maxFloat(cfg.LoadTTL.Seconds(), 1e-9)
	if stalenessRatio > 1 {
		stalenessRatio = 1
	}

	s := w.CPU*cpuRatio + w.Q*normalizedQueue + w.Lat*(load.RTTEWMAMs/cfg.RefRTTMs) + w.Age*stalenessRatio

	if state != clustertypes.StateAlive {
		s += notAlivePenalty
	}
	if id == selfID {
		s += cfg.SelfBias
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
