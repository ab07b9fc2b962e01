package metrics

import (
	"context"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
)

// DirectorySource is the subset of pkg/directory.Directory the
// collector needs to refresh peer gauges.
type DirectorySource interface {
	Snapshot() []clustertypes.PeerRecord
}

// Collector periodically refreshes the peer gauges, which have no
// single event to update them on unlike election/gossip/token metrics
// that each owning package sets inline as things happen.
type Collector struct {
	dir DirectorySource

	interval time.Duration
}

// NewCollector wires a Collector around the live directory. interval
// of 0 defaults to 15 seconds.
func NewCollector(dir DirectorySource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{dir: dir, interval: interval}
}

// Run ticks until ctx is cancelled, collecting immediately on start.
func (c *Collector) Run(ctx context.Context) {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	peers := c.dir.Snapshot()

	counts := make(map[string]int)
	for _, p := range peers {
		counts[p.State.String()]++
		PeerIncarnation.WithLabelValues(p.NodeID.String()).Set(float64(p.Incarnation))
	}
	for _, state := range []clustertypes.PeerState{
		clustertypes.StateJoining,
		clustertypes.StateAlive,
		clustertypes.StateSuspect,
		clustertypes.StateDead,
		clustertypes.StateLeaving,
	} {
		PeersTotal.WithLabelValues(state.String()).Set(float64(counts[state.String()]))
	}
}
