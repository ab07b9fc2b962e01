package election

import (
	"context"
	"time"

	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/metrics"
	"github.com/rs/zerolog"
)

// TokenCompactor is the subset of the Token Store the leader's
// housekeeping job needs: drop revoked-and-expired tokens past
// retention and persist the resulting snapshot.
type TokenCompactor interface {
	CompactExpired(retention time.Duration) (dropped int, err error)
}

// Housekeeper runs the elected leader's sole administrative duty: a
// periodic token-compaction cycle, grounded in the same ticker-driven,
// single-purpose background loop a desired-state reconciler would use.
type Housekeeper struct {
	interval  time.Duration
	retention time.Duration
	store     TokenCompactor
	logger    zerolog.Logger

	stopCh chan struct{}
}

func NewHousekeeper(interval, retention time.Duration, store TokenCompactor) *Housekeeper {
	return &Housekeeper{
		interval:  interval,
		retention: retention,
		store:     store,
		logger:    log.WithComponent("election.housekeeper"),
		stopCh:    make(chan struct{}),
	}
}

// Run ticks every interval until ctx is cancelled or Stop is called.
// Callers start this only while they believe they are leader, and stop
// it the moment they step down (see Election's OnLeader callback).
func (h *Housekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info().Msg("token compaction housekeeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.compact()
		}
	}
}

// Stop ends the loop without waiting for ctx cancellation; safe to call
// from Election's OnLeader callback on step-down. A Housekeeper is
// single-use: construct a fresh one each time leadership is (re)acquired
// rather than calling Run again after Stop.
func (h *Housekeeper) Stop() {
	select {
	case <-h.stopCh:
	default:
		close(h.stopCh)
	}
}

func (h *Housekeeper) compact() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.TokenCompactionDuration)
		metrics.TokenCompactionCyclesTotal.Inc()
	}()

	dropped, err := h.store.CompactExpired(h.retention)
	if err != nil {
		h.logger.Error().Err(err).Msg("token compaction cycle failed")
		return
	}
	if dropped > 0 {
		metrics.TokensCompactedTotal.Add(float64(dropped))
		h.logger.Info().Int("dropped", dropped).Msg("compacted revoked and expired tokens")
	}
}
