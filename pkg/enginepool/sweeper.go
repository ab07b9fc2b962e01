package enginepool

import (
	"context"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
)

// RunZombieKiller scans every ZombieInterval for handles that have been
// Busy longer than MaxJobDuration or whose process has exited without
// being reaped, killing and clearing them so the next Checkout respawns
// the slot. Grounded in the same ticker-driven sync loop a container
// health monitor uses, generalized to engine-process state.
func (p *Pool) RunZombieKiller(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ZombieInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	now := time.Now()
	p.mu.Lock()
	handles := append([]*handle(nil), p.handles...)
	p.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		zombie := (h.state == clustertypes.EngineBusy && !h.busySince.IsZero() && now.Sub(h.busySince) > p.cfg.MaxJobDuration)
		h.mu.Unlock()

		if h.exited() {
			zombie = true
		}

		if zombie {
			p.logger.Warn().Int("slot", h.slot).Msg("zombie engine handle detected, killing")
			h.killLocked(p.cfg.KillGrace)
			p.refreshGauges()
			p.wakeOneWaiter()
		}
	}
}
