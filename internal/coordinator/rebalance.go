package coordinator

import (
	"context"
	"time"

	"github.com/lordbasex/routingcore/internal/logx"
)

// SampleLoads appends one Load1m() reading per worker into the ring
// buffer (spec §4.7: "a periodic timer on worker 0 reads each worker's
// load gauge... and appends it to a ring buffer").
func (c *Coordinator) SampleLoads() []float64 {
	samples := make([]float64, len(c.workers))
	for i, w := range c.workers {
		samples[i] = w.Load().Load1m()
		hist := append(c.loadHistory[i], samples[i])
		if len(hist) > c.historyCap {
			hist = hist[len(hist)-c.historyCap:]
		}
		c.loadHistory[i] = hist
	}
	return samples
}

// loadSpreadPercent returns max(load)-min(load) expressed as integer
// percentage points, matching the configured rebalance_threshold's unit
// (spec §6: "rebalance_threshold (integer percent difference)").
func loadSpreadPercent(samples []float64) int {
	if len(samples) == 0 {
		return 0
	}
	lo, hi := samples[0], samples[0]
	for _, s := range samples {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return int((hi - lo) * 100)
}

// RunRebalanceLoop samples load on the configured window and triggers a
// rebalance pass whenever the spread exceeds the threshold; a zero
// window disables rebalancing entirely (spec §6: "rebalance_window
// (duration; 0 disables rebalance)").
func (c *Coordinator) RunRebalanceLoop(ctx context.Context) {
	if c.rebalanceWindow <= 0 {
		return
	}
	ticker := time.NewTicker(c.rebalanceWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples := c.SampleLoads()
			if loadSpreadPercent(samples) > c.rebalanceThreshold {
				c.rebalanceOnce(samples)
			}
		}
	}
}

// rebalanceOnce moves roughly (busiest_count * spread) / 2 movable
// sessions from the busiest worker to the quietest (spec §4.7, scenario
// 4: "coordinator moves approximately (10 x diff)/2 sessions").
func (c *Coordinator) rebalanceOnce(samples []float64) {
	busiest := c.mostLoaded()
	quietest := c.leastLoaded()
	if busiest == nil || quietest == nil || busiest.ID() == quietest.ID() {
		return
	}

	spreadFraction := loadSpreadPercent(samples)
	n := (busiest.Sessions().Len() * spreadFraction) / 200
	if n < 1 {
		n = 1
	}

	moved := 0
	for _, id := range movableSessionIDs(busiest, n) {
		if err := c.MigrateSession(busiest, quietest, id); err != nil {
			logx.Logger.Warn().Uint64("session", id).Err(err).Msg("session migration declined")
			continue
		}
		moved++
	}
	logx.Logger.Info().Int("moved", moved).Int("from_worker", busiest.ID()).Int("to_worker", quietest.ID()).Msg("rebalance pass complete")
}
