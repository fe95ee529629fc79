package worker

import (
	"math"
	"sync/atomic"
	"time"
)

// LoadGauge tracks the fraction of wall time a worker spends executing
// handlers versus blocked in the readiness call, as an exponential moving
// average over three windows (spec §3 Worker: "a load gauge (moving
// average over {1s, 1m, 1h})"). Updated by one writer (the owning
// worker); read by many (the coordinator's load sampler) via relaxed
// atomics, matching spec §5's "single-writer/multi-reader with
// release/acquire" rule.
type LoadGauge struct {
	sec1 uint64
	min1 uint64
	hr1  uint64
}

const (
	decay1s = 1 * time.Second
	decay1m = 1 * time.Minute
	decay1h = 1 * time.Hour
)

// Sample folds one turn's busy fraction (0..1) into the three windows,
// given the wall-clock duration the turn actually took.
func (g *LoadGauge) Sample(busyFraction float64, elapsed time.Duration) {
	update(&g.sec1, busyFraction, elapsed, decay1s)
	update(&g.min1, busyFraction, elapsed, decay1m)
	update(&g.hr1, busyFraction, elapsed, decay1h)
}

func update(word *uint64, sample float64, elapsed, window time.Duration) {
	prev := math.Float64frombits(atomic.LoadUint64(word))
	alpha := 1 - math.Exp(-float64(elapsed)/float64(window))
	next := prev + alpha*(sample-prev)
	atomic.StoreUint64(word, math.Float64bits(next))
}

func (g *LoadGauge) Load1s() float64 { return math.Float64frombits(atomic.LoadUint64(&g.sec1)) }
func (g *LoadGauge) Load1m() float64 { return math.Float64frombits(atomic.LoadUint64(&g.min1)) }
func (g *LoadGauge) Load1h() float64 { return math.Float64frombits(atomic.LoadUint64(&g.hr1)) }
