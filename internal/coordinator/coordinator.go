// Package coordinator implements C7: cross-worker task broadcast, load
// sampling and rebalance, cooperative session migration, and graceful
// shutdown orchestration (spec §4.7).
package coordinator

import (
	"time"

	"github.com/lordbasex/routingcore/internal/worker"
)

// Coordinator owns the set of workers and drives the administrative
// concerns that span them. It never touches a worker's per-turn state
// directly — every cross-worker action goes through Broadcast or a
// worker's own Post/PostBroadcast, preserving the single-writer rule of
// spec §5.
type Coordinator struct {
	workers []*worker.Worker

	rebalanceThreshold int // percent points of load difference
	rebalanceWindow     time.Duration

	loadHistory [][]float64 // per-worker ring of recent samples, newest last
	historyCap  int
}

// New constructs a coordinator over an already-running set of workers.
func New(workers []*worker.Worker, rebalanceThreshold int, rebalanceWindow time.Duration) *Coordinator {
	c := &Coordinator{
		workers:             workers,
		rebalanceThreshold:  rebalanceThreshold,
		rebalanceWindow:     rebalanceWindow,
		historyCap:          60,
	}
	c.loadHistory = make([][]float64, len(workers))
	return c
}

func (c *Coordinator) Workers() []*worker.Worker { return c.workers }

// leastLoaded and mostLoaded scan the current Load1m() snapshots; used by
// both the accept-assignment policy and the rebalancer.
func (c *Coordinator) leastLoaded() *worker.Worker {
	var best *worker.Worker
	bestLoad := 2.0
	for _, w := range c.workers {
		if l := w.Load().Load1m(); best == nil || l < bestLoad {
			best, bestLoad = w, l
		}
	}
	return best
}

func (c *Coordinator) mostLoaded() *worker.Worker {
	var worst *worker.Worker
	worstLoad := -1.0
	for _, w := range c.workers {
		if l := w.Load().Load1m(); worst == nil || l > worstLoad {
			worst, worstLoad = w, l
		}
	}
	return worst
}

// AssignForAccept picks the worker a freshly accepted client should be
// handed to (spec §2: "assigned to a C2 by a round-robin or
// least-loaded policy"). This core uses least-loaded.
func (c *Coordinator) AssignForAccept() *worker.Worker {
	return c.leastLoaded()
}
