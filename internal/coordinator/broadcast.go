package coordinator

import (
	"sync/atomic"

	"github.com/lordbasex/routingcore/internal/worker"
)

// Broadcast submits task to every worker's inbox, fire-and-forget, for
// idempotent maintenance work (spec §4.7).
func (c *Coordinator) Broadcast(task func(w *worker.Worker)) {
	for _, w := range c.workers {
		wc := w
		wc.Post(func() { task(wc) })
	}
}

// BroadcastWait submits task to every worker and blocks until all have
// run it, via a shared semaphore counted down to zero (spec §4.7: "with
// a shared semaphore (caller waits for N completions)").
func (c *Coordinator) BroadcastWait(task func(w *worker.Worker)) {
	remaining := int32(len(c.workers))
	if remaining == 0 {
		return
	}
	done := make(chan struct{})
	for _, w := range c.workers {
		wc := w
		wc.Post(func() {
			task(wc)
			if atomic.AddInt32(&remaining, -1) == 0 {
				close(done)
			}
		})
	}
	<-done
}

// BroadcastSerial submits task to worker 0, waits for completion, then
// worker 1, and so on — used when the accumulated per-worker result
// would be too large to hold in parallel (spec §4.7: e.g. "snapshotting
// every cache entry for introspection").
func (c *Coordinator) BroadcastSerial(task func(w *worker.Worker)) {
	for _, w := range c.workers {
		wc := w
		done := make(chan struct{})
		wc.Post(func() {
			task(wc)
			close(done)
		})
		<-done
	}
}
