package coordinator

import (
	"time"

	"github.com/lordbasex/routingcore/internal/session"
	"github.com/lordbasex/routingcore/internal/worker"
)

// Shutdown installs a per-worker callback that runs every 100ms: close
// any pool entries, then stop the worker's loop if its session registry
// is empty, otherwise politely kill each session. It blocks until every
// worker reports finished, or grace elapses (spec §4.7: "there is no
// hard timeout on shutdown in the core itself; operators wrap it with
// one externally" — grace here is that operator-supplied wrapper).
func (c *Coordinator) Shutdown(grace time.Duration) {
	for _, w := range c.workers {
		installShutdownSweep(w)
	}

	deadline := time.Now().Add(grace)
	for _, w := range c.workers {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-w.Done():
		case <-time.After(remaining):
			w.RequestStop()
			<-w.Done()
		}
	}
}

func installShutdownSweep(w *worker.Worker) {
	var tick func()
	tick = func() {
		if w.Pool != nil {
			w.Pool.Expire(time.Now().Add(24 * time.Hour)) // force every pooled entry past its idle age
		}
		if w.Sessions().Len() == 0 {
			w.RequestStop()
			return
		}
		for id, v := range w.Sessions().Snapshot() {
			if sess, ok := v.(*session.Session); ok {
				sess.RequestKill(session.DrainShutdown)
			}
			_ = id
		}
		w.DCall(time.Now().Add(100*time.Millisecond), tick)
	}
	w.DCall(time.Now(), tick)
}
