// Package worker implements C2: one OS thread bound to one readiness set,
// running a cooperative event loop over owned descriptors, a task inbox,
// and per-turn maintenance (zombie destruction, pool expiry, waiter
// timeouts).
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lordbasex/routingcore/internal/cache"
	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/epoll"
	"github.com/lordbasex/routingcore/internal/logx"
	"github.com/lordbasex/routingcore/internal/pool"
	"github.com/lordbasex/routingcore/internal/registry"
)

// Task is one inbox entry. If Refcount is non-nil, this is a broadcast
// task: the worker decrements it after running Fn, and the submitter
// observes completion by watching the counter reach zero (spec §4.2:
// "broadcast tasks (refcounted, executed then dec-ref'd")).
type Task struct {
	Fn       func()
	Refcount *int32
}

type deadlineCall struct {
	deadline time.Time
	fn       func()
}

// Worker is C2.
type Worker struct {
	id   int
	tick time.Duration

	epollSet *epoll.Set

	inbox chan Task

	descriptors *registry.Descriptors
	sessions    *registry.Sessions
	zombies     *registry.Zombies
	Cache       *cache.Cache
	Pool        *pool.Pool

	load LoadGauge

	// poolGroupMu guards cross-worker administrative reads of Pool's
	// target map (spec §5: "the pool-group map is guarded by a
	// per-worker mutex because administrative broadcasts may query it
	// from another worker").
	poolGroupMu sync.Mutex

	dcallsMu sync.Mutex
	dcalls   []deadlineCall

	shutdownGrace time.Duration

	stopRequested int32
	done          chan struct{}
}

// New constructs a worker bound to a fresh epoll set. c and p are
// per-worker shares already divided by worker count (spec
// §3: "the pool's capacity equals the global capacity divided by the
// worker count").
func New(id int, tick time.Duration, c *cache.Cache, p *pool.Pool, shutdownGrace time.Duration) (*Worker, error) {
	set, err := epoll.New()
	if err != nil {
		return nil, err
	}
	return &Worker{
		id:            id,
		tick:          tick,
		epollSet:      set,
		inbox:         make(chan Task, 4096),
		descriptors:   registry.NewDescriptors(),
		sessions:      registry.NewSessions(),
		zombies:       registry.NewZombies(),
		Cache:         c,
		Pool:          p,
		shutdownGrace: shutdownGrace,
		done:          make(chan struct{}),
	}, nil
}

func (w *Worker) ID() int { return w.id }

// Post enqueues a point task: one worker, one execution (spec §4.2).
func (w *Worker) Post(task func()) {
	select {
	case w.inbox <- Task{Fn: task}:
	default:
		logx.WithWorker(w.id).Warn().Msg("task inbox full, dropping point task")
	}
}

// PostBroadcast enqueues a refcounted broadcast task.
func (w *Worker) PostBroadcast(task func(), refcount *int32) {
	select {
	case w.inbox <- Task{Fn: task, Refcount: refcount}:
	default:
		atomic.AddInt32(refcount, -1)
		logx.WithWorker(w.id).Warn().Msg("task inbox full, dropping broadcast task")
	}
}

// DCall schedules callback to run once deadline has elapsed, checked once
// per loop turn (spec §4.2 step 4).
func (w *Worker) DCall(deadline time.Time, callback func()) {
	w.dcallsMu.Lock()
	w.dcalls = append(w.dcalls, deadlineCall{deadline: deadline, fn: callback})
	w.dcallsMu.Unlock()
}

// Sessions exposes the worker's session registry to C7 migration logic
// and C9 introspection broadcasts.
func (w *Worker) Sessions() *registry.Sessions { return w.sessions }

// Descriptors exposes the worker's owned-descriptor table.
func (w *Worker) Descriptors() *registry.Descriptors { return w.descriptors }

// Load returns the worker's moving-average load gauge.
func (w *Worker) Load() *LoadGauge { return &w.load }

// WithPoolGroupLock runs fn with the pool-group mutex held, for
// administrative broadcasts that need to query this worker's pool state
// from another worker's thread (spec §5).
func (w *Worker) WithPoolGroupLock(fn func(p *pool.Pool)) {
	w.poolGroupMu.Lock()
	defer w.poolGroupMu.Unlock()
	fn(w.Pool)
}

// RequestStop asks the loop to exit after its current turn.
func (w *Worker) RequestStop() { atomic.StoreInt32(&w.stopRequested, 1) }

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// AddDescriptor registers d in the readiness set and the owned-descriptor
// table under this worker.
func (w *Worker) AddDescriptor(d *descriptor.Descriptor, interest epoll.Interest) error {
	if err := w.epollSet.Add(d.Fd(), interest, d.Role != descriptor.RoleListening); err != nil {
		return err
	}
	w.descriptors.Put(d.Fd(), d)
	return nil
}

// RemoveDescriptor unhooks d from the readiness set (the first half of
// the two-phase close; the caller is responsible for parking it on the
// zombies list — spec §4.1).
func (w *Worker) RemoveDescriptor(d *descriptor.Descriptor) error {
	w.descriptors.Delete(d.Fd())
	return w.epollSet.Remove(d.Fd())
}

// Close releases the worker's epoll set.
func (w *Worker) Close() error { return w.epollSet.Close() }

// Run drives the event loop until ctx is cancelled or RequestStop is
// called; it performs, in order per turn, the five steps of spec §4.2.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	buf := epoll.NewEventBuffer(256)

	for {
		if ctx.Err() != nil || atomic.LoadInt32(&w.stopRequested) == 1 {
			return
		}

		turnStart := time.Now()

		// Step 1+2: block on readiness, then dispatch.
		events, err := w.epollSet.Wait(buf, int(w.tick/time.Millisecond))
		if err != nil {
			logx.WithWorker(w.id).Warn().Err(err).Msg("epoll wait failed")
		}
		busyStart := time.Now()
		for _, ev := range events {
			w.dispatch(ev)
		}

		// Step 3: drain task inbox.
		w.drainInbox()

		// Step 4: run expired deadline callbacks.
		w.runDeadlineCalls()

		// Step 5: per-turn maintenance.
		w.maintenance()

		elapsed := time.Since(turnStart)
		busy := time.Since(busyStart)
		var busyFraction float64
		if elapsed > 0 {
			busyFraction = float64(busy) / float64(elapsed)
			if busyFraction > 1 {
				busyFraction = 1
			}
		}
		w.load.Sample(busyFraction, elapsed)
	}
}

func (w *Worker) dispatch(ev epoll.Event) {
	d, ok := w.descriptors.Get(ev.Fd)
	if !ok {
		return
	}
	h := d.Handler()
	if h == nil {
		return
	}
	if ev.Readable {
		h.OnReadable(d)
	}
	if ev.Writable {
		h.OnWritable(d)
	}
	if ev.Err {
		h.OnError(d, nil)
	}
	if ev.Hup {
		h.OnHangup(d)
	}
}

// drainInbox runs every task currently queued without blocking, so a
// burst of submissions cannot starve readiness dispatch indefinitely
// (spec §4.2 step 3).
func (w *Worker) drainInbox() {
	for {
		select {
		case t := <-w.inbox:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logx.WithWorker(w.id).Error().Interface("panic", r).Msg("task panicked")
					}
				}()
				t.Fn()
			}()
			if t.Refcount != nil {
				atomic.AddInt32(t.Refcount, -1)
			}
		default:
			return
		}
	}
}

func (w *Worker) runDeadlineCalls() {
	now := time.Now()
	w.dcallsMu.Lock()
	var due []func()
	remaining := w.dcalls[:0]
	for _, c := range w.dcalls {
		if now.After(c.deadline) || now.Equal(c.deadline) {
			due = append(due, c.fn)
		} else {
			remaining = append(remaining, c)
		}
	}
	w.dcalls = remaining
	w.dcallsMu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// maintenance runs the zombie sweep, pool expiry, and waiter expiry on
// every turn, unthrottled. Session idle and statement timeouts are not
// checked here.
func (w *Worker) maintenance() {
	now := time.Now()
	w.zombies.Sweep(now, w.shutdownGrace, func(d *descriptor.Descriptor) bool {
		return d.HungUp()
	})
	if w.Pool != nil {
		w.Pool.Expire(now)
		w.Pool.FailExpiredWaiters(now)
	}
}
