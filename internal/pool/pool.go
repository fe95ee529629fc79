// Package pool implements C4: a per-worker, per-target ordered set of
// idle backend connections with reuse scoring, idle expiry, a waiter
// queue, and connection-intent admission control (spec §4.4).
package pool

import (
	"sync/atomic"
	"time"

	"github.com/lordbasex/routingcore/internal/coreerr"
	"github.com/lordbasex/routingcore/internal/descriptor"
)

// Score ranks how well an idle connection matches a session's state
// requirements (spec glossary: "Reuse score"). NotPossible excludes the
// entry; Optimal short-circuits the scan.
type Score int

const (
	NotPossible Score = -1
	Optimal     Score = 1 << 30
)

// Conn is the minimal backend-connection surface the pool needs: health,
// transaction state, and a descriptor to park or close.
type Conn interface {
	// Healthy reports whether the connection is still usable.
	Healthy() bool
	// InTransaction reports whether an open transaction is in progress.
	InTransaction() bool
	// ScoreFor asks the connection how well it could serve session
	// state s; NotPossible excludes it from consideration.
	ScoreFor(sessionState interface{}) Score
	// Descriptor returns the owning descriptor, for pool-stub handler
	// installation and close.
	Descriptor() *descriptor.Descriptor
	// Close tears down the connection.
	Close() error
}

// entry is one idle backend connection held by the pool for a target.
type entry struct {
	conn      Conn
	createdAt time.Time
}

// Waiter is spec's Endpoint: "session S wants a connection to target T".
type Waiter struct {
	SessionID uint64
	Target    string
	EnqueuedAt time.Time
	// notify is signaled with the outcome once activated.
	notify chan WaitOutcome
}

// WaitOutcome is returned to a waiter once activate_waiting_endpoints
// processes it (spec §4.4).
type WaitOutcome struct {
	Status WaitStatus
	Conn   Conn
	Err    error
}

type WaitStatus int

const (
	WaitPending WaitStatus = iota
	WaitSuccess
	WaitFail
)

// targetState groups one target's idle entries, waiter FIFO, limits, and
// intent counter.
type targetState struct {
	entries []entry
	waiters []*Waiter

	limit int64 // this worker's share of the target's connection cap
	count int64 // live connections (idle + active) attributed to this worker for this target
	intent int64 // in-flight Acquire attempts not yet resolved (admission control)

	persistMaxAge time.Duration
	down          bool

	peakSize    int64
	timesFound  int64
	timesEmpty  int64
}

// Pool is one worker's connection pool, covering every target it has
// touched.
type Pool struct {
	targets map[string]*targetState
	// capacityPerTarget is the per-worker share of the global cap (spec
	// §3: "the pool's capacity equals the global capacity divided by the
	// worker count").
	capacityPerTarget int
	idleMaxAge        time.Duration
	multiplexTimeout  time.Duration
}

// New creates a Pool. capacityPerTarget is already divided from the
// global cap by worker count (spec §4.4); idleMaxAge is the default
// persist-max-age applied to targets that haven't set their own.
func New(capacityPerTarget int, idleMaxAge, multiplexTimeout time.Duration) *Pool {
	return &Pool{
		targets:           make(map[string]*targetState),
		capacityPerTarget: capacityPerTarget,
		idleMaxAge:        idleMaxAge,
		multiplexTimeout:  multiplexTimeout,
	}
}

func (p *Pool) targetFor(name string) *targetState {
	ts, ok := p.targets[name]
	if !ok {
		ts = &targetState{
			limit:         int64(p.capacityPerTarget),
			persistMaxAge: p.idleMaxAge,
		}
		p.targets[name] = ts
	}
	return ts
}

// AcquireResult is returned by Acquire.
type AcquireResult struct {
	Conn     Conn
	Score    Score
	Waiting  bool    // true: caller's Waiter was enqueued, no Conn yet
	Waiter   *Waiter // valid when Waiting
}

// Acquire finds the best idle connection for sessionState on target, per
// spec §4.4: iterate entries, pick the highest score (Optimal short-
// circuits), remove it from the idle set. If none match and the target
// is at capacity, the caller's endpoint is queued (waiterAllowed) or the
// call fails fast with ErrResourceBusy if the waiter queue itself would
// exceed maxWaiters.
func (p *Pool) Acquire(target string, sessionID uint64, sessionState interface{}, waiterAllowed bool, maxWaiters int) (AcquireResult, error) {
	ts := p.targetFor(target)

	best := -1
	var bestScore Score = NotPossible
	for i := range ts.entries {
		s := ts.entries[i].conn.ScoreFor(sessionState)
		if s == NotPossible {
			continue
		}
		if s > bestScore {
			bestScore = s
			best = i
			if s == Optimal {
				break
			}
		}
	}

	if best >= 0 {
		c := ts.entries[best].conn
		ts.entries = append(ts.entries[:best], ts.entries[best+1:]...)
		ts.timesFound++
		return AcquireResult{Conn: c, Score: bestScore}, nil
	}
	ts.timesEmpty++

	// Connection-intent admission control (spec §4.4): atomically claim
	// an intent slot and re-check against the cap including in-flight
	// intents. The count, intents and limit are this worker's own share
	// of the target; no other worker's connections or intents are
	// counted here.
	atomic.AddInt64(&ts.intent, 1)
	projected := ts.count + atomic.LoadInt64(&ts.intent)
	if ts.limit > 0 && projected > ts.limit {
		atomic.AddInt64(&ts.intent, -1)
		if !waiterAllowed {
			return AcquireResult{}, coreerr.ErrResourceBusy
		}
		if len(ts.waiters) >= maxWaiters {
			return AcquireResult{}, coreerr.ErrResourceBusy
		}
		w := &Waiter{SessionID: sessionID, Target: target, EnqueuedAt: time.Now(), notify: make(chan WaitOutcome, 1)}
		ts.waiters = append(ts.waiters, w)
		return AcquireResult{Waiting: true, Waiter: w}, nil
	}

	// Caller is clear to dial a new connection; intent stays claimed
	// until ReleaseIntent is called (success or failure of the dial).
	return AcquireResult{}, nil
}

// ReleaseIntent decrements the intent counter for target. Per spec §4.4:
// "the intent is decremented after the attempt regardless of outcome."
// The Open Question on retry timing (spec §9) is resolved here: a failed
// dial decrements intent immediately, before any bounded retry; a retry
// re-acquires its own intent slot via Acquire.
func (p *Pool) ReleaseIntent(target string) {
	ts := p.targetFor(target)
	atomic.AddInt64(&ts.intent, -1)
}

// AdmitNewConnection records that a newly dialed (not pooled) connection
// is now attributed to this worker for target, after a successful
// Acquire that returned no idle entry.
func (p *Pool) AdmitNewConnection(target string) {
	ts := p.targetFor(target)
	atomic.AddInt64(&ts.count, 1)
	p.ReleaseIntent(target)
}

// Release returns a finished connection to the pool, per spec §4.4's
// preconditions: healthy, not mid-transaction, poolable session, target
// up. Any failing precondition closes the connection instead. If the
// target is already at its idle-capacity, it is closed rather than
// pooled.
func (p *Pool) Release(target string, c Conn, sessionPoolable bool) error {
	ts := p.targetFor(target)

	if !c.Healthy() || c.InTransaction() || !sessionPoolable || ts.down {
		atomic.AddInt64(&ts.count, -1)
		err := c.Close()
		p.activateWaiters(target)
		return err
	}

	if int64(len(ts.entries)) >= ts.limit && ts.limit > 0 {
		atomic.AddInt64(&ts.count, -1)
		err := c.Close()
		p.activateWaiters(target)
		return err
	}

	ts.entries = append(ts.entries, entry{conn: c, createdAt: time.Now()})
	if int64(len(ts.entries)) > ts.peakSize {
		ts.peakSize = int64(len(ts.entries))
	}
	c.Descriptor().SetHandler(StubHandler{Pool: p, Target: target, Conn: c})

	p.activateWaiters(target)
	return nil
}

// activateWaiters walks target's waiter FIFO in order, per spec §4.4's
// activate_waiting_endpoints: each waiter gets one chance; SUCCESS
// removes it, WAIT stops processing (nothing left for this target right
// now), FAIL removes it and surfaces an error.
func (p *Pool) activateWaiters(target string) {
	ts := p.targetFor(target)
	for len(ts.waiters) > 0 {
		w := ts.waiters[0]
		if len(ts.entries) == 0 {
			return // WAIT: nothing available yet, stop processing this target
		}
		c := ts.entries[0].conn
		ts.entries = ts.entries[1:]
		ts.timesFound++
		ts.waiters = ts.waiters[1:]
		select {
		case w.notify <- WaitOutcome{Status: WaitSuccess, Conn: c}:
		default:
		}
	}
}

// FailExpiredWaiters removes and fails waiters whose enqueue time exceeds
// the multiplex timeout (spec §4.4: "Waiters older than the session's
// multiplex timeout are failed by a separate periodic sweep"). Called
// on every worker maintenance turn.
func (p *Pool) FailExpiredWaiters(now time.Time) {
	for target, ts := range p.targets {
		kept := ts.waiters[:0]
		for _, w := range ts.waiters {
			if now.Sub(w.EnqueuedAt) > p.multiplexTimeout {
				select {
				case w.notify <- WaitOutcome{Status: WaitFail, Err: coreerr.New(coreerr.KindResourceExhausted, "waiter expired for target "+target, nil)}:
				default:
				}
				continue
			}
			kept = append(kept, w)
		}
		ts.waiters = kept
	}
}

// Expire removes and closes entries older than persist-max-age, entries
// belonging to a down target, or entries in excess of a reduced capacity
// after a runtime reconfiguration (spec §4.4). Called on every worker
// maintenance turn.
func (p *Pool) Expire(now time.Time) (closed int) {
	for _, ts := range p.targets {
		kept := ts.entries[:0]
		for _, e := range ts.entries {
			age := now.Sub(e.createdAt)
			tooOld := ts.persistMaxAge > 0 && age > ts.persistMaxAge
			if tooOld || ts.down {
				e.conn.Close()
				atomic.AddInt64(&ts.count, -1)
				closed++
				continue
			}
			kept = append(kept, e)
		}
		ts.entries = kept
		// Excess-after-shrink: close overflow beyond the (possibly
		// reduced) limit, oldest first.
		for ts.limit > 0 && int64(len(ts.entries)) > ts.limit {
			victim := ts.entries[0]
			ts.entries = ts.entries[1:]
			victim.conn.Close()
			atomic.AddInt64(&ts.count, -1)
			closed++
		}
	}
	return closed
}

// MarkTargetDown flags target so idle entries are evicted on the next
// Expire sweep and new Releases are refused pooling.
func (p *Pool) MarkTargetDown(target string, down bool) {
	p.targetFor(target).down = down
}

// SetLimit applies a runtime capacity reduction/increase for target,
// dividing the new global cap by worker count is the caller's job; Pool
// only stores its own share (spec §9: "eviction-until-within-budget is
// the normative behavior" for live shrink).
func (p *Pool) SetLimit(target string, perWorkerLimit int) {
	p.targetFor(target).limit = int64(perWorkerLimit)
}

// Stats snapshots one target's counters (spec §3: current size, peak
// size, times-found, times-empty).
type Stats struct {
	CurrentSize int
	PeakSize    int64
	TimesFound  int64
	TimesEmpty  int64
	Waiting     int
}

func (p *Pool) Stats(target string) Stats {
	ts := p.targetFor(target)
	return Stats{
		CurrentSize: len(ts.entries),
		PeakSize:    ts.peakSize,
		TimesFound:  ts.timesFound,
		TimesEmpty:  ts.timesEmpty,
		Waiting:     len(ts.waiters),
	}
}

// Wait returns the channel on which w's single outcome is delivered; it
// does not block and applies no deadline of its own. It is a convenience
// for tests and for call sites that don't drive the cooperative event
// loop themselves. In the worker's normal
// operation, a suspended statement instead registers a continuation and
// returns (spec §4.2/§4.5 cooperative scheduling) — see session package.
func (w *Waiter) Wait() <-chan WaitOutcome { return w.notify }
