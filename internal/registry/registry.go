// Package registry implements C9: per-worker registries (descriptors,
// sessions, zombies) and the statistics blocks spec §4.9 names, plus the
// serial-broadcast aggregate view.
package registry

import (
	"sync"
	"time"

	"github.com/lordbasex/routingcore/internal/descriptor"
)

// Sessions is a worker's session registry keyed by session id (spec §3:
// "a session registry keyed by session id"). Only the owning worker
// mutates it; every method takes the mutex, so other goroutines (the
// coordinator, admin paths) may also read it.
type Sessions struct {
	mu sync.Mutex
	m  map[uint64]interface{}
}

func NewSessions() *Sessions { return &Sessions{m: make(map[uint64]interface{})} }

func (s *Sessions) Put(id uint64, session interface{}) {
	s.mu.Lock()
	s.m[id] = session
	s.mu.Unlock()
}

func (s *Sessions) Get(id uint64) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[id]
	return v, ok
}

func (s *Sessions) Delete(id uint64) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Snapshot returns a copy of all registered sessions, for introspection
// broadcasts (spec §4.7: serial broadcast for large per-worker results).
func (s *Sessions) Snapshot() map[uint64]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]interface{}, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// Descriptors is a worker's owned-descriptor table.
type Descriptors struct {
	m map[int]*descriptor.Descriptor
}

func NewDescriptors() *Descriptors {
	return &Descriptors{m: make(map[int]*descriptor.Descriptor)}
}

func (d *Descriptors) Put(fd int, desc *descriptor.Descriptor) { d.m[fd] = desc }
func (d *Descriptors) Get(fd int) (*descriptor.Descriptor, bool) {
	v, ok := d.m[fd]
	return v, ok
}
func (d *Descriptors) Delete(fd int) { delete(d.m, fd) }
func (d *Descriptors) Len() int      { return len(d.m) }
func (d *Descriptors) All() []*descriptor.Descriptor {
	out := make([]*descriptor.Descriptor, 0, len(d.m))
	for _, v := range d.m {
		out = append(out, v)
	}
	return out
}

// Zombies is the worker's zombies list: descriptors pending destruction
// (spec §3, §4.1 two-phase close).
type Zombies struct {
	list []*descriptor.Descriptor
}

func NewZombies() *Zombies { return &Zombies{} }

func (z *Zombies) Park(d *descriptor.Descriptor) { z.list = append(z.list, d) }
func (z *Zombies) Len() int                      { return len(z.list) }

// SafeToClose reports whether a zombie descriptor may be destroyed: the
// caller supplies the per-descriptor predicate (its owning session's
// backends report safe-to-close) and the grace window (spec §4.1:
// "idle time exceeds a grace window, default 2s").
type SafeToClose func(d *descriptor.Descriptor) bool

// Sweep destroys every zombie that is safe to close or has exceeded
// grace; the rest are re-parked (kept in the list) with their existing
// note. Returns counts for stats.
func (z *Zombies) Sweep(now time.Time, grace time.Duration, safe SafeToClose) (destroyed, reparked int) {
	kept := z.list[:0]
	for _, d := range z.list {
		expired := now.Sub(d.ZombieSince()) > grace
		if expired || safe(d) {
			d.Close()
			destroyed++
			continue
		}
		reparked++
		kept = append(kept, d)
	}
	z.list = kept
	return destroyed, reparked
}

// Stats is one worker's statistics block (spec §4.9).
type Stats struct {
	Reads, Writes, Errors, Hangups, Accepts int64

	ReadinessQueueAvg float64
	ReadinessQueueMax int

	CurrentFDCount int
	TotalFDCount   int64
}

// Aggregate is the sum of per-worker Stats plus the worker count,
// computed by a serial broadcast across all workers (spec §4.9).
type Aggregate struct {
	Stats
	WorkerCount int
}

// Combine merges a slice of per-worker Stats snapshots into one
// Aggregate view.
func Combine(perWorker []Stats) Aggregate {
	var agg Aggregate
	agg.WorkerCount = len(perWorker)
	for _, s := range perWorker {
		agg.Reads += s.Reads
		agg.Writes += s.Writes
		agg.Errors += s.Errors
		agg.Hangups += s.Hangups
		agg.Accepts += s.Accepts
		agg.CurrentFDCount += s.CurrentFDCount
		agg.TotalFDCount += s.TotalFDCount
		if s.ReadinessQueueMax > agg.ReadinessQueueMax {
			agg.ReadinessQueueMax = s.ReadinessQueueMax
		}
		agg.ReadinessQueueAvg += s.ReadinessQueueAvg
	}
	if agg.WorkerCount > 0 {
		agg.ReadinessQueueAvg /= float64(agg.WorkerCount)
	}
	return agg
}
