package proto

import "time"

// WorkerHandle is exposed to collaborators (spec §6): post a task, or
// schedule a deadline callback, without exposing worker internals.
type WorkerHandle interface {
	Post(task func())
	PostBroadcast(task func(), refcount *int32)
	DCall(deadline time.Time, callback func())
	ID() int
}

// CacheHandle is exposed to collaborators (spec §6): lookup-or-insert
// keyed by fingerprint, deferring the actual parse to producer on miss.
type CacheHandle interface {
	LookupOrInsert(fingerprint string, version uint64, producer func() (value interface{}, size int64, cacheable bool)) (value interface{}, hit bool)
}

// ConnHandle is the minimal backend-connection surface a router sees
// once acquired (kept separate from pool.Conn so proto does not import
// the pool package, per the core's layering rule that codec/router
// never touch descriptors, worker state, or the pool directly — spec
// §4.6: "These are the only cross-boundary calls").
type ConnHandle interface {
	Write(p []byte) error
	Target() string
}

// PoolHandle is exposed to collaborators (spec §6, §4.6:
// "acquire_backend(target, session) -> ConnectionOrWait"). Waiting is
// true when no connection is available yet and the caller's statement
// must suspend (spec §4.5 step 3) until ready is signaled.
type PoolHandle interface {
	Acquire(target string, sessionID uint64, sessionState interface{}) (conn ConnHandle, waiting bool, ready <-chan ConnHandle, err error)
	Release(conn ConnHandle)
}
