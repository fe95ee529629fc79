// Package descriptor implements C1: the proxy's in-process wrapper over
// one OS file handle, the unit of readiness and ownership (spec §3, §4.1).
package descriptor

import (
	"net"
	"sync"
	"time"
)

// Role tags what a Descriptor is for; the core's code paths need at most
// this closed set (spec §9: tagged variant plus a trait, not an open
// hierarchy).
type Role int

const (
	RoleListening Role = iota
	RoleClient
	RoleBackend
	RoleInternalWakeup
)

func (r Role) String() string {
	switch r {
	case RoleListening:
		return "listening"
	case RoleClient:
		return "client"
	case RoleBackend:
		return "backend"
	case RoleInternalWakeup:
		return "internal-wakeup"
	default:
		return "unknown"
	}
}

// Handler is the capability set a worker invokes on readiness. A
// Descriptor holds exactly one Handler at a time; session-attached
// descriptors dispatch into a session, pool-stub descriptors evict and
// close on any event (spec §4.1).
type Handler interface {
	OnReadable(d *Descriptor)
	OnWritable(d *Descriptor)
	OnError(d *Descriptor, err error)
	OnHangup(d *Descriptor)
}

// buffer is an append-only queue of byte chunks with a running total
// length, avoiding repeated big-slice reallocation on hot read paths.
type buffer struct {
	chunks [][]byte
	total  int
}

func (b *buffer) append(p []byte) {
	if len(p) == 0 {
		return
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	b.chunks = append(b.chunks, cp)
	b.total += len(cp)
}

func (b *buffer) Len() int { return b.total }

// Bytes coalesces the buffer into one contiguous slice. Callers that only
// need to peek at framing should prefer operating chunk-by-chunk; this is
// for codec handoff where one contiguous view is required.
func (b *buffer) Bytes() []byte {
	if len(b.chunks) == 1 {
		return b.chunks[0]
	}
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Consume removes the first n bytes from the buffer (the codec has
// reported them as part of a framed packet already handed off).
func (b *buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= b.total {
		b.chunks = b.chunks[:0]
		b.total = 0
		return
	}
	remaining := n
	for len(b.chunks) > 0 && remaining > 0 {
		c := b.chunks[0]
		if remaining < len(c) {
			b.chunks[0] = c[remaining:]
			b.total -= remaining
			remaining = 0
			break
		}
		remaining -= len(c)
		b.total -= len(c)
		b.chunks = b.chunks[1:]
	}
}

func (b *buffer) Reset() {
	b.chunks = b.chunks[:0]
	b.total = 0
}

// Descriptor is C1: one OS-level file handle plus the buffering and
// handler dispatch the owning worker drives it through. Only the owning
// worker's goroutine may touch a Descriptor's mutable fields — this is
// the cooperative-concurrency invariant from spec §4.2/§5, enforced by
// convention (single-threaded worker loop), not by a mutex.
type Descriptor struct {
	Role Role

	conn net.Conn
	fd   int

	read  buffer
	write buffer

	handler Handler

	// ownerWorker is the dense worker id owning this descriptor. During a
	// migration it keeps the source id until ReassignOwner sets the
	// destination id.
	ownerWorker int

	lastRead  time.Time
	lastWrite time.Time

	hungUp bool

	// zombie state: set when a close has been requested but the
	// descriptor still has references (spec §4.1 two-phase close).
	zombie      bool
	zombieSince time.Time
	zombieNote  string

	mu sync.Mutex // not taken by any Descriptor method
}

// New wraps conn as a Descriptor of the given role, owned by ownerWorker.
// fd is the raw file descriptor backing conn, used for epoll registration.
func New(role Role, conn net.Conn, fd int, ownerWorker int) *Descriptor {
	return &Descriptor{
		Role:        role,
		conn:        conn,
		fd:          fd,
		ownerWorker: ownerWorker,
	}
}

func (d *Descriptor) Fd() int        { return d.fd }
func (d *Descriptor) Conn() net.Conn { return d.conn }
func (d *Descriptor) Owner() int     { return d.ownerWorker }

// SetHandler installs h as the descriptor's event-handler capability.
// Used both at construction and when a pool entry's descriptor is
// switched to the pool-stub handler on Release (spec §4.4).
func (d *Descriptor) SetHandler(h Handler) { d.handler = h }
func (d *Descriptor) Handler() Handler     { return d.handler }

// ReadBufferLen reports the number of unconsumed bytes read from the
// peer and not yet handed to the protocol codec.
func (d *Descriptor) ReadBufferLen() int { return d.read.Len() }

// AppendRead appends newly read bytes to the read buffer.
func (d *Descriptor) AppendRead(p []byte) {
	d.read.append(p)
	d.lastRead = time.Now()
}

// ReadBytes returns a contiguous view of the unconsumed read buffer.
func (d *Descriptor) ReadBytes() []byte { return d.read.Bytes() }

// ConsumeRead drops n bytes from the front of the read buffer once the
// codec has turned them into a framed packet.
func (d *Descriptor) ConsumeRead(n int) { d.read.Consume(n) }

// QueueWrite appends p to the pending-write buffer. The worker drains it
// on the next writable event.
func (d *Descriptor) QueueWrite(p []byte) { d.write.append(p) }

// PendingWriteLen reports unflushed bytes.
func (d *Descriptor) PendingWriteLen() int { return d.write.Len() }

// Flush attempts to drain the pending-write buffer into the connection.
// It returns true if the buffer fully drained; false means writable
// interest must be re-armed (spec §4.1: "a write that cannot fully drain
// re-arms writable interest").
func (d *Descriptor) Flush() (drained bool, err error) {
	for d.write.Len() > 0 {
		b := d.write.Bytes()
		n, werr := d.conn.Write(b)
		d.lastWrite = time.Now()
		if n > 0 {
			d.write.Consume(n)
		}
		if werr != nil {
			return d.write.Len() == 0, werr
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// MarkHungUp records that the peer has hung up; set once the worker
// observes a hangup event and never cleared.
func (d *Descriptor) MarkHungUp() { d.hungUp = true }
func (d *Descriptor) HungUp() bool { return d.hungUp }

// ParkZombie begins the second phase of a two-phase close: the
// descriptor has already been removed from the readiness set by the
// caller and is now parked awaiting destruction (spec §4.1).
func (d *Descriptor) ParkZombie(reason string) {
	d.zombie = true
	d.zombieSince = time.Now()
	d.zombieNote = reason
}

func (d *Descriptor) IsZombie() bool         { return d.zombie }
func (d *Descriptor) ZombieSince() time.Time { return d.zombieSince }
func (d *Descriptor) ZombieNote() string     { return d.zombieNote }

// Unpark clears zombie state, e.g. if a migration or a reclassification
// decides the descriptor is live again (not used by the default flows,
// kept for coordinator-driven transfer edge cases).
func (d *Descriptor) Unpark() {
	d.zombie = false
	d.zombieNote = ""
}

// ReassignOwner transfers ownership during a session migration (spec
// §5, §9: migration is a one-shot transfer, never concurrent access).
func (d *Descriptor) ReassignOwner(workerID int) { d.ownerWorker = workerID }

// Close closes the underlying connection. Callers must have already
// removed the descriptor from any readiness set.
func (d *Descriptor) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// LastRead and LastWrite support idle-timeout sweeps (spec §5).
func (d *Descriptor) LastRead() time.Time  { return d.lastRead }
func (d *Descriptor) LastWrite() time.Time { return d.lastWrite }
