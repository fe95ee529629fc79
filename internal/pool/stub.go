package pool

import (
	"github.com/lordbasex/routingcore/internal/descriptor"
)

// StubHandler is the pool-stub descriptor handler from spec §4.1: "on
// any event, evicts the entry and closes the descriptor." Any traffic on
// an idle pooled connection (the server pushing an unsolicited packet, a
// half-close, an error) means the connection can no longer be trusted
// for silent reuse.
type StubHandler struct {
	Pool   *Pool
	Target string
	Conn   Conn
}

func (s StubHandler) OnReadable(d *descriptor.Descriptor) { s.evict() }
func (s StubHandler) OnWritable(d *descriptor.Descriptor) { s.evict() }
func (s StubHandler) OnError(d *descriptor.Descriptor, err error) { s.evict() }
func (s StubHandler) OnHangup(d *descriptor.Descriptor) { s.evict() }

func (s StubHandler) evict() {
	ts := s.Pool.targetFor(s.Target)
	for i := range ts.entries {
		if ts.entries[i].conn == s.Conn {
			ts.entries = append(ts.entries[:i], ts.entries[i+1:]...)
			break
		}
	}
	s.Conn.Close()
}
