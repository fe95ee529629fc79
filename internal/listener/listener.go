//go:build linux

// Package listener implements C8: a single shared accept path. One
// listening socket is registered into every worker's own readiness set;
// whichever worker's epoll wakes first consumes exactly one accept and
// owns the resulting client descriptor (spec §4.8).
package listener

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/lordbasex/routingcore/internal/epoll"
)

// Listener owns one non-blocking listening socket. It never itself
// accepts a connection; AcceptOne is called by whichever worker's epoll
// set reports the fd readable, so ownership of the accepted client stays
// with that worker (spec §3: "an associated owner worker... while
// migrating" — the listening descriptor itself has no single owner).
type Listener struct {
	file *os.File
	fd   int
	addr net.Addr
}

// New binds addr (host:port) and returns a Listener ready to be
// registered with workers via RegisterWith.
func New(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: resolve %q: %w", addr, err)
	}
	tln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listener: listen %q: %w", addr, err)
	}
	laddr := tln.Addr()
	// File() duplicates the fd into a blocking *os.File and detaches it
	// from the runtime netpoller; we then drive it with raw epoll/accept4
	// ourselves and can discard the original net.Listener.
	file, err := tln.File()
	if err != nil {
		tln.Close()
		return nil, fmt.Errorf("listener: dup fd: %w", err)
	}
	tln.Close()

	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		file.Close()
		return nil, fmt.Errorf("listener: set nonblocking: %w", err)
	}
	return &Listener{file: file, fd: fd, addr: laddr}, nil
}

// Addr returns the bound local address (useful when binding to port 0).
func (l *Listener) Addr() net.Addr { return l.addr }

// Fd is the raw listening socket descriptor, registered into every
// worker's epoll set with level-triggered readiness (spec §4.1: "Listening
// descriptors use level-triggered readiness").
func (l *Listener) Fd() int { return l.fd }

// RegisterWith adds the shared listening fd into w's readiness set.
func (l *Listener) RegisterWith(addFn func(fd int, interest epoll.Interest, edgeTriggered bool) error) error {
	return addFn(l.fd, epoll.Readable, false)
}

// AcceptOne performs exactly one accept4 call on the shared fd. It
// returns (nil, false, nil) when the kernel has no pending connection
// (EAGAIN) — meaning another worker's epoll already raced ahead and took
// it (spec §4.8: "one accept per event guarantees fair distribution").
func (l *Listener) AcceptOne() (net.Conn, bool, error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("listener: accept4: %w", err)
	}
	f := os.NewFile(uintptr(nfd), "routingcore-client")
	conn, err := net.FileConn(f)
	f.Close() // FileConn dups internally; release our copy
	if err != nil {
		unix.Close(nfd)
		return nil, false, fmt.Errorf("listener: fileconn: %w", err)
	}
	return conn, true, nil
}

// Close releases the listening socket.
func (l *Listener) Close() error { return l.file.Close() }
