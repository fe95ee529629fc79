//go:build linux

// Package epoll wraps the Linux epoll readiness-set syscalls behind a
// small, typed API. It is the mechanism underneath C1 (Descriptor) and
// C2 (Worker): one Set per worker, one shared Set for the listener (C8).
package epoll

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask of readiness events to watch for, mirroring the
// epoll event flags.
type Interest uint32

const (
	Readable Interest = unix.EPOLLIN
	Writable Interest = unix.EPOLLOUT
	// EdgeTriggered requests edge-triggered delivery (spec §4.1: client
	// and backend descriptors use edge-triggered readiness so one wakeup
	// drains all available bytes).
	EdgeTriggered Interest = unix.EPOLLET
	errEvents     Interest = unix.EPOLLERR
	hupEvents     Interest = unix.EPOLLHUP | unix.EPOLLRDHUP
)

// Event is one readiness notification returned from Wait.
type Event struct {
	// Fd is the file descriptor the event applies to.
	Fd int
	// Readable, Writable, Err, Hup classify the notification the way
	// C1's four handler entry points expect.
	Readable bool
	Writable bool
	Err      bool
	Hup      bool
}

// Set is one epoll instance: a readiness set owned by exactly one worker
// (or shared read-only by the listener, spec §4.8).
type Set struct {
	fd int
}

// New creates a fresh, empty readiness set.
func New() (*Set, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll: create: %w", err)
	}
	return &Set{fd: fd}, nil
}

// Close releases the underlying epoll fd. It does not close any watched
// descriptors.
func (s *Set) Close() error {
	return unix.Close(s.fd)
}

// Add registers fd for the given interest. edgeTriggered, when true,
// requests edge-triggered delivery; false leaves it level-triggered (spec §4.1: listening descriptors are
// level-triggered, client/backend descriptors are edge-triggered).
func (s *Set) Add(fd int, interest Interest, edgeTriggered bool) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	ev.Events = uint32(interest)
	if edgeTriggered {
		ev.Events |= uint32(EdgeTriggered)
	}
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll: add fd %d: %w", fd, err)
	}
	return nil
}

// Modify changes the watched interest for an already-registered fd. Used
// to re-arm writable interest after a partial write (spec §4.1).
func (s *Set) Modify(fd int, interest Interest, edgeTriggered bool) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	ev.Events = uint32(interest)
	if edgeTriggered {
		ev.Events |= uint32(EdgeTriggered)
	}
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll: modify fd %d: %w", fd, err)
	}
	return nil
}

// Remove unregisters fd. Called as the first phase of a two-phase close
// (spec §4.1): the descriptor is unhooked from the readiness set before
// it is parked on the zombies list.
func (s *Set) Remove(fd int) error {
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll: remove fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks up to timeoutMillis (negative blocks indefinitely, 0 polls
// without blocking) and appends ready events into buf, returning the
// events observed this call. buf is reused across calls to avoid
// per-turn allocation in the worker's hot loop.
func (s *Set) Wait(buf []unix.EpollEvent, timeoutMillis int) ([]Event, error) {
	n, err := unix.EpollWait(s.fd, buf, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll: wait: %w", err)
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		raw := buf[i].Events
		out = append(out, Event{
			Fd:       int(buf[i].Fd),
			Readable: raw&uint32(Readable) != 0,
			Writable: raw&uint32(Writable) != 0,
			Err:      raw&uint32(errEvents) != 0,
			Hup:      raw&uint32(hupEvents) != 0,
		})
	}
	return out, nil
}

// NewEventBuffer allocates a reusable buffer for Wait, sized for up to n
// events per turn.
func NewEventBuffer(n int) []unix.EpollEvent {
	return make([]unix.EpollEvent, n)
}
