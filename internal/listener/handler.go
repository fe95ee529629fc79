//go:build linux

package listener

import (
	"net"

	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/logx"
)

// AcceptedFunc is called once per successfully accepted connection, on
// the worker that won the race to accept it (spec §4.8).
type AcceptedFunc func(conn net.Conn)

// Handler is the listening descriptor's event handler: on every
// readable wakeup it drains exactly one accept4 call per event, per the
// level-triggered contract of spec §4.1/§4.8.
type Handler struct {
	ln       *Listener
	onAccept AcceptedFunc
}

func NewHandler(ln *Listener, onAccept AcceptedFunc) *Handler {
	return &Handler{ln: ln, onAccept: onAccept}
}

func (h *Handler) OnReadable(d *descriptor.Descriptor) {
	conn, ok, err := h.ln.AcceptOne()
	if err != nil {
		logx.Logger.Warn().Err(err).Msg("accept failed")
		return
	}
	if !ok {
		return // another worker's epoll won the race for this event
	}
	h.onAccept(conn)
}

func (h *Handler) OnWritable(d *descriptor.Descriptor)       {}
func (h *Handler) OnError(d *descriptor.Descriptor, err error) {
	logx.Logger.Error().Err(err).Msg("listening descriptor error")
}
func (h *Handler) OnHangup(d *descriptor.Descriptor) {}
