//go:build linux

package runtime

import (
	"context"
	"net"
	"time"

	"github.com/lordbasex/routingcore/internal/cache"
	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/logx"
	"github.com/lordbasex/routingcore/internal/pool"
	"github.com/lordbasex/routingcore/internal/proto"
	"github.com/lordbasex/routingcore/internal/session"
	"github.com/lordbasex/routingcore/internal/worker"
)

// workerCacheHandle adapts a worker's per-worker *cache.Cache to the
// proto.CacheHandle contract exposed to codecs/routers (spec §4.6:
// "get_or_parse(fingerprint) -> SharedParse").
type workerCacheHandle struct {
	cache *cache.Cache
}

func (h workerCacheHandle) LookupOrInsert(fingerprint string, version uint64, producer func() (interface{}, int64, bool)) (interface{}, bool) {
	if h.cache == nil {
		v, _, _ := producer()
		return v, false
	}
	key := cache.Key{Fingerprint: fingerprint, Version: version}
	guard := cache.LookupOrParse(h.cache, key, producer)
	defer guard.Release()
	return guard.Result(), guard.Hit()
}

// poolConnHandle adapts one acquired pool.Conn, plus the target it was
// acquired for, to the minimal proto.ConnHandle surface.
type poolConnHandle struct {
	target string
	conn   pool.Conn
}

func (c poolConnHandle) Write(p []byte) error {
	_, err := c.conn.Descriptor().Conn().Write(p)
	return err
}
func (c poolConnHandle) Target() string { return c.target }

// workerPoolHandle adapts a worker's per-worker *pool.Pool to the
// proto.PoolHandle contract (spec §4.6: "acquire_backend(target,
// session) -> ConnectionOrWait").
type workerPoolHandle struct {
	w *worker.Worker
}

const defaultMaxWaitersPerTarget = 1024

func (h workerPoolHandle) Acquire(target string, sessionID uint64, sessionState interface{}) (proto.ConnHandle, bool, <-chan proto.ConnHandle, error) {
	res, err := h.w.Pool.Acquire(target, sessionID, sessionState, true, defaultMaxWaitersPerTarget)
	if err != nil {
		return nil, false, nil, err
	}
	if res.Waiting {
		ready := make(chan proto.ConnHandle, 1)
		go func() {
			outcome := <-res.Waiter.Wait()
			if outcome.Status == pool.WaitSuccess {
				ready <- poolConnHandle{target: target, conn: outcome.Conn}
			}
			close(ready)
		}()
		return nil, true, ready, nil
	}
	if res.Conn == nil {
		return nil, false, nil, nil
	}
	return poolConnHandle{target: target, conn: res.Conn}, false, nil, nil
}

func (h workerPoolHandle) Release(conn proto.ConnHandle) {
	pc, ok := conn.(poolConnHandle)
	if !ok || pc.conn == nil {
		return
	}
	if err := h.w.Pool.Release(pc.target, pc.conn, true); err != nil {
		logx.Logger.Warn().Err(err).Str("target", pc.target).Msg("pool release failed")
	}
}

// sessionHandler is the session-attached descriptor handler (spec §4.1):
// it pumps bytes from the client connection into the descriptor's read
// buffer and drives the session's per-statement pipeline.
type sessionHandler struct {
	sess *session.Session
}

func (h sessionHandler) OnReadable(d *descriptor.Descriptor) {
	conn := d.Conn()
	buf := make([]byte, 16*1024)
	for first := true; ; first = false {
		if !first {
			_ = conn.SetReadDeadline(time.Now())
		}
		n, err := conn.Read(buf)
		if n > 0 {
			d.AppendRead(buf[:n])
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && !first {
				_ = conn.SetReadDeadline(time.Time{})
				break
			}
			d.MarkHungUp()
			break
		}
		if n < len(buf) {
			break
		}
	}

	if err := h.sess.OnClientReadable(context.Background()); err != nil {
		logx.Logger.Debug().Err(err).Msg("session statement error")
	}
	if d.PendingWriteLen() > 0 {
		if _, err := d.Flush(); err != nil {
			d.MarkHungUp()
		}
	}
}

func (h sessionHandler) OnWritable(d *descriptor.Descriptor) {
	if _, err := d.Flush(); err != nil {
		d.MarkHungUp()
	}
}

func (h sessionHandler) OnError(d *descriptor.Descriptor, err error) {
	h.sess.RequestKill(session.DrainLostLastBackend)
}

func (h sessionHandler) OnHangup(d *descriptor.Descriptor) {
	d.MarkHungUp()
	h.sess.HandleHangup()
}
