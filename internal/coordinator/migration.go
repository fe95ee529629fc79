package coordinator

import (
	"fmt"
	"sort"

	"github.com/lordbasex/routingcore/internal/coreerr"
	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/epoll"
	"github.com/lordbasex/routingcore/internal/session"
	"github.com/lordbasex/routingcore/internal/worker"
)

// movableSessionIDs returns up to n session ids owned by w, ranked by
// most-recent activity, restricted to sessions that report movable
// (spec §4.7: "pick its most active movable session (or N such
// sessions)"). The ranking itself reads session fields (state,
// backends, LastActivity) that only w's own thread may touch without
// synchronization (spec §8: "all mutations to S occur on one thread,
// the owning worker"), so the whole selection runs as a task posted to
// w rather than on the coordinator's calling goroutine.
func movableSessionIDs(w *worker.Worker, n int) []uint64 {
	type candidate struct {
		id   uint64
		sess *session.Session
	}
	resultCh := make(chan []uint64, 1)
	w.Post(func() {
		var candidates []candidate
		for id, v := range w.Sessions().Snapshot() {
			sess, ok := v.(*session.Session)
			if !ok || !sess.IsMovable() {
				continue
			}
			candidates = append(candidates, candidate{id: id, sess: sess})
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].sess.LastActivity().After(candidates[j].sess.LastActivity())
		})
		want := n
		if want > len(candidates) {
			want = len(candidates)
		}
		ids := make([]uint64, 0, want)
		for i := 0; i < want; i++ {
			ids = append(ids, candidates[i].id)
		}
		resultCh <- ids
	})
	return <-resultCh
}

// unhookMovableSession posts a task to src that checks IsMovable and, if
// the session still qualifies, unhooks its client descriptor from src's
// readiness set and registry. The movability check and the unhook run in
// the same task so nothing else on src can mutate the session between
// the check and the removal (spec §4.7, §8 single-writer invariant).
func unhookMovableSession(src *worker.Worker, id uint64) (*descriptor.Descriptor, *session.Session, error) {
	type result struct {
		desc *descriptor.Descriptor
		sess *session.Session
		err  error
	}
	resultCh := make(chan result, 1)
	src.Post(func() {
		v, ok := src.Sessions().Get(id)
		if !ok {
			resultCh <- result{err: fmt.Errorf("coordinator: session %d not found on worker %d", id, src.ID())}
			return
		}
		sess, ok := v.(*session.Session)
		if !ok {
			resultCh <- result{err: fmt.Errorf("coordinator: session %d has unexpected type", id)}
			return
		}
		if !sess.IsMovable() {
			resultCh <- result{err: coreerr.New(coreerr.KindPolicy, "migrate session", coreerr.ErrNotMovable)}
			return
		}
		desc := sess.ClientDescriptor()
		if err := src.RemoveDescriptor(desc); err != nil {
			resultCh <- result{err: fmt.Errorf("coordinator: unhook from source: %w", err)}
			return
		}
		src.Sessions().Delete(id)
		resultCh <- result{desc: desc, sess: sess}
	})
	r := <-resultCh
	return r.desc, r.sess, r.err
}

// MigrateSession performs a one-shot cooperative transfer of session id
// from src to dst. The source removes the client descriptor from its
// readiness set and registry before the destination inserts it (spec
// §5: "the source removes from its readiness set and registry before the
// target inserts"). The call waits for the destination's answer; if the
// destination cannot register the descriptor, the session is handed back
// to src (descriptor, owner and registry entry restored) and the
// destination's error is returned.
func (c *Coordinator) MigrateSession(src, dst *worker.Worker, id uint64) error {
	desc, sess, err := unhookMovableSession(src, id)
	if err != nil {
		return err
	}

	doneCh := make(chan error, 1)
	dst.Post(func() {
		desc.ReassignOwner(dst.ID())
		sess.OwnerWorker = dst.ID()
		if err := dst.AddDescriptor(desc, epoll.Readable); err != nil {
			doneCh <- err
			return
		}
		dst.Sessions().Put(id, sess)
		doneCh <- nil
	})
	if err := <-doneCh; err != nil {
		restored := make(chan struct{})
		src.Post(func() {
			desc.ReassignOwner(src.ID())
			sess.OwnerWorker = src.ID()
			if src.AddDescriptor(desc, epoll.Readable) == nil {
				src.Sessions().Put(id, sess)
			}
			close(restored)
		})
		<-restored
		return err
	}
	return nil
}
