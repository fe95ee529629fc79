// Package session implements C5: the per-client-connection state machine.
// A Session owns its client descriptor, its live backend connections, and
// a router-policy instance; every mutation happens on its owning worker,
// so the type carries no internal locking.
package session

import (
	"context"
	"time"

	"github.com/lordbasex/routingcore/internal/coreerr"
	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/logx"
	"github.com/lordbasex/routingcore/internal/proto"
)

// State is one point in the session lifecycle.
type State int

const (
	StateInit State = iota
	StateAuth
	StateRouting
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAuth:
		return "AUTH"
	case StateRouting:
		return "ROUTING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DrainReason records why a session moved to DRAINING, for logging and stats.
type DrainReason int

const (
	DrainNone DrainReason = iota
	DrainKillRequested
	DrainIdleTimeout
	DrainShutdown
	DrainAuthFailure
	DrainLostLastBackend
	DrainInputMalformed
)

// backendSlot is one live backend connection a session holds for a target,
// plus the FIFO of reply shapes it still owes the client (spec §4.5 step 4).
type backendSlot struct {
	conn         proto.ConnHandle
	pending      []proto.ReplyShape
	inTx         bool
	streaming    bool
	prepareInFlight bool
}

func (b *backendSlot) clean() bool {
	return !b.inTx && !b.streaming && !b.prepareInFlight
}

// Session is C5. ProtocolModule and RouterModule are supplied by the
// caller at construction (spec §6: codec/router are external
// collaborators); Session drives them but never replaces them.
type Session struct {
	ID          uint64
	OwnerWorker int

	state State

	client   *descriptor.Descriptor
	protocol proto.ProtocolModule
	router   proto.RouterModule
	pool     proto.PoolHandle
	cache    proto.CacheHandle
	handle   proto.WorkerHandle

	backends map[string]*backendSlot

	killRequested bool
	drainReason   DrainReason

	lastActivity time.Time
	idleTimeout  time.Duration
	stmtTimeout  time.Duration
	stmtDeadline time.Time

	// awaitingConnection is set while a statement is suspended on a pool
	// waiter (spec §4.5 step 3); the client descriptor stays readable but
	// new statements are not dispatched until it clears.
	awaitingConnection bool
}

// New constructs a session in INIT, immediately following a client accept
// (spec §4.5: "created when C8 accepts a client").
func New(id uint64, ownerWorker int, client *descriptor.Descriptor, protocol proto.ProtocolModule, router proto.RouterModule, handle proto.WorkerHandle, pool proto.PoolHandle, cache proto.CacheHandle, idleTimeout, stmtTimeout time.Duration) *Session {
	return &Session{
		ID:          id,
		OwnerWorker: ownerWorker,
		state:       StateInit,
		client:      client,
		protocol:    protocol,
		router:      router,
		handle:      handle,
		pool:        pool,
		cache:       cache,
		backends:    make(map[string]*backendSlot),
		lastActivity: time.Now(),
		idleTimeout:  idleTimeout,
		stmtTimeout:  stmtTimeout,
	}
}

func (s *Session) State() State { return s.state }

// ClientDescriptor exposes the owned client descriptor to C7 migration
// logic, which must unhook and reassign it across workers.
func (s *Session) ClientDescriptor() *descriptor.Descriptor { return s.client }

// LastActivity is used by C7's rebalancer to rank candidate sessions by
// recency as a proxy for "most active" (spec §4.7).
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// CompleteAuth transitions AUTH -> ROUTING, or AUTH -> CLOSED on failure
// (spec §4.5).
func (s *Session) CompleteAuth(ok bool) {
	if s.state == StateInit {
		s.state = StateAuth
	}
	if s.state != StateAuth {
		return
	}
	if ok {
		s.state = StateRouting
		s.touch()
		return
	}
	s.drainReason = DrainAuthFailure
	s.state = StateClosed
}

func (s *Session) touch() { s.lastActivity = time.Now() }

// IsMovable reports whether C7 may migrate this session: no backend may
// be mid-transaction, mid-stream, or mid-prepare (spec §4.5 Movability).
func (s *Session) IsMovable() bool {
	if s.state != StateRouting || s.awaitingConnection || s.killRequested {
		return false
	}
	for _, b := range s.backends {
		if !b.clean() {
			return false
		}
	}
	return true
}

// RequestKill marks the session for cooperative shutdown; it transitions
// to DRAINING on its next turn rather than synchronously (spec §5:
// "cancellation... is cooperative").
func (s *Session) RequestKill(reason DrainReason) {
	if s.state == StateClosed || s.state == StateDraining {
		return
	}
	s.killRequested = true
	s.drainReason = reason
}

// OnClientReadable drains available client bytes through the protocol
// codec and drives each yielded statement through the routing pipeline
// (spec §4.5 per-statement flow, steps 1-4).
func (s *Session) OnClientReadable(ctx context.Context) error {
	if s.killRequested {
		s.enterDraining()
		return nil
	}
	if s.awaitingConnection {
		// Backpressure: do not consume more client bytes while a prior
		// statement is suspended on a pool waiter (spec §4.5 step 3).
		return nil
	}
	s.touch()

	buf := s.client.ReadBytes()
	if len(buf) == 0 {
		return nil
	}

	consumed, statements, err := s.protocol.HandleClientBytes(buf)
	if consumed > 0 {
		s.client.ConsumeRead(consumed)
	}
	if err != nil {
		s.drainReason = DrainInputMalformed
		s.enterDraining()
		return coreerr.New(coreerr.KindInputMalformed, "client bytes", err)
	}

	for _, stmt := range statements {
		if err := s.dispatchStatement(ctx, stmt); err != nil {
			return err
		}
		if s.awaitingConnection {
			break
		}
	}
	return nil
}

// dispatchStatement runs one classified statement through cache lookup,
// routing, and backend dispatch (spec §4.5 steps 2-4).
func (s *Session) dispatchStatement(ctx context.Context, c proto.Classification) error {
	if s.cache != nil && c.Fingerprint != "" {
		s.cache.LookupOrInsert(c.Fingerprint, 0, func() (interface{}, int64, bool) {
			return c, int64(len(c.Raw)) + 64, !c.TouchesSessionState
		})
	}

	plan, err := s.router.OnStatement(ctx, c, nil)
	if err != nil {
		return coreerr.New(coreerr.KindPolicy, "router.OnStatement", err)
	}
	if len(plan.Targets) == 0 {
		return coreerr.New(coreerr.KindPolicy, "no target available", coreerr.ErrNoTarget)
	}

	for _, target := range plan.Targets {
		if err := s.sendToTarget(target, plan, c); err != nil {
			return err
		}
		if s.awaitingConnection {
			return nil
		}
	}
	return nil
}

// sendToTarget acquires a backend connection for target (reuse or new via
// the pool, or suspends as a waiter) and writes the serialized statement
// (spec §4.5 steps 3-4).
func (s *Session) sendToTarget(target string, plan proto.Plan, c proto.Classification) error {
	slot, ok := s.backends[target]
	if !ok {
		conn, waiting, ready, err := s.pool.Acquire(target, s.ID, nil)
		if err != nil {
			return s.handleAcquireFailure(target, err)
		}
		if waiting {
			s.awaitingConnection = true
			go s.awaitConnection(target, plan, c, ready)
			return nil
		}
		slot = &backendSlot{conn: conn}
		s.backends[target] = slot
	}

	payload := c.Raw
	if plan.Transformation != nil {
		payload = plan.Transformation
	}
	wire, err := s.protocol.SerializeForBackend(target, payload)
	if err != nil {
		return coreerr.New(coreerr.KindInputMalformed, "serialize for backend", err)
	}
	if err := slot.conn.Write(wire); err != nil {
		return s.handleBackendFailure(target, proto.FailureTransient)
	}
	slot.pending = append(slot.pending, plan.ReplyShape)
	return nil
}

// awaitConnection is notified off-loop when a previously queued waiter is
// activated. The channel receive is the only part that runs off the
// owning worker's thread; every mutation of session state is handed to
// s.handle.Post so it runs back on the owning worker, matching spec §4.2
// and §8's single-writer invariant ("all mutations to S occur on one
// thread, the owning worker").
func (s *Session) awaitConnection(target string, plan proto.Plan, c proto.Classification, ready <-chan proto.ConnHandle) {
	conn, ok := <-ready
	s.handle.Post(func() {
		s.awaitingConnection = false
		if !ok || conn == nil {
			s.drainReason = DrainLostLastBackend
			s.enterDraining()
			return
		}
		s.backends[target] = &backendSlot{conn: conn}
		_ = s.sendToTarget(target, plan, c)
	})
}

func (s *Session) handleAcquireFailure(target string, err error) error {
	if coreerr.KindOf(err) == coreerr.KindResourceExhausted {
		return err
	}
	return s.handleBackendFailure(target, proto.FailurePermanent)
}

// handleBackendFailure applies the TRANSIENT/PERMANENT rules of spec §4.5:
// transient failures outside a transaction may retry silently; anything
// else surfaces a protocol error and marks the transaction aborted.
func (s *Session) handleBackendFailure(target string, kind proto.FailureKind) error {
	slot, hadSlot := s.backends[target]
	delete(s.backends, target)

	recovery, err := s.router.OnFailure(context.Background(), target, kind)
	if err != nil {
		return coreerr.New(coreerr.KindBackendPermanent, "router.OnFailure", err)
	}

	transient := kind == proto.FailureTransient
	inTx := hadSlot && slot.inTx
	if transient && !inTx && recovery.Reconnect {
		return nil // silent retry is left to the next statement turn
	}

	if len(recovery.ClientErr) > 0 {
		s.client.QueueWrite(recovery.ClientErr)
	}
	if len(s.backends) == 0 {
		s.drainReason = DrainLostLastBackend
		s.enterDraining()
	}
	return nil
}

// OnBackendReadable drains bytes from one backend and splices replies
// into the client's write buffer (spec §4.5 steps 5-6).
func (s *Session) OnBackendReadable(target string, buf []byte) error {
	slot, ok := s.backends[target]
	if !ok {
		return nil
	}
	consumed, actions, err := s.protocol.HandleBackendBytes(target, buf)
	if err != nil {
		return s.handleBackendFailure(target, proto.FailureTransient)
	}
	_ = consumed

	for _, action := range actions {
		if len(action.AppendToClient) > 0 {
			s.client.QueueWrite(action.AppendToClient)
		}
		if action.IsTerminal && len(slot.pending) > 0 {
			slot.pending = slot.pending[1:]
		}
	}
	return nil
}

// HandleHangup transitions straight to DRAINING: once the client
// descriptor has hung up, no further readable events will arrive to
// process a previously recorded kill request.
func (s *Session) HandleHangup() {
	s.drainReason = DrainKillRequested
	s.enterDraining()
}

func (s *Session) enterDraining() {
	if s.state == StateClosed {
		return
	}
	s.state = StateDraining
	s.logEvent("entering draining")
}

// SafeToClose reports whether every backend has acknowledged it may be
// torn down (spec §4.5: DRAINING -> CLOSED "after all backends report
// safe to close").
func (s *Session) SafeToClose() bool {
	if s.state != StateDraining {
		return false
	}
	for _, b := range s.backends {
		if !b.clean() {
			return false
		}
	}
	return true
}

// Finalize releases pooled backends (when safe to reuse) or closes them,
// and transitions DRAINING -> CLOSED.
func (s *Session) Finalize() {
	for target, slot := range s.backends {
		if reset, err := s.protocol.ResetForPooling(target); err == nil && s.protocol.IsSafeToReuse(nil) {
			if len(reset) > 0 {
				_ = slot.conn.Write(reset)
			}
			s.pool.Release(slot.conn)
		}
	}
	s.backends = make(map[string]*backendSlot)
	s.state = StateClosed
}

// CheckTimeouts applies the idle-timeout and per-statement timeout sweep
// (spec §5: "once per second" per-worker sweep).
func (s *Session) CheckTimeouts(now time.Time) {
	if s.state == StateClosed || s.state == StateDraining {
		return
	}
	if s.idleTimeout > 0 && now.Sub(s.lastActivity) > s.idleTimeout {
		s.RequestKill(DrainIdleTimeout)
		s.enterDraining()
		return
	}
	if s.stmtTimeout > 0 && !s.stmtDeadline.IsZero() && now.After(s.stmtDeadline) {
		s.RequestKill(DrainIdleTimeout)
		s.enterDraining()
	}
}

// DrainReason exposes why the session entered DRAINING, for logging.
func (s *Session) DrainReason() DrainReason { return s.drainReason }

func (s *Session) logEvent(msg string) {
	logx.WithSession(s.ID).Debug().Str("state", s.state.String()).Msg(msg)
}
