//go:build linux

// Package runtime wires C1-C9 into a running proxy: it builds the
// per-worker cache and pool shares from a config.Config, starts the
// workers, registers the shared listener, and starts the coordinator's
// rebalance loop. It is the one place allowed to import every core
// package at once.
package runtime

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lordbasex/routingcore/internal/cache"
	"github.com/lordbasex/routingcore/internal/config"
	"github.com/lordbasex/routingcore/internal/coordinator"
	"github.com/lordbasex/routingcore/internal/descriptor"
	"github.com/lordbasex/routingcore/internal/epoll"
	"github.com/lordbasex/routingcore/internal/listener"
	"github.com/lordbasex/routingcore/internal/logx"
	"github.com/lordbasex/routingcore/internal/pool"
	"github.com/lordbasex/routingcore/internal/proto"
	"github.com/lordbasex/routingcore/internal/registry"
	"github.com/lordbasex/routingcore/internal/session"
	"github.com/lordbasex/routingcore/internal/worker"
)

// Runtime is the assembled proxy: N workers, a shared listener, and a
// coordinator driving rebalance and shutdown.
type Runtime struct {
	cfg         config.Config
	workers     []*worker.Worker
	coordinator *coordinator.Coordinator
	ln          *listener.Listener
	metrics     *registry.Metrics

	protoFactory  proto.ProtocolFactory
	routerFactory proto.RouterFactory

	// instanceID tags every session id with the owning process, so a
	// session id stays globally unique across process restarts even
	// though the per-process counter below resets to 1 each time (spec
	// §3: "a session id (globally unique, monotonic)").
	instanceID    uuid.UUID
	nextSessionID uint64

	runCtx    context.Context
	runCancel context.CancelFunc
}

// SessionID is a process instance tag plus a per-process monotonic
// counter, satisfying spec §3's "globally unique, monotonic" without a
// central allocator.
type SessionID struct {
	Instance uuid.UUID
	Seq      uint64
}

func (id SessionID) String() string {
	return fmt.Sprintf("%s-%d", id.Instance, id.Seq)
}

// New assembles a Runtime from cfg, dividing the cache budget and pool
// capacity evenly across workers (spec §4.3, §4.4: "the global capacity
// is divided evenly by the worker count").
func New(cfg config.Config, addr string, protoFactory proto.ProtocolFactory, routerFactory proto.RouterFactory, reg prometheus.Registerer) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	perWorkerCacheBudget := cfg.CacheMaxBytes / int64(cfg.WorkerCount)
	perWorkerPoolCap := cfg.PoolCapacityPerTarget / cfg.WorkerCount
	if perWorkerPoolCap < 1 {
		perWorkerPoolCap = 1
	}

	workers := make([]*worker.Worker, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		c := cache.New(perWorkerCacheBudget)
		p := pool.New(perWorkerPoolCap, cfg.PoolIdleMaxAge, cfg.MultiplexTimeout)
		w, err := worker.New(i, cfg.LoopTick, c, p, cfg.ShutdownGrace)
		if err != nil {
			return nil, fmt.Errorf("runtime: start worker %d: %w", i, err)
		}
		workers[i] = w
	}

	ln, err := listener.New(addr)
	if err != nil {
		return nil, fmt.Errorf("runtime: bind listener: %w", err)
	}

	coord := coordinator.New(workers, cfg.RebalanceThreshold, cfg.RebalanceWindow)

	var metrics *registry.Metrics
	if reg != nil {
		metrics = registry.NewMetrics(reg)
	}

	return &Runtime{
		cfg:           cfg,
		workers:       workers,
		coordinator:   coord,
		ln:            ln,
		metrics:       metrics,
		protoFactory:  protoFactory,
		routerFactory: routerFactory,
		instanceID:    uuid.New(),
	}, nil
}

// InstanceID identifies this process across restarts, for correlating
// logs and session ids in external systems (spec §3 session-id
// uniqueness, carried at the process level rather than per-session).
func (r *Runtime) InstanceID() uuid.UUID { return r.instanceID }

// Start runs every worker's event loop, registers the shared listener
// into each one, and launches the coordinator's rebalance loop. It
// returns once every worker goroutine has been launched; call Stop to
// drain and tear the runtime down.
func (r *Runtime) Start(ctx context.Context) error {
	r.runCtx, r.runCancel = context.WithCancel(ctx)

	listenerHandlers := make(map[int]*listener.Handler, len(r.workers))
	for _, w := range r.workers {
		h := listener.NewHandler(r.ln, func(conn net.Conn) {
			r.onAccept(w, conn)
		})
		listenerHandlers[w.ID()] = h

		listenDesc := descriptor.New(descriptor.RoleListening, nil, r.ln.Fd(), w.ID())
		listenDesc.SetHandler(h)
		if err := w.AddDescriptor(listenDesc, epoll.Readable); err != nil {
			return fmt.Errorf("runtime: register listener on worker %d: %w", w.ID(), err)
		}
	}

	for _, w := range r.workers {
		wc := w
		go wc.Run(r.runCtx)
	}

	go r.coordinator.RunRebalanceLoop(r.runCtx)
	go r.reportMetricsLoop(r.runCtx)

	logx.Logger.Info().Int("workers", len(r.workers)).Str("addr", r.ln.Addr().String()).Msg("routingcore started")
	return nil
}

// onAccept builds a session for a freshly accepted client, owned by the
// worker that won the accept race (spec §4.8, §4.5: "created when C8
// accepts a client").
func (r *Runtime) onAccept(w *worker.Worker, conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	fd := 0
	if ok {
		if raw, err := tcpConn.SyscallConn(); err == nil {
			_ = raw.Control(func(s uintptr) { fd = int(s) })
		}
	}

	clientDesc := descriptor.New(descriptor.RoleClient, conn, fd, w.ID())

	protocolModule, err := r.protoFactory(conn.RemoteAddr().String())
	if err != nil {
		logx.Logger.Warn().Err(err).Msg("protocol factory rejected connection")
		conn.Close()
		return
	}

	id := atomic.AddUint64(&r.nextSessionID, 1)
	routerModule, err := r.routerFactory(id)
	if err != nil {
		logx.Logger.Warn().Err(err).Msg("router factory rejected session")
		conn.Close()
		return
	}

	sess := session.New(id, w.ID(), clientDesc, protocolModule, routerModule, w, workerPoolHandle{w}, workerCacheHandle{w.Cache}, r.cfg.MultiplexTimeout, r.cfg.MultiplexTimeout)
	clientDesc.SetHandler(sessionHandler{sess})

	logx.WithWorker(w.ID()).Info().
		Str("session", SessionID{Instance: r.instanceID, Seq: id}.String()).
		Str("remote", conn.RemoteAddr().String()).
		Msg("session accepted")

	if err := w.AddDescriptor(clientDesc, epoll.Readable); err != nil {
		logx.Logger.Warn().Err(err).Msg("failed to register client descriptor")
		conn.Close()
		return
	}
	w.Sessions().Put(id, sess)
	sess.CompleteAuth(true)
}

func (r *Runtime) reportMetricsLoop(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			perWorker := make([]registry.Stats, len(r.workers))
			for i, w := range r.workers {
				perWorker[i] = registry.Stats{CurrentFDCount: w.Descriptors().Len()}
			}
			r.metrics.Apply(registry.Combine(perWorker))
		}
	}
}

// Stop runs the coordinator's cooperative shutdown sequence and closes
// the listener.
func (r *Runtime) Stop() {
	if r.runCancel != nil {
		r.coordinator.Shutdown(r.cfg.ShutdownGrace)
		r.runCancel()
	}
	r.ln.Close()
	for _, w := range r.workers {
		w.Close()
	}
}

// Coordinator exposes the coordinator for admin/introspection tooling.
func (r *Runtime) Coordinator() *coordinator.Coordinator { return r.coordinator }
