package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a per-process set of Prometheus collectors fed by the
// aggregate stats view (spec §4.9's aggregate view gains a Prometheus
// sink; the core's own Aggregate struct remains the source of truth).
type Metrics struct {
	Sessions   prometheus.Gauge
	Descriptors prometheus.Gauge
	Reads      prometheus.Counter
	Writes     prometheus.Counter
	Errors     prometheus.Counter
	Hangups    prometheus.Counter
	Accepts    prometheus.Counter
	CacheHits  prometheus.Counter
	CacheMisses prometheus.Counter
	PoolWaiters prometheus.Gauge
	WorkerLoad prometheus.GaugeVec
}

// NewMetrics constructs and registers the core's Prometheus collectors
// against reg. Pass prometheus.NewRegistry() in tests to avoid polluting
// the global default registry; pass prometheus.DefaultRegisterer in
// production, the way cuemby-warren's metrics package does at init.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routingcore_sessions_current",
			Help: "Current number of live client sessions across all workers.",
		}),
		Descriptors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routingcore_descriptors_current",
			Help: "Current number of owned descriptors across all workers.",
		}),
		Reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routingcore_reads_total",
			Help: "Total descriptor read events dispatched.",
		}),
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routingcore_writes_total",
			Help: "Total descriptor write events dispatched.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routingcore_errors_total",
			Help: "Total descriptor error events dispatched.",
		}),
		Hangups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routingcore_hangups_total",
			Help: "Total descriptor hangup events dispatched.",
		}),
		Accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routingcore_accepts_total",
			Help: "Total client connections accepted.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routingcore_cache_hits_total",
			Help: "Total parsed-statement cache hits across all workers.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routingcore_cache_misses_total",
			Help: "Total parsed-statement cache misses across all workers.",
		}),
		PoolWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routingcore_pool_waiters_current",
			Help: "Current number of endpoints queued on a pool waiter FIFO.",
		}),
		WorkerLoad: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "routingcore_worker_load",
			Help: "Per-worker moving-average load gauge, by window.",
		}, []string{"worker", "window"}),
	}

	reg.MustRegister(
		m.Sessions, m.Descriptors, m.Reads, m.Writes, m.Errors, m.Hangups,
		m.Accepts, m.CacheHits, m.CacheMisses, m.PoolWaiters, &m.WorkerLoad,
	)
	return m
}

// Apply sets the descriptor gauge from an Aggregate snapshot. It does not
// update the other gauges or any of the counters.
func (m *Metrics) Apply(agg Aggregate) {
	m.Descriptors.Set(float64(agg.CurrentFDCount))
}
