// Package config holds the core's programmatic configuration struct and
// loaders for it. Per spec §6, the core itself recognizes exactly nine
// options; CLI/file loading is an ambient concern layered on top, in the
// style of the teacher's server/config.go flag-and-env loader.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the exact set of options the core recognizes (spec §6).
type Config struct {
	// WorkerCount is the fixed size of the worker pool. Must be >= 1.
	WorkerCount int
	// LoopTick bounds how long a worker blocks on its readiness set per turn.
	LoopTick time.Duration
	// CacheMaxBytes is the global parsed-statement cache budget; 0 disables
	// the cache entirely.
	CacheMaxBytes int64
	// PoolCapacityPerTarget is the global connection cap per backend
	// target; divided evenly across workers (spec §4.4).
	PoolCapacityPerTarget int
	// PoolIdleMaxAge is how long an idle pooled connection may live before
	// the expiry sweep (run on every worker maintenance turn) closes it.
	PoolIdleMaxAge time.Duration
	// MultiplexTimeout bounds how long a statement may wait on a pool
	// waiter queue before it's failed.
	MultiplexTimeout time.Duration
	// RebalanceThreshold is the percent load difference that triggers a
	// cross-worker rebalance.
	RebalanceThreshold int
	// RebalanceWindow is how often the load sampler checks for a
	// rebalance-worthy gap; 0 disables rebalancing.
	RebalanceWindow time.Duration
	// ShutdownGrace bounds how long a zombie descriptor may stay parked
	// before a worker's per-turn sweep destroys it anyway, and how long
	// shutdown waits for each worker to finish before forcing it to stop.
	ShutdownGrace time.Duration
}

// Default returns the spec's stated defaults (§4.1, §4.2): 100ms tick,
// 2s shutdown grace; the rest are conservative, teacher-style defaults.
func Default() Config {
	return Config{
		WorkerCount:           4,
		LoopTick:              100 * time.Millisecond,
		CacheMaxBytes:         64 << 20,
		PoolCapacityPerTarget: 64,
		PoolIdleMaxAge:        5 * time.Minute,
		MultiplexTimeout:      10 * time.Second,
		RebalanceThreshold:    20,
		RebalanceWindow:       5 * time.Second,
		ShutdownGrace:         2 * time.Second,
	}
}

// Validate rejects configurations that would violate a core invariant
// before the runtime is built from them.
func (c Config) Validate() error {
	if c.WorkerCount < 1 {
		return errInvalid("worker_count must be >= 1")
	}
	if c.LoopTick <= 0 {
		return errInvalid("loop_tick must be positive")
	}
	if c.PoolCapacityPerTarget < 0 {
		return errInvalid("pool_capacity_per_target must be >= 0")
	}
	if c.RebalanceThreshold < 0 || c.RebalanceThreshold > 100 {
		return errInvalid("rebalance_threshold must be a percent in [0,100]")
	}
	return nil
}

type invalidConfigError string

func (e invalidConfigError) Error() string { return "invalid config: " + string(e) }
func errInvalid(msg string) error          { return invalidConfigError(msg) }

// LoadFromFlags loads a Config starting from Default(), overlaying
// command-line flags and then environment variables, mirroring the
// teacher's LoadConfigFromFlags precedence (env overrides flags).
func LoadFromFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	fs.IntVar(&cfg.WorkerCount, "worker-count", cfg.WorkerCount, "number of routing workers")
	fs.DurationVar(&cfg.LoopTick, "loop-tick", cfg.LoopTick, "worker readiness poll tick")
	var cacheMaxBytes int64
	fs.Int64Var(&cacheMaxBytes, "cache-max-bytes", cfg.CacheMaxBytes, "parsed-statement cache budget in bytes (0 disables)")
	fs.IntVar(&cfg.PoolCapacityPerTarget, "pool-capacity-per-target", cfg.PoolCapacityPerTarget, "global connection cap per backend target")
	fs.DurationVar(&cfg.PoolIdleMaxAge, "pool-idle-max-age", cfg.PoolIdleMaxAge, "max idle age for a pooled backend connection")
	fs.DurationVar(&cfg.MultiplexTimeout, "multiplex-timeout", cfg.MultiplexTimeout, "max time a statement waits for a backend slot")
	fs.IntVar(&cfg.RebalanceThreshold, "rebalance-threshold", cfg.RebalanceThreshold, "percent load gap that triggers rebalance")
	fs.DurationVar(&cfg.RebalanceWindow, "rebalance-window", cfg.RebalanceWindow, "load-sampling period (0 disables rebalance)")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "grace window for zombie descriptor teardown")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.CacheMaxBytes = cacheMaxBytes

	cfg.WorkerCount = getEnvInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.LoopTick = getEnvDuration("LOOP_TICK", cfg.LoopTick)
	cfg.CacheMaxBytes = getEnvInt64("CACHE_MAX_BYTES", cfg.CacheMaxBytes)
	cfg.PoolCapacityPerTarget = getEnvInt("POOL_CAPACITY_PER_TARGET", cfg.PoolCapacityPerTarget)
	cfg.PoolIdleMaxAge = getEnvDuration("POOL_IDLE_MAX_AGE", cfg.PoolIdleMaxAge)
	cfg.MultiplexTimeout = getEnvDuration("MULTIPLEX_TIMEOUT", cfg.MultiplexTimeout)
	cfg.RebalanceThreshold = getEnvInt("REBALANCE_THRESHOLD", cfg.RebalanceThreshold)
	cfg.RebalanceWindow = getEnvDuration("REBALANCE_WINDOW", cfg.RebalanceWindow)
	cfg.ShutdownGrace = getEnvDuration("SHUTDOWN_GRACE", cfg.ShutdownGrace)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
