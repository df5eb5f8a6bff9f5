package graph

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/dshills/hetgraph/graph/emit"
	"github.com/dshills/hetgraph/graph/store"
)

// Option is a functional option for configuring a Runtime.
//
// Example:
//
//	rt, err := graph.NewRuntime(ag, executors,
//	    graph.WithWorkers(8),
//	    graph.WithEmitter(emit.NewLogEmitter(os.Stderr, true)),
//	    graph.WithMetrics(graph.NewPrometheusMetrics(registry)),
//	)
type Option func(*runtimeConfig) error

// runtimeConfig collects options before they are applied to a Runtime.
type runtimeConfig struct {
	workers int
	emitter emit.Emitter
	metrics *PrometheusMetrics
	store   store.Store
	logger  *slog.Logger

	defaultTimeout  time.Duration
	backendTimeouts map[Backend]time.Duration
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		workers: runtime.NumCPU(),
		emitter: emit.NewNullEmitter(),
		logger:  slog.Default(),
	}
}

// WithWorkers sets the size of the shared worker pool.
//
// Default: runtime.NumCPU(). Each worker blocks for the duration of one
// backend launch, so pools smaller than the widest fan-out of a graph
// serialize sibling actors.
func WithWorkers(n int) Option {
	return func(cfg *runtimeConfig) error {
		if n < 1 {
			return configError("workers must be >= 1, got %d", n)
		}
		cfg.workers = n
		return nil
	}
}

// WithEmitter sets the destination for run and actor events.
//
// Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *runtimeConfig) error {
		if e == nil {
			return configError("emitter cannot be nil")
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *runtimeConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithStore persists the compiled plan and every run's outcome.
func WithStore(s store.Store) Option {
	return func(cfg *runtimeConfig) error {
		cfg.store = s
		return nil
	}
}

// WithLogger sets the logger used for failures that cannot be reported to a
// caller, such as a failed actor record write.
//
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *runtimeConfig) error {
		if l == nil {
			return configError("logger cannot be nil")
		}
		cfg.logger = l
		return nil
	}
}

// WithLaunchTimeout bounds every backend launch. A launch that exceeds it fails
// its run with ErrBackendExecution.
//
// Default: 0 (no timeout).
func WithLaunchTimeout(d time.Duration) Option {
	return func(cfg *runtimeConfig) error {
		if d < 0 {
			return configError("launch timeout must be >= 0, got %v", d)
		}
		cfg.defaultTimeout = d
		return nil
	}
}

// WithBackendTimeout overrides the launch timeout for one backend.
func WithBackendTimeout(b Backend, d time.Duration) Option {
	return func(cfg *runtimeConfig) error {
		if d < 0 {
			return configError("timeout for backend %q must be >= 0, got %v", b, d)
		}
		if cfg.backendTimeouts == nil {
			cfg.backendTimeouts = make(map[Backend]time.Duration)
		}
		cfg.backendTimeouts[b] = d
		return nil
	}
}
