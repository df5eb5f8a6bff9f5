package graph

import (
	"context"
	"fmt"
	"time"
)

// launchTimeout determines the launch deadline for a backend:
// 1. a per-backend override set with WithBackendTimeout
// 2. the runtime default set with WithLaunchTimeout
// 3. 0 (no deadline)
func (cfg *runtimeConfig) launchTimeout(b Backend) time.Duration {
	if d, ok := cfg.backendTimeouts[b]; ok && d > 0 {
		return d
	}
	if cfg.defaultTimeout > 0 {
		return cfg.defaultTimeout
	}
	return 0
}

// launchWithTimeout runs safeLaunch under the backend's deadline. A launch that
// outlives its deadline fails even if the executor ignores ctx and returns
// results late.
func launchWithTimeout(ctx context.Context, exec Executor, unit *Subgraph, inputs []*Tensor, timeout time.Duration) ([]*Tensor, error) {
	if timeout == 0 {
		return safeLaunch(ctx, exec, unit, inputs)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outs, err := safeLaunch(timeoutCtx, exec, unit, inputs)
	if ctx.Err() == nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s exceeded launch timeout of %v: %w", unit.Name(), timeout, context.DeadlineExceeded)
	}
	return outs, err
}
