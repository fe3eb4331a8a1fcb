package agentloop

import (
	"context"
	"time"
)

// WithDeadline wraps ctx with a fixed wall-clock timeout for a single stage
// task's agent loop invocation. SPEC_FULL.md's SUBPROCESS_TIMEOUT (120s)
// is the default used by stage tasks that don't specify their own.
func WithDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultSubprocessTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// DefaultSubprocessTimeout bounds any single tool-invoked subprocess (test
// runner, linter, build command) a stage task shells out to.
const DefaultSubprocessTimeout = 120 * time.Second
