package jobs

import (
	"context"
	"time"
)

// Runner executes one job type. Implementations own their side effects
// (persisting results, calling external services); the core only
// orchestrates invocation and status transitions.
type Runner interface {
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Hooks are optional lifecycle callbacks invoked synchronously by the
// executing worker. A Runner that also implements Hooks receives them;
// everyone else gets no-ops.
type Hooks interface {
	OnStart(job *Job)
	OnSuccess(job *Job, result any)
	OnFailure(job *Job, err error)
	OnRetry(job *Job, err error, attempt int, delay time.Duration)
}

// NoopHooks satisfies Hooks with empty implementations, for embedding.
type NoopHooks struct{}

func (NoopHooks) OnStart(*Job)                            {}
func (NoopHooks) OnSuccess(*Job, any)                     {}
func (NoopHooks) OnFailure(*Job, error)                   {}
func (NoopHooks) OnRetry(*Job, error, int, time.Duration) {}

// HooksOf returns the runner's hooks, or no-ops if it has none.
func HooksOf(r Runner) Hooks {
	if h, ok := r.(Hooks); ok {
		return h
	}
	return NoopHooks{}
}
