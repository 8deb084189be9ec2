package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/retry"
)

// Executor runs a single job attempt: resolve the runner, invoke lifecycle
// hooks, enforce the timeout, classify the failure, and apply the retry
// policy. Backends own dequeueing and resubmission; the executor owns the
// attempt itself.
type Executor struct {
	registry *jobs.Registry
	policy   retry.Policy
	monitor  *monitor.Monitor
}

func NewExecutor(registry *jobs.Registry, policy retry.Policy, mon *monitor.Monitor) *Executor {
	return &Executor{registry: registry, policy: policy, monitor: mon}
}

// Outcome tells the backend what to do after an attempt. Retry=false means
// the job reached a terminal status, unless Interrupted is set: then the
// attempt was cut short by worker shutdown and the job stays non-terminal
// for resubmission (or lease reclaim on the distributed backend).
type Outcome struct {
	Retry       bool
	Delay       time.Duration
	Interrupted bool
	Err         error
}

// RunAttempt executes one attempt and mutates the job in place. The job is
// exclusively owned by the calling worker for the duration.
func (e *Executor) RunAttempt(ctx context.Context, job *jobs.Job) Outcome {
	job.Attempts++
	started := time.Now().UTC()
	job.StartedAt = &started
	job.Status = jobs.StatusRunning
	e.monitor.TrackStart(job)

	runner, err := e.registry.Resolve(job.Type)
	if err != nil {
		return e.finishFailure(job, jobs.NoopHooks{}, err)
	}
	hooks := jobs.HooksOf(runner)
	hooks.OnStart(job)

	result, err := e.invoke(ctx, job, runner)
	if err == nil {
		completed := time.Now().UTC()
		job.Status = jobs.StatusSucceeded
		job.Result = result
		job.LastError = ""
		job.CompletedAt = &completed
		hooks.OnSuccess(job, result)
		e.monitor.TrackComplete(job)
		return Outcome{}
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// The worker is shutting down, not the job failing. Rewind the
		// attempt so the counter reflects only attempts that ran to a
		// verdict, and leave the job non-terminal.
		job.Attempts--
		job.Status = jobs.StatusPending
		job.StartedAt = nil
		e.monitor.TrackInterrupted(job)
		log.Printf("job %s (%s) interrupted by shutdown, left for resubmission", job.ID, job.Type)
		return Outcome{Interrupted: true, Err: err}
	}

	if e.policy.ShouldRetry(job, err) {
		delay := e.policy.NextDelay(job)
		job.Status = jobs.StatusRetrying
		job.LastError = err.Error()
		log.Printf("job %s (%s) attempt %d failed, retrying in %s: %v", job.ID, job.Type, job.Attempts, delay, err)
		hooks.OnRetry(job, err, job.Attempts, delay)
		e.monitor.TrackRetry(job, err, delay)
		return Outcome{Retry: true, Delay: delay, Err: err}
	}
	return e.finishFailure(job, hooks, err)
}

func (e *Executor) finishFailure(job *jobs.Job, hooks jobs.Hooks, err error) Outcome {
	completed := time.Now().UTC()
	if jobs.IsTimeout(err) {
		job.Status = jobs.StatusTimedOut
	} else {
		job.Status = jobs.StatusFailed
	}
	job.LastError = err.Error()
	job.CompletedAt = &completed
	log.Printf("job %s (%s) failed terminally after %d attempts: %v", job.ID, job.Type, job.Attempts, err)
	hooks.OnFailure(job, err)
	e.monitor.TrackComplete(job)
	return Outcome{Err: err}
}

// invoke wraps Execute in a bounded wait. On expiry the attempt's result is
// abandoned: the goroutine finishes against a cancelled context and its
// result is dropped, never folded into job status.
func (e *Executor) invoke(ctx context.Context, job *jobs.Job, runner jobs.Runner) (any, error) {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	type attemptResult struct {
		value any
		err   error
	}
	done := make(chan attemptResult, 1)
	go func() {
		value, err := runner.Execute(runCtx, job.Params)
		done <- attemptResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &jobs.TimeoutError{Timeout: job.Timeout}
		}
		return r.value, r.err
	case <-runCtx.Done():
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &jobs.TimeoutError{Timeout: job.Timeout}
		}
		return nil, runCtx.Err()
	}
}
