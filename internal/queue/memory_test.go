package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/retry"
	"github.com/bjpl/corporate-intel-sub001/internal/worker"
)

type countingRunner struct {
	calls    atomic.Int32
	failures int32 // fail this many calls before succeeding
	err      error
}

func (r *countingRunner) Execute(context.Context, map[string]any) (any, error) {
	n := r.calls.Add(1)
	if n <= r.failures {
		return nil, r.err
	}
	return map[string]any{"call": int(n)}, nil
}

func newMemory(t *testing.T, runner jobs.Runner) (*MemoryQueue, *monitor.Monitor, context.CancelFunc) {
	t.Helper()
	reg := jobs.NewRegistry()
	if err := reg.Register("test", func() jobs.Runner { return runner }); err != nil {
		t.Fatalf("register: %v", err)
	}
	mon := monitor.New(monitor.Options{Window: time.Hour})
	exec := worker.NewExecutor(reg, retry.New(0, 0, func() float64 { return 0 }), mon)
	q := NewMemory(exec, mon, 2, 16)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(q.Stop)
	return q, mon, cancel
}

func waitForStatus(t *testing.T, q *MemoryQueue, taskID, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.Status(context.Background(), taskID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := q.Status(context.Background(), taskID)
	t.Fatalf("task %s never reached %s, last status %s", taskID, want, got)
}

func TestMemoryEnqueueAndSucceed(t *testing.T) {
	runner := &countingRunner{}
	q, _, cancel := newMemory(t, runner)
	defer cancel()

	job := jobs.New("test", "default", nil, jobs.Defaults{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2})
	taskID, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForStatus(t, q, taskID, jobs.StatusSucceeded)

	snapshot, err := q.Result(context.Background(), taskID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if snapshot.Result == nil || snapshot.Attempts != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestMemoryRetriesUntilExhausted(t *testing.T) {
	runner := &countingRunner{failures: 100, err: errors.New("upstream 503")}
	q, mon, cancel := newMemory(t, runner)
	defer cancel()

	job := jobs.New("test", "default", nil, jobs.Defaults{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 2})
	taskID, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForStatus(t, q, taskID, jobs.StatusFailed)

	snapshot, _ := q.Result(context.Background(), taskID)
	if snapshot.Attempts != 3 {
		t.Fatalf("max_retries=2 should give 3 attempts, got %d", snapshot.Attempts)
	}
	if snapshot.LastError == "" {
		t.Fatalf("terminal failure must carry the last error")
	}
	if got := mon.Metrics("").Failed; got != 1 {
		t.Fatalf("monitor failure counter should be exactly 1, got %d", got)
	}
	if got := int(runner.calls.Load()); got != 3 {
		t.Fatalf("runner should have been invoked 3 times, got %d", got)
	}
}

func TestMemoryCancelPendingNeverExecutes(t *testing.T) {
	block := make(chan struct{})
	gate := &gateRunner{block: block}
	q, mon, cancel := newMemory(t, gate)
	defer cancel()

	defaults := jobs.Defaults{MaxRetries: 0, BaseDelay: time.Millisecond, Multiplier: 2}

	// Occupy both workers so the third job stays pending.
	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(context.Background(), jobs.New("test", "default", nil, defaults)); err != nil {
			t.Fatalf("enqueue blocker: %v", err)
		}
	}
	victim := jobs.New("test", "default", nil, defaults)
	taskID, err := q.Enqueue(context.Background(), victim)
	if err != nil {
		t.Fatalf("enqueue victim: %v", err)
	}

	if err := q.Cancel(context.Background(), taskID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(block)

	waitForStatus(t, q, taskID, jobs.StatusCancelled)
	// Let the blockers drain, then confirm the victim never ran.
	deadline := time.Now().Add(2 * time.Second)
	for gate.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := gate.calls.Load(); got != 2 {
		t.Fatalf("cancelled job must not execute; %d executions observed", got)
	}
	if got := mon.Metrics("").Cancelled; got != 1 {
		t.Fatalf("monitor cancelled counter should be 1, got %d", got)
	}
}

type gateRunner struct {
	block chan struct{}
	calls atomic.Int32
}

func (r *gateRunner) Execute(ctx context.Context, _ map[string]any) (any, error) {
	r.calls.Add(1)
	select {
	case <-r.block:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestMemoryUnknownTask(t *testing.T) {
	q, _, cancel := newMemory(t, &countingRunner{})
	defer cancel()

	if _, err := q.Status(context.Background(), "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := q.Result(context.Background(), "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := q.Cancel(context.Background(), "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMemoryStopLeavesRunningJobNonTerminal(t *testing.T) {
	gate := &gateRunner{block: make(chan struct{})}
	q, mon, cancel := newMemory(t, gate)
	defer cancel()

	job := jobs.New("test", "default", nil, jobs.Defaults{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2})
	taskID, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForStatus(t, q, taskID, jobs.StatusRunning)

	// Shutdown interrupts the attempt; the job must not read as failed.
	q.Stop()

	status, err := q.Status(context.Background(), taskID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != jobs.StatusPending {
		t.Fatalf("interrupted job must stay non-terminal, got %s", status)
	}
	if got := mon.Metrics("").Failed; got != 0 {
		t.Fatalf("shutdown must not count as failure, got %d", got)
	}
}

func TestDelayScheduleUnblocksOnCancel(t *testing.T) {
	d := newDelayQueue()
	job := jobs.New("test", "default", nil, jobs.Defaults{})

	// Fill the buffer with the loop not running.
	for i := 0; i < cap(d.in); i++ {
		d.schedule(context.Background(), job, time.Now().Add(time.Hour))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		d.schedule(ctx, job, time.Now().Add(time.Hour))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("schedule must give up when the context is cancelled")
	}
}

func TestMemoryEnqueueAfterStopFails(t *testing.T) {
	runner := &countingRunner{}
	q, _, _ := newMemory(t, runner)
	q.Stop()

	_, err := q.Enqueue(context.Background(), jobs.New("test", "default", nil, jobs.Defaults{}))
	if err == nil {
		t.Fatalf("enqueue on a stopped queue must fail fast")
	}
}
