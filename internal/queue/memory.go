package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/telemetry"
	"github.com/bjpl/corporate-intel-sub001/internal/worker"
)

// MemoryQueue is the in-process backend: a pool of worker goroutines fed by
// a channel, with a heap-backed delay queue for retry resubmission. Job
// records are canonical here; workers run attempts on private copies and
// commit under the lock, so status reads never race an executing attempt.
type MemoryQueue struct {
	executor *worker.Executor
	monitor  *monitor.Monitor
	workers  int

	ready chan *jobs.Job
	delay *delayQueue

	mu      sync.RWMutex
	records map[string]*jobs.Job
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemory builds the backend. workers <= 0 falls back to 4; buffer <= 0
// to 1024.
func NewMemory(executor *worker.Executor, mon *monitor.Monitor, workers, buffer int) *MemoryQueue {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		executor: executor,
		monitor:  mon,
		workers:  workers,
		ready:    make(chan *jobs.Job, buffer),
		delay:    newDelayQueue(),
		records:  make(map[string]*jobs.Job),
	}
}

// Start launches the worker pool and delay loop. It returns immediately.
func (m *MemoryQueue) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.started = true
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.delay.run(runCtx, func(job *jobs.Job) { m.release(runCtx, job) })
	}()

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.work(runCtx)
		}()
	}
}

// Stop halts workers and waits for in-flight attempts to finish.
func (m *MemoryQueue) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.started = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Enqueue registers the job and hands it to the pool.
func (m *MemoryQueue) Enqueue(ctx context.Context, job *jobs.Job) (string, error) {
	if job == nil || job.ID == "" {
		return "", fmt.Errorf("job must have an id")
	}
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return "", fmt.Errorf("queue is not running")
	}
	if _, exists := m.records[job.ID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("task %s already enqueued", job.ID)
	}
	job.Status = jobs.StatusPending
	m.records[job.ID] = job
	m.mu.Unlock()

	select {
	case m.ready <- job:
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.records, job.ID)
		m.mu.Unlock()
		return "", ctx.Err()
	}
	telemetry.JobsEnqueued.Inc()
	telemetry.QueueDepthGauge.Set(float64(len(m.ready)))
	return job.ID, nil
}

func (m *MemoryQueue) Status(_ context.Context, taskID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.records[taskID]
	if !ok {
		return "", ErrTaskNotFound
	}
	return job.Status, nil
}

func (m *MemoryQueue) Result(_ context.Context, taskID string) (*jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.records[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

// Cancel flips a not-yet-running job to cancelled; such jobs are skipped at
// dequeue and never executed. A job already running keeps running (best
// effort only) and its outcome stands. Terminal jobs are left untouched.
func (m *MemoryQueue) Cancel(_ context.Context, taskID string) error {
	m.mu.Lock()
	job, ok := m.records[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if job.Terminal() || job.Status == jobs.StatusRunning {
		m.mu.Unlock()
		return nil
	}
	job.Status = jobs.StatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	snapshot := *job
	m.mu.Unlock()

	m.monitor.TrackCancelled(&snapshot)
	return nil
}

func (m *MemoryQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.ready:
			telemetry.QueueDepthGauge.Set(float64(len(m.ready)))
			m.runOne(ctx, job)
		}
	}
}

func (m *MemoryQueue) runOne(ctx context.Context, job *jobs.Job) {
	m.mu.Lock()
	if job.Status == jobs.StatusCancelled {
		m.mu.Unlock()
		return
	}
	job.Status = jobs.StatusRunning
	attempt := *job
	m.mu.Unlock()

	out := m.executor.RunAttempt(ctx, &attempt)

	m.mu.Lock()
	job.Status = attempt.Status
	job.Attempts = attempt.Attempts
	job.StartedAt = attempt.StartedAt
	job.CompletedAt = attempt.CompletedAt
	job.Result = attempt.Result
	job.LastError = attempt.LastError
	m.mu.Unlock()

	if out.Retry {
		m.delay.schedule(ctx, job, time.Now().Add(out.Delay))
	}
}

// release moves a delay-elapsed job back to the ready channel.
func (m *MemoryQueue) release(ctx context.Context, job *jobs.Job) {
	m.mu.Lock()
	if job.Status == jobs.StatusCancelled {
		m.mu.Unlock()
		return
	}
	job.Status = jobs.StatusPending
	m.mu.Unlock()

	select {
	case m.ready <- job:
	case <-ctx.Done():
	}
}
