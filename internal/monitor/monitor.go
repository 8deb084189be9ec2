package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/telemetry"
)

// Event kinds published to listeners.
const (
	EventStart     = "start"
	EventSuccess   = "success"
	EventFailure   = "failure"
	EventRetry     = "retry"
	EventCancelled = "cancelled"
)

// Event is one job lifecycle observation, fanned out to listeners (the
// websocket feed) in addition to updating aggregates.
type Event struct {
	Kind    string    `json:"kind"`
	TaskID  string    `json:"task_id"`
	JobType string    `json:"job_type"`
	Attempt int       `json:"attempt"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// RunningJob describes a job currently executing.
type RunningJob struct {
	TaskID    string    `json:"task_id"`
	JobType   string    `json:"job_type"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
}

// FailedJob describes a terminal failure kept within the retention window.
type FailedJob struct {
	TaskID   string    `json:"task_id"`
	JobType  string    `json:"job_type"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// TypeMetrics is the per-job-type breakdown.
type TypeMetrics struct {
	Total       int64         `json:"total"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	Retries     int64         `json:"retries"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Metrics is the aggregate snapshot returned to observability consumers.
type Metrics struct {
	Total       int64                  `json:"total"`
	Succeeded   int64                  `json:"succeeded"`
	Failed      int64                  `json:"failed"`
	Retries     int64                  `json:"retries"`
	Cancelled   int64                  `json:"cancelled"`
	Running     int                    `json:"running"`
	SuccessRate float64                `json:"success_rate"`
	AvgDuration time.Duration          `json:"avg_duration"`
	P95Duration time.Duration          `json:"p95_duration"`
	ByType      map[string]TypeMetrics `json:"by_type,omitempty"`
}

// Health reports degradation without leaking individual job payloads.
type Health struct {
	Status   string   `json:"status"` // healthy | degraded
	Warnings []string `json:"warnings"`
}

// Options tune retention and health thresholds.
type Options struct {
	Window               time.Duration
	MaxSamples           int
	FailureRateThreshold float64
	StuckThreshold       time.Duration
}

type typeStats struct {
	total, succeeded, failed, retries int64
	totalDur                          time.Duration
	durCount                          int64
}

type outcome struct {
	ok bool
	at time.Time
}

type durSample struct {
	d  time.Duration
	at time.Time
}

// Monitor aggregates job lifecycle events into process-wide metrics and a
// health status. All reads are idempotent snapshots.
type Monitor struct {
	mu        sync.Mutex
	opts      Options
	total     int64
	succeeded int64
	failed    int64
	retries   int64
	cancelled int64
	timedOut  int64
	running   map[string]RunningJob
	perType   map[string]*typeStats
	samples   []durSample
	outcomes  []outcome
	failures  []FailedJob
	listeners []func(Event)
	now       func() time.Time
}

func New(opts Options) *Monitor {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 1024
	}
	if opts.FailureRateThreshold <= 0 {
		opts.FailureRateThreshold = 0.5
	}
	if opts.StuckThreshold <= 0 {
		opts.StuckThreshold = 10 * time.Minute
	}
	return &Monitor{
		opts:    opts,
		running: make(map[string]RunningJob),
		perType: make(map[string]*typeStats),
		now:     time.Now,
	}
}

// AddListener registers a lifecycle event sink. Listeners run synchronously
// on the tracking goroutine and should not block.
func (m *Monitor) AddListener(fn func(Event)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// TrackStart records an attempt beginning.
func (m *Monitor) TrackStart(job *jobs.Job) {
	now := m.now()
	m.mu.Lock()
	if job.Attempts <= 1 {
		m.total++
		m.stats(job.Type).total++
	}
	m.running[job.ID] = RunningJob{TaskID: job.ID, JobType: job.Type, Attempt: job.Attempts, StartedAt: now}
	m.mu.Unlock()
	telemetry.RunningGauge.Inc()
	m.emit(Event{Kind: EventStart, TaskID: job.ID, JobType: job.Type, Attempt: job.Attempts, At: now})
}

// TrackRetry records a failed attempt that will run again. The failure
// counter is untouched; only terminal failures count there.
func (m *Monitor) TrackRetry(job *jobs.Job, err error, delay time.Duration) {
	now := m.now()
	m.mu.Lock()
	m.retries++
	m.stats(job.Type).retries++
	delete(m.running, job.ID)
	m.mu.Unlock()
	telemetry.RunningGauge.Dec()
	telemetry.JobsRetried.Inc()
	m.emit(Event{Kind: EventRetry, TaskID: job.ID, JobType: job.Type, Attempt: job.Attempts, Error: err.Error(), At: now})
}

// TrackComplete records a terminal outcome. The job must already carry its
// final status and timestamps.
func (m *Monitor) TrackComplete(job *jobs.Job) {
	now := m.now()
	var dur time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		dur = job.CompletedAt.Sub(*job.StartedAt)
	}

	m.mu.Lock()
	delete(m.running, job.ID)
	st := m.stats(job.Type)
	kind := EventFailure
	switch job.Status {
	case jobs.StatusSucceeded:
		kind = EventSuccess
		m.succeeded++
		st.succeeded++
		st.totalDur += dur
		st.durCount++
		m.samples = append(m.samples, durSample{d: dur, at: now})
		m.outcomes = append(m.outcomes, outcome{ok: true, at: now})
	case jobs.StatusTimedOut:
		m.timedOut++
		fallthrough
	case jobs.StatusFailed:
		m.failed++
		st.failed++
		m.failures = append(m.failures, FailedJob{
			TaskID: job.ID, JobType: job.Type, Error: job.LastError, Attempts: job.Attempts, At: now,
		})
		m.outcomes = append(m.outcomes, outcome{ok: false, at: now})
	}
	m.prune(now)
	m.mu.Unlock()

	telemetry.RunningGauge.Dec()
	if kind == EventSuccess {
		telemetry.JobsSucceeded.Inc()
	} else {
		telemetry.JobsFailed.Inc()
	}
	m.emit(Event{Kind: kind, TaskID: job.ID, JobType: job.Type, Attempt: job.Attempts, Error: job.LastError, At: now})
}

// TrackInterrupted removes a job whose attempt was cut short by worker
// shutdown. No outcome counters move; the job runs again elsewhere. The
// executor rewinds Attempts first, so a rewound first attempt (Attempts==0)
// also takes back the admission TrackStart recorded.
func (m *Monitor) TrackInterrupted(job *jobs.Job) {
	m.mu.Lock()
	if job.Attempts == 0 {
		m.total--
		m.stats(job.Type).total--
	}
	delete(m.running, job.ID)
	m.mu.Unlock()
	telemetry.RunningGauge.Dec()
}

// TrackCancelled records a job cancelled before (or instead of) completion.
func (m *Monitor) TrackCancelled(job *jobs.Job) {
	now := m.now()
	m.mu.Lock()
	m.cancelled++
	delete(m.running, job.ID)
	m.mu.Unlock()
	telemetry.JobsCancelled.Inc()
	m.emit(Event{Kind: EventCancelled, TaskID: job.ID, JobType: job.Type, Attempt: job.Attempts, At: now})
}

// Metrics snapshots aggregates, optionally narrowed to one job type.
func (m *Monitor) Metrics(jobType string) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if jobType != "" {
		st := m.perType[jobType]
		out := Metrics{}
		if st == nil {
			return out
		}
		out.Total = st.total
		out.Succeeded = st.succeeded
		out.Failed = st.failed
		out.Retries = st.retries
		if st.durCount > 0 {
			out.AvgDuration = st.totalDur / time.Duration(st.durCount)
		}
		if done := st.succeeded + st.failed; done > 0 {
			out.SuccessRate = float64(st.succeeded) / float64(done)
		}
		for _, r := range m.running {
			if r.JobType == jobType {
				out.Running++
			}
		}
		return out
	}

	out := Metrics{
		Total:     m.total,
		Succeeded: m.succeeded,
		Failed:    m.failed,
		Retries:   m.retries,
		Cancelled: m.cancelled,
		Running:   len(m.running),
		ByType:    make(map[string]TypeMetrics, len(m.perType)),
	}
	if done := m.succeeded + m.failed; done > 0 {
		out.SuccessRate = float64(m.succeeded) / float64(done)
	}
	if len(m.samples) > 0 {
		var total time.Duration
		sorted := make([]time.Duration, 0, len(m.samples))
		for _, s := range m.samples {
			total += s.d
			sorted = append(sorted, s.d)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out.AvgDuration = total / time.Duration(len(sorted))
		idx := (len(sorted)*95 + 99) / 100
		if idx > 0 {
			idx--
		}
		out.P95Duration = sorted[idx]
	}
	for t, st := range m.perType {
		tm := TypeMetrics{Total: st.total, Succeeded: st.succeeded, Failed: st.failed, Retries: st.retries}
		if st.durCount > 0 {
			tm.AvgDuration = st.totalDur / time.Duration(st.durCount)
		}
		out.ByType[t] = tm
	}
	return out
}

// HealthStatus evaluates recent failure rate and stuck running jobs against
// the configured thresholds. Degraded is advisory; alerting is the
// consumer's call.
func (m *Monitor) HealthStatus() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{Status: "healthy", Warnings: []string{}}
	cutoff := m.now().Add(-m.opts.Window)

	var recent, recentFailed int
	for _, o := range m.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		recent++
		if !o.ok {
			recentFailed++
		}
	}
	if recent >= 5 {
		rate := float64(recentFailed) / float64(recent)
		if rate > m.opts.FailureRateThreshold {
			h.Warnings = append(h.Warnings, fmt.Sprintf("failure rate %.0f%% over last %s exceeds %.0f%%",
				rate*100, m.opts.Window, m.opts.FailureRateThreshold*100))
		}
	}

	stuckCutoff := m.now().Add(-m.opts.StuckThreshold)
	for _, r := range m.running {
		if r.StartedAt.Before(stuckCutoff) {
			h.Warnings = append(h.Warnings, fmt.Sprintf("job %s (%s) running since %s",
				r.TaskID, r.JobType, r.StartedAt.UTC().Format(time.RFC3339)))
		}
	}

	if len(h.Warnings) > 0 {
		h.Status = "degraded"
	}
	return h
}

// FailedJobs returns terminal failures observed at or after since, newest
// last, bounded by the retention window.
func (m *Monitor) FailedJobs(since time.Time) []FailedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailedJob, 0, len(m.failures))
	for _, f := range m.failures {
		if !f.At.Before(since) {
			out = append(out, f)
		}
	}
	return out
}

// RunningJobs snapshots jobs currently executing.
func (m *Monitor) RunningJobs() []RunningJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunningJob, 0, len(m.running))
	for _, r := range m.running {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Reset clears all aggregates, for tests and metric rollover.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.succeeded, m.failed, m.retries, m.cancelled, m.timedOut = 0, 0, 0, 0, 0, 0
	m.running = make(map[string]RunningJob)
	m.perType = make(map[string]*typeStats)
	m.samples = nil
	m.outcomes = nil
	m.failures = nil
}

// stats must be called with the lock held.
func (m *Monitor) stats(jobType string) *typeStats {
	st, ok := m.perType[jobType]
	if !ok {
		st = &typeStats{}
		m.perType[jobType] = st
	}
	return st
}

// prune drops window-expired samples; called with the lock held, only from
// write paths so reads stay idempotent.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.opts.Window)
	m.samples = pruneSamples(m.samples, cutoff, m.opts.MaxSamples)
	keepOut := m.outcomes[:0]
	for _, o := range m.outcomes {
		if !o.at.Before(cutoff) {
			keepOut = append(keepOut, o)
		}
	}
	m.outcomes = keepOut
	keepFail := m.failures[:0]
	for _, f := range m.failures {
		if !f.At.Before(cutoff) {
			keepFail = append(keepFail, f)
		}
	}
	m.failures = keepFail
}

func pruneSamples(in []durSample, cutoff time.Time, max int) []durSample {
	keep := in[:0]
	for _, s := range in {
		if !s.at.Before(cutoff) {
			keep = append(keep, s)
		}
	}
	if len(keep) > max {
		keep = keep[len(keep)-max:]
	}
	return keep
}

func (m *Monitor) emit(ev Event) {
	m.mu.Lock()
	listeners := make([]func(Event), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
