package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []*jobs.Job
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job *jobs.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return job.ID, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeEnqueuer) all() []*jobs.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*jobs.Job, len(f.jobs))
	copy(out, f.jobs)
	return out
}

func startScheduler(t *testing.T, poll time.Duration) (*Scheduler, *fakeEnqueuer) {
	t.Helper()
	enq := &fakeEnqueuer{}
	s := New(enq, jobs.Defaults{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2}, poll)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s, enq
}

func TestSchedulerIntervalFires(t *testing.T) {
	s, enq := startScheduler(t, 5*time.Millisecond)

	err := s.AddSchedule(Entry{
		ID:      "quotes",
		JobType: "fetch_quotes",
		Params:  map[string]any{"symbols": []any{"ACME"}},
		Spec:    "@every 80ms",
		Queue:   "ingest",
		Enabled: true,
	})
	require.NoError(t, err)

	// 3.5 periods in: firings at 1, 2, and 3 periods, and no more.
	time.Sleep(280 * time.Millisecond)
	assert.Equal(t, 3, enq.count())

	for _, job := range enq.all() {
		assert.Equal(t, "fetch_quotes", job.Type)
		assert.Equal(t, "ingest", job.Queue)
		assert.Equal(t, jobs.StatusPending, job.Status)
		assert.Equal(t, 1, job.MaxRetries)
	}
}

func TestSchedulerDisabledEntryNeverFires(t *testing.T) {
	s, enq := startScheduler(t, 5*time.Millisecond)

	require.NoError(t, s.AddSchedule(Entry{
		ID:      "paused",
		JobType: "fetch_quotes",
		Spec:    "@every 10ms",
		Queue:   "default",
		Enabled: false,
	}))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, enq.count())
}

func TestSchedulerRejectsDuplicateAndBadEntries(t *testing.T) {
	s, _ := startScheduler(t, time.Hour)

	entry := Entry{ID: "dup", JobType: "fetch_quotes", Spec: "@every 1m", Queue: "default"}
	require.NoError(t, s.AddSchedule(entry))
	assert.Error(t, s.AddSchedule(entry))

	assert.Error(t, s.AddSchedule(Entry{ID: "", JobType: "x", Spec: "1m"}))
	assert.Error(t, s.AddSchedule(Entry{ID: "no-type", Spec: "1m"}))
	assert.Error(t, s.AddSchedule(Entry{ID: "bad-spec", JobType: "x", Spec: "* * *"}))

	// One-time trigger in the past can never fire.
	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	assert.Error(t, s.AddSchedule(Entry{ID: "stale", JobType: "x", Spec: past}))

	// Valid cron syntax that can never match (Feb 31) is rejected too,
	// instead of firing on every poll with a zero NextRun.
	assert.Error(t, s.AddSchedule(Entry{ID: "feb31", JobType: "x", Spec: "0 0 31 2 *"}))
}

func TestSchedulerRunOnceIgnoresTrigger(t *testing.T) {
	s, enq := startScheduler(t, time.Hour)

	require.NoError(t, s.AddSchedule(Entry{
		ID:      "manual",
		JobType: "archive_filing",
		Spec:    "0 3 * * *",
		Queue:   "reports",
		Enabled: true,
	}))

	taskID, err := s.RunOnce("manual")
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
	assert.Equal(t, 1, enq.count())

	_, err = s.RunOnce("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := s.Schedules()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].LastTriggered.IsZero())
}

func TestSchedulerRemoveAndList(t *testing.T) {
	s, _ := startScheduler(t, time.Hour)

	require.NoError(t, s.AddSchedule(Entry{ID: "b", JobType: "x", Spec: "1m", Queue: "default"}))
	require.NoError(t, s.AddSchedule(Entry{ID: "a", JobType: "x", Spec: "1m", Queue: "default"}))

	entries, err := s.Schedules()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)

	require.NoError(t, s.RemoveSchedule("a"))
	assert.ErrorIs(t, s.RemoveSchedule("a"), ErrNotFound)

	entries, err = s.Schedules()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSchedulerStoppedRejectsCommands(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := New(enq, jobs.Defaults{}, time.Hour)

	assert.ErrorIs(t, s.AddSchedule(Entry{ID: "x", JobType: "x", Spec: "1m"}), ErrNotRunning)
	_, err := s.Schedules()
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.AddSchedule(Entry{ID: "x", JobType: "x", Spec: "1m"}))
	s.Stop()

	assert.ErrorIs(t, s.RemoveSchedule("x"), ErrNotRunning)
}
