package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/telemetry"
)

var (
	// ErrNotRunning is returned by schedule operations while the scheduler
	// is stopped.
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrNotFound is returned for operations on an unknown schedule id.
	ErrNotFound = errors.New("schedule not found")
)

// Enqueuer is the narrow queue dependency the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) (string, error)
}

// Entry is one recurring or one-time trigger for job creation.
type Entry struct {
	ID            string         `json:"id"`
	JobType       string         `json:"job_type"`
	Params        map[string]any `json:"params,omitempty"`
	Spec          string         `json:"trigger"`
	Queue         string         `json:"queue"`
	Enabled       bool           `json:"enabled"`
	LastTriggered time.Time      `json:"last_triggered"`
	NextRun       time.Time      `json:"next_run"`

	trigger Trigger
	expired bool
}

type cmdKind int

const (
	cmdAdd cmdKind = iota
	cmdRemove
	cmdRunOnce
	cmdList
)

type command struct {
	kind  cmdKind
	entry Entry
	id    string
	reply chan response
}

type response struct {
	taskID  string
	entries []Entry
	err     error
}

// Scheduler evaluates schedule entries on a single polling goroutine and
// submits due jobs to the queue. The entry set is owned by that goroutine;
// add/remove/run-once arrive over a command channel, so schedule mutation
// and the evaluation pass can never interleave.
type Scheduler struct {
	enqueuer Enqueuer
	defaults jobs.Defaults
	poll     time.Duration
	now      func() time.Time

	cmds    chan command
	entries map[string]*Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a stopped scheduler. poll <= 0 defaults to one second.
func New(enqueuer Enqueuer, defaults jobs.Defaults, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = time.Second
	}
	return &Scheduler{
		enqueuer: enqueuer,
		defaults: defaults,
		poll:     poll,
		now:      time.Now,
		cmds:     make(chan command),
		entries:  make(map[string]*Entry),
	}
}

// Start launches the polling loop. Entries added before a Stop survive a
// restart.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	cancel()
	<-done
}

// AddSchedule validates and registers an entry. The trigger must produce at
// least one future firing.
func (s *Scheduler) AddSchedule(entry Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("schedule id must not be empty")
	}
	if entry.JobType == "" {
		return fmt.Errorf("schedule %s: job type must not be empty", entry.ID)
	}
	trigger, err := ParseTrigger(entry.Spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", entry.ID, err)
	}
	entry.trigger = trigger
	r := s.request(command{kind: cmdAdd, entry: entry, reply: make(chan response, 1)})
	return r.err
}

// RemoveSchedule deletes an entry.
func (s *Scheduler) RemoveSchedule(id string) error {
	r := s.request(command{kind: cmdRemove, id: id, reply: make(chan response, 1)})
	return r.err
}

// RunOnce fires an entry immediately, regardless of its trigger, and
// returns the submitted task id.
func (s *Scheduler) RunOnce(id string) (string, error) {
	r := s.request(command{kind: cmdRunOnce, id: id, reply: make(chan response, 1)})
	return r.taskID, r.err
}

// Schedules snapshots the entry set, sorted by id.
func (s *Scheduler) Schedules() ([]Entry, error) {
	r := s.request(command{kind: cmdList, reply: make(chan response, 1)})
	return r.entries, r.err
}

func (s *Scheduler) request(cmd command) response {
	s.mu.Lock()
	running := s.running
	done := s.done
	s.mu.Unlock()
	if !running {
		return response{err: ErrNotRunning}
	}
	select {
	case s.cmds <- cmd:
	case <-done:
		return response{err: ErrNotRunning}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-done:
		return response{err: ErrNotRunning}
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.apply(ctx, cmd)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) apply(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdAdd:
		if _, exists := s.entries[cmd.entry.ID]; exists {
			cmd.reply <- response{err: fmt.Errorf("schedule %s already exists", cmd.entry.ID)}
			return
		}
		next, ok := cmd.entry.trigger.Next(s.now())
		if !ok {
			cmd.reply <- response{err: fmt.Errorf("schedule %s: trigger %q never fires", cmd.entry.ID, cmd.entry.Spec)}
			return
		}
		entry := cmd.entry
		entry.NextRun = next
		s.entries[entry.ID] = &entry
		cmd.reply <- response{}

	case cmdRemove:
		if _, exists := s.entries[cmd.id]; !exists {
			cmd.reply <- response{err: ErrNotFound}
			return
		}
		delete(s.entries, cmd.id)
		cmd.reply <- response{}

	case cmdRunOnce:
		entry, exists := s.entries[cmd.id]
		if !exists {
			cmd.reply <- response{err: ErrNotFound}
			return
		}
		taskID, err := s.fire(ctx, entry)
		cmd.reply <- response{taskID: taskID, err: err}

	case cmdList:
		out := make([]Entry, 0, len(s.entries))
		for _, e := range s.entries {
			out = append(out, *e)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		cmd.reply <- response{entries: out}
	}
}

// tick fires every due entry once. A loop pause longer than one period
// yields a single catch-up fire; the trigger then re-anchors from now.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, entry := range s.entries {
		if !entry.Enabled || entry.expired {
			continue
		}
		if now.Before(entry.NextRun) {
			continue
		}
		if _, err := s.fire(ctx, entry); err != nil {
			log.Printf("schedule %s: enqueue failed: %v", entry.ID, err)
			continue
		}
		next, ok := entry.trigger.Next(now)
		if !ok {
			entry.expired = true
			continue
		}
		entry.NextRun = next
	}
}

func (s *Scheduler) fire(ctx context.Context, entry *Entry) (string, error) {
	params := make(map[string]any, len(entry.Params))
	for k, v := range entry.Params {
		params[k] = v
	}
	job := jobs.New(entry.JobType, entry.Queue, params, s.defaults)
	taskID, err := s.enqueuer.Enqueue(ctx, job)
	if err != nil {
		return "", err
	}
	entry.LastTriggered = s.now()
	telemetry.ScheduleTriggers.Inc()
	return taskID, nil
}
