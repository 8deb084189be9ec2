package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Job lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
	StatusTimedOut  = "timed_out"
	StatusCancelled = "cancelled"
)

// Job is one unit of schedulable, retryable work. It is owned by the queue
// backend from enqueue until a terminal status; callers keep only the ID.
type Job struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Queue          string         `json:"queue"`
	Params         map[string]any `json:"params"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxRetries     int            `json:"max_retries"`
	BaseDelay      time.Duration  `json:"base_delay"`
	Multiplier     float64        `json:"backoff_multiplier"`
	Timeout        time.Duration  `json:"timeout"`
	RetryOnTimeout bool           `json:"retry_on_timeout"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Result         any            `json:"result,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// Defaults carries process-wide retry/timeout settings applied to jobs that
// do not override them.
type Defaults struct {
	MaxRetries     int
	BaseDelay      time.Duration
	Multiplier     float64
	Timeout        time.Duration
	RetryOnTimeout bool
}

// New builds a pending job with a fresh ID, filling unset knobs from d.
func New(jobType, queueName string, params map[string]any, d Defaults) *Job {
	if queueName == "" {
		queueName = "default"
	}
	if params == nil {
		params = map[string]any{}
	}
	return &Job{
		ID:             uuid.New().String(),
		Type:           jobType,
		Queue:          queueName,
		Params:         params,
		Status:         StatusPending,
		MaxRetries:     d.MaxRetries,
		BaseDelay:      d.BaseDelay,
		Multiplier:     d.Multiplier,
		Timeout:        d.Timeout,
		RetryOnTimeout: d.RetryOnTimeout,
		CreatedAt:      time.Now().UTC(),
	}
}

// Terminal reports whether the job reached a status that never transitions
// further.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}
