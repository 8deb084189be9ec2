package queue

import (
	"context"
	"errors"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

// ErrTaskNotFound is returned for status/result/cancel on an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Manager decouples job submission from execution. Two backends implement
// it: an in-process worker pool and a Redis-backed distributed queue,
// selected by configuration.
type Manager interface {
	// Enqueue accepts the job for asynchronous execution and returns its
	// task id. It fails fast when the backend is unreachable.
	Enqueue(ctx context.Context, job *jobs.Job) (string, error)

	// Status returns the latest known status for the task.
	Status(ctx context.Context, taskID string) (string, error)

	// Result returns a snapshot of the job record, including result payload
	// or last error and attempt count.
	Result(ctx context.Context, taskID string) (*jobs.Job, error)

	// Cancel marks a job cancelled. Pending jobs are never executed
	// afterwards; cancelling a running job is best-effort.
	Cancel(ctx context.Context, taskID string) error
}
