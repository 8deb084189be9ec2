package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
    id          BIGSERIAL PRIMARY KEY,
    task_id     TEXT        NOT NULL,
    job_type    TEXT        NOT NULL,
    queue       TEXT        NOT NULL,
    status      TEXT        NOT NULL,
    attempts    INT         NOT NULL,
    params      JSONB,
    result      JSONB,
    last_error  TEXT        NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS job_history_type_idx ON job_history (job_type, recorded_at DESC);
CREATE INDEX IF NOT EXISTS job_history_task_idx ON job_history (task_id);
`

// Record is one persisted job outcome.
type Record struct {
	TaskID     string         `json:"task_id"`
	JobType    string         `json:"job_type"`
	Queue      string         `json:"queue"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	Params     map[string]any `json:"params,omitempty"`
	Result     any            `json:"result,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Store persists terminal job outcomes to Postgres for audit queries.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Init creates the history table when it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply history schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveResult appends one outcome row. Callers invoke it when a job reaches a
// terminal status.
func (s *Store) SaveResult(ctx context.Context, job *jobs.Job) error {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	resultJSON, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_history
			(task_id, job_type, queue, status, attempts, params, result, last_error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Type, job.Queue, job.Status, job.Attempts,
		paramsJSON, resultJSON, job.LastError, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history row: %w", err)
	}
	return nil
}

// LoadJobHistory returns the most recent outcomes, newest first. An empty
// jobType matches everything. limit <= 0 defaults to 50.
func (s *Store) LoadJobHistory(ctx context.Context, jobType string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT task_id, job_type, queue, status, attempts, params, result, last_error,
		       started_at, finished_at, recorded_at
		FROM job_history
		WHERE $1 = '' OR job_type = $1
		ORDER BY recorded_at DESC
		LIMIT $2`,
		jobType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			paramsJSON []byte
			resultJSON []byte
		)
		if err := rows.Scan(
			&rec.TaskID, &rec.JobType, &rec.Queue, &rec.Status, &rec.Attempts,
			&paramsJSON, &resultJSON, &rec.LastError,
			&rec.StartedAt, &rec.FinishedAt, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if len(paramsJSON) > 0 {
			_ = json.Unmarshal(paramsJSON, &rec.Params)
		}
		if len(resultJSON) > 0 {
			_ = json.Unmarshal(resultJSON, &rec.Result)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
