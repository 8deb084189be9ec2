package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bjpl/corporate-intel-sub001/internal/config"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/telemetry"
	"github.com/bjpl/corporate-intel-sub001/internal/worker"
)

const (
	inflightKey  = "orc:inflight"
	scheduledKey = "orc:scheduled"
	jobKeyPrefix = "orc:job:"
)

// RedisQueue is the distributed backend. Ready jobs live in per-queue lists,
// retry-delayed jobs in a scheduled zset, and leased jobs in an inflight
// zset scored by visibility deadline. The full job record rides in a hash
// per task so any consumer can serve status and result queries.
type RedisQueue struct {
	client     *redis.Client
	executor   *worker.Executor
	monitor    *monitor.Monitor
	queues     []string
	visibility time.Duration
	poll       time.Duration
	batch      int64
	resultTTL  time.Duration
}

// NewRedis builds the backend from config.
func NewRedis(cfg config.Config, executor *worker.Executor, mon *monitor.Monitor) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	queues := cfg.QueueNames
	if len(queues) == 0 {
		queues = []string{"default"}
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	poll := cfg.WorkerPollInterval
	if poll == 0 {
		poll = time.Second
	}
	return &RedisQueue{
		client:     client,
		executor:   executor,
		monitor:    mon,
		queues:     queues,
		visibility: visibility,
		poll:       poll,
		batch:      int64(cfg.ScheduledBatchSize),
		resultTTL:  cfg.ResultTTL,
	}
}

func readyKey(queueName string) string { return "orc:ready:" + queueName }
func jobKey(taskID string) string      { return jobKeyPrefix + taskID }

func (q *RedisQueue) queueFor(job *jobs.Job) string {
	for _, name := range q.queues {
		if name == job.Queue {
			return name
		}
	}
	return q.queues[0]
}

// Enqueue writes the job record and pushes it onto its ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, job *jobs.Job) (string, error) {
	if job == nil || job.ID == "" {
		return "", fmt.Errorf("job must have an id")
	}
	job.Status = jobs.StatusPending
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	queueName := q.queueFor(job)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), "data", data, "status", job.Status, "queue", queueName)
	pipe.RPush(ctx, readyKey(queueName), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	telemetry.JobsEnqueued.Inc()
	return job.ID, nil
}

func (q *RedisQueue) Status(ctx context.Context, taskID string) (string, error) {
	status, err := q.client.HGet(ctx, jobKey(taskID), "status").Result()
	if err == redis.Nil {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

func (q *RedisQueue) Result(ctx context.Context, taskID string) (*jobs.Job, error) {
	data, err := q.client.HGet(ctx, jobKey(taskID), "data").Result()
	if err == redis.Nil {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	var job jobs.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Cancel removes a not-yet-running job from ready and scheduled structures
// and marks it cancelled. Running jobs are left to finish (best effort).
func (q *RedisQueue) Cancel(ctx context.Context, taskID string) error {
	job, err := q.Result(ctx, taskID)
	if err != nil {
		return err
	}
	if job.Terminal() || job.Status == jobs.StatusRunning {
		return nil
	}

	job.Status = jobs.StatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	for _, name := range q.queues {
		pipe.LRem(ctx, readyKey(name), 0, taskID)
	}
	pipe.ZRem(ctx, scheduledKey, taskID)
	pipe.HSet(ctx, jobKey(taskID), "data", data, "status", job.Status)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	q.monitor.TrackCancelled(job)
	return nil
}

// Run drives one consumer loop until ctx is cancelled. Several loops may
// run in one process or across processes; leases keep them from colliding.
func (q *RedisQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		_, _ = q.promoteScheduled(ctx, now, q.batch)
		_, _ = q.requeueExpired(ctx, now, q.batch)
		if depth, err := q.readyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		taskID, err := q.dequeueWithLease(ctx)
		if err != nil || taskID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.poll):
			}
			continue
		}

		job, err := q.Result(ctx, taskID)
		if err != nil {
			_ = q.ack(ctx, taskID)
			continue
		}
		if job.Status == jobs.StatusCancelled {
			_ = q.ack(ctx, taskID)
			continue
		}
		_ = q.client.HSet(ctx, jobKey(taskID), "status", jobs.StatusRunning).Err()

		out := q.executor.RunAttempt(ctx, job)
		if out.Interrupted {
			// Shutdown mid-attempt: neither persist nor ack, so the
			// lease expires and another consumer reclaims the job.
			continue
		}
		if err := q.persist(ctx, job); err != nil {
			// Leave the lease to expire; another consumer will retry.
			continue
		}
		_ = q.ack(ctx, taskID)
		if out.Retry {
			_ = q.scheduleRetry(ctx, job, time.Now().Add(out.Delay))
		}
	}
}

// persist writes the mutated job record back, applying result retention on
// terminal records.
func (q *RedisQueue) persist(ctx context.Context, job *jobs.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), "data", data, "status", job.Status)
	if job.Terminal() && q.resultTTL > 0 {
		pipe.PExpire(ctx, jobKey(job.ID), q.resultTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) scheduleRetry(ctx context.Context, job *jobs.Job, runAt time.Time) error {
	return q.client.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

// promoteScheduled moves due retries onto their ready lists.
func (q *RedisQueue) promoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		queueName, err := q.client.HGet(ctx, jobKey(id), "queue").Result()
		if err != nil || queueName == "" {
			queueName = q.queues[0]
		}
		pipe.ZRem(ctx, scheduledKey, id)
		pipe.HSet(ctx, jobKey(id), "status", jobs.StatusPending)
		pipe.RPush(ctx, readyKey(queueName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// requeueExpired reclaims leases whose visibility deadline passed, so a
// crashed consumer's jobs get picked up again.
func (q *RedisQueue) requeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		queueName, err := q.client.HGet(ctx, jobKey(id), "queue").Result()
		if err != nil || queueName == "" {
			queueName = q.queues[0]
		}
		pipe.ZRem(ctx, inflightKey, id)
		pipe.HSet(ctx, jobKey(id), "status", jobs.StatusPending)
		pipe.RPush(ctx, readyKey(queueName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// dequeueWithLease pops the first available job across queues and records
// its lease in the inflight zset atomically.
func (q *RedisQueue) dequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.queues)+1)
	for _, name := range q.queues {
		keys = append(keys, readyKey(name))
	}
	keys = append(keys, inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibility).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	taskID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return taskID, nil
}

func (q *RedisQueue) ack(ctx context.Context, taskID string) error {
	return q.client.ZRem(ctx, inflightKey, taskID).Err()
}

func (q *RedisQueue) readyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.queues))
	for _, name := range q.queues {
		cmds = append(cmds, pipe.LLen(ctx, readyKey(name)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
