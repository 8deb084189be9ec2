package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

// Policy decides whether a failed attempt is retried and how long to wait.
// Delays grow as base * multiplier^(attempt-1), capped at MaxDelay, with
// bounded jitter added on top to spread resubmissions.
type Policy struct {
	MaxDelay time.Duration
	Jitter   float64 // fraction of the computed delay, [0, 1)
	rnd      func() float64
}

// New builds a policy. rnd may be nil, in which case a time-seeded source
// is used; tests inject a deterministic one.
func New(maxDelay time.Duration, jitter float64, rnd func() float64) Policy {
	if rnd == nil {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		rnd = r.Float64
	}
	if jitter < 0 {
		jitter = 0
	}
	return Policy{MaxDelay: maxDelay, Jitter: jitter, rnd: rnd}
}

// ShouldRetry reports whether the job gets another attempt after err.
// Attempts counts started attempts, so a job with MaxRetries=N runs at most
// N+1 times.
func (p Policy) ShouldRetry(job *jobs.Job, err error) bool {
	if job.Attempts > job.MaxRetries {
		return false
	}
	if !jobs.Retryable(err) {
		return false
	}
	if jobs.IsTimeout(err) && !job.RetryOnTimeout {
		return false
	}
	return true
}

// NextDelay computes the wait before the job's next attempt, based on how
// many attempts have already run.
func (p Policy) NextDelay(job *jobs.Job) time.Duration {
	attempt := job.Attempts
	if attempt < 1 {
		attempt = 1
	}
	base := job.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	mult := job.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(base) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		delay += time.Duration(p.rnd() * p.Jitter * float64(delay))
	}
	return delay
}
