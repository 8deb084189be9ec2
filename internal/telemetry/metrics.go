package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_jobs_enqueued_total", Help: "Jobs accepted for execution"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_jobs_succeeded_total", Help: "Jobs that completed successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_jobs_failed_total", Help: "Jobs that failed terminally"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_jobs_retried_total", Help: "Retry attempts scheduled"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_jobs_cancelled_total", Help: "Jobs cancelled before completion"})
	ScheduleTriggers = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_schedule_triggers_total", Help: "Jobs submitted by the scheduler"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	RunningGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orchestrator_jobs_running", Help: "Jobs currently executing"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "orchestrator_queue_depth", Help: "Ready queue depth across queues"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsSucceeded,
			JobsFailed,
			JobsRetried,
			JobsCancelled,
			ScheduleTriggers,
			RateLimitRejects,
			RunningGauge,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
