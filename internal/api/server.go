package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bjpl/corporate-intel-sub001/internal/breaker"
	"github.com/bjpl/corporate-intel-sub001/internal/history"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/queue"
	"github.com/bjpl/corporate-intel-sub001/internal/ratelimit"
	"github.com/bjpl/corporate-intel-sub001/internal/scheduler"
	"github.com/bjpl/corporate-intel-sub001/internal/telemetry"
)

// HistoryReader serves persisted job outcomes. Nil when Postgres is not
// configured.
type HistoryReader interface {
	LoadJobHistory(ctx context.Context, jobType string, limit int) ([]history.Record, error)
}

// Server wires the orchestration HTTP surface: job submission and
// inspection, schedule management, and the monitoring read side.
type Server struct {
	queue     queue.Manager
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	breakers  *breaker.Manager
	registry  *jobs.Registry
	limiter   *ratelimit.SubmitLimiter
	historyDB HistoryReader
	defaults  jobs.Defaults
	hub       *Hub
}

// New constructs the API server. limiter and historyDB may be nil.
func New(
	q queue.Manager,
	sched *scheduler.Scheduler,
	mon *monitor.Monitor,
	breakers *breaker.Manager,
	registry *jobs.Registry,
	limiter *ratelimit.SubmitLimiter,
	historyDB HistoryReader,
	defaults jobs.Defaults,
) *Server {
	s := &Server{
		queue:     q,
		scheduler: sched,
		monitor:   mon,
		breakers:  breakers,
		registry:  registry,
		limiter:   limiter,
		historyDB: historyDB,
		defaults:  defaults,
		hub:       NewHub(),
	}
	mon.AddListener(s.hub.Publish)
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())
	r.Get("/ws", s.hub.handleWS)

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/history", s.handleHistory)
	r.Get("/jobs/{id}", s.handleStatus)
	r.Get("/jobs/{id}/result", s.handleResult)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Get("/job-types", s.handleJobTypes)

	r.Post("/schedules", s.handleAddSchedule)
	r.Get("/schedules", s.handleListSchedules)
	r.Delete("/schedules/{id}", s.handleRemoveSchedule)
	r.Post("/schedules/{id}/run", s.handleRunSchedule)

	r.Get("/monitor/metrics", s.handleMetrics)
	r.Get("/monitor/health", s.handleHealth)
	r.Get("/monitor/running", s.handleRunning)
	r.Get("/monitor/failed", s.handleFailed)
	r.Get("/breakers", s.handleBreakers)

	return r
}

type submitRequest struct {
	Type           string         `json:"type"`
	Queue          string         `json:"queue"`
	Params         map[string]any `json:"params"`
	MaxRetries     *int           `json:"max_retries"`
	BaseDelay      string         `json:"base_delay"`
	Multiplier     float64        `json:"backoff_multiplier"`
	Timeout        string         `json:"timeout"`
	RetryOnTimeout *bool          `json:"retry_on_timeout"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}
	if _, err := s.registry.Resolve(req.Type); err != nil {
		http.Error(w, "unknown job type: "+req.Type, http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), clientFromRequest(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job := jobs.New(req.Type, req.Queue, req.Params, s.defaults)
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			http.Error(w, "max_retries must not be negative", http.StatusBadRequest)
			return
		}
		job.MaxRetries = *req.MaxRetries
	}
	if req.BaseDelay != "" {
		d, err := time.ParseDuration(req.BaseDelay)
		if err != nil || d < 0 {
			http.Error(w, "invalid base_delay", http.StatusBadRequest)
			return
		}
		job.BaseDelay = d
	}
	if req.Multiplier > 0 {
		job.Multiplier = req.Multiplier
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		job.Timeout = d
	}
	if req.RetryOnTimeout != nil {
		job.RetryOnTimeout = *req.RetryOnTimeout
	}

	taskID, err := s.queue.Enqueue(r.Context(), job)
	if err != nil {
		http.Error(w, "enqueue failed: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: taskID, Status: job.Status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.queue.Status(r.Context(), id)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": status})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.queue.Result(r.Context(), id)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.Cancel(r.Context(), id); err != nil {
		writeQueueError(w, err)
		return
	}
	status, err := s.queue.Status(r.Context(), id)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": status})
}

func (s *Server) handleJobTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.registry.Types()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.historyDB == nil {
		http.Error(w, "history store not configured", http.StatusNotImplemented)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.historyDB.LoadJobHistory(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		http.Error(w, "load history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	var entry scheduler.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.scheduler.AddSchedule(entry); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, scheduler.ErrNotRunning) {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.scheduler.Schedules()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": entries})
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.RemoveSchedule(id); err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, scheduler.ErrNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID, err := s.scheduler.RunOnce(id)
	if err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, scheduler.ErrNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Metrics(r.URL.Query().Get("type")))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.monitor.HealthStatus()
	code := http.StatusOK
	if h.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleRunning(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": s.monitor.RunningJobs()})
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": s.monitor.FailedJobs(since)})
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.breakers.Status()})
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func writeQueueError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrTaskNotFound) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
