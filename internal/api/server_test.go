package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjpl/corporate-intel-sub001/internal/breaker"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/queue"
	"github.com/bjpl/corporate-intel-sub001/internal/ratelimit"
	"github.com/bjpl/corporate-intel-sub001/internal/retry"
	"github.com/bjpl/corporate-intel-sub001/internal/scheduler"
	"github.com/bjpl/corporate-intel-sub001/internal/telemetry"
	"github.com/bjpl/corporate-intel-sub001/internal/worker"
)

type echoRunner struct{}

func (echoRunner) Execute(_ context.Context, params map[string]any) (any, error) {
	return params, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWithLimiter(t, nil)
}

func newTestServerWithLimiter(t *testing.T, limiter *ratelimit.SubmitLimiter) *httptest.Server {
	t.Helper()

	reg := jobs.NewRegistry()
	require.NoError(t, reg.Register("echo", func() jobs.Runner { return echoRunner{} }))

	mon := monitor.New(monitor.Options{Window: time.Hour})
	exec := worker.NewExecutor(reg, retry.New(0, 0, func() float64 { return 0 }), mon)
	q := queue.NewMemory(exec, mon, 2, 16)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() { q.Stop(); cancel() })

	defaults := jobs.Defaults{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2}
	sched := scheduler.New(q, defaults, time.Hour)
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(sched.Stop)

	breakers := breaker.NewManager(breaker.Settings{Threshold: 5, OpenTimeout: time.Minute}, nil)
	srv := New(q, sched, mon, breakers, reg, limiter, nil, defaults)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestSubmitStatusResultFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/jobs", map[string]any{
		"type":   "echo",
		"queue":  "ingest",
		"params": map[string]any{"symbols": []string{"ACME"}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &submitted)
	require.NotEmpty(t, submitted.TaskID)
	assert.Equal(t, jobs.StatusPending, submitted.Status)

	// Poll until the job completes.
	deadline := time.Now().Add(3 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		r, err := http.Get(ts.URL + "/jobs/" + submitted.TaskID)
		require.NoError(t, err)
		var body struct {
			Status string `json:"status"`
		}
		decodeBody(t, r, &body)
		status = body.Status
		if status == jobs.StatusSucceeded {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, jobs.StatusSucceeded, status)

	r, err := http.Get(ts.URL + "/jobs/" + submitted.TaskID + "/result")
	require.NoError(t, err)
	var job jobs.Job
	decodeBody(t, r, &job)
	assert.Equal(t, "echo", job.Type)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.Result)
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/jobs", map[string]any{"type": "unregistered"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/jobs", map[string]any{"params": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/jobs", map[string]any{"type": "echo", "base_delay": "soon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUnknownTaskRoutes(t *testing.T) {
	ts := newTestServer(t)

	r, err := http.Get(ts.URL + "/jobs/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
	r.Body.Close()

	resp := postJSON(t, ts.URL+"/jobs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestScheduleRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/schedules", map[string]any{
		"id":       "hourly-echo",
		"job_type": "echo",
		"trigger":  "@every 1h",
		"queue":    "default",
		"enabled":  true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Duplicate id is rejected.
	resp = postJSON(t, ts.URL+"/schedules", map[string]any{
		"id": "hourly-echo", "job_type": "echo", "trigger": "@every 1h",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	r, err := http.Get(ts.URL + "/schedules")
	require.NoError(t, err)
	var listed struct {
		Schedules []scheduler.Entry `json:"schedules"`
	}
	decodeBody(t, r, &listed)
	require.Len(t, listed.Schedules, 1)
	assert.Equal(t, "hourly-echo", listed.Schedules[0].ID)

	resp = postJSON(t, ts.URL+"/schedules/hourly-echo/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var ran struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, resp, &ran)
	assert.NotEmpty(t, ran.TaskID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/schedules/hourly-echo", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	del.Body.Close()

	resp = postJSON(t, ts.URL+"/schedules/hourly-echo/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestMonitorRoutes(t *testing.T) {
	ts := newTestServer(t)

	r, err := http.Get(ts.URL + "/monitor/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	r.Body.Close()

	r, err = http.Get(ts.URL + "/monitor/health")
	require.NoError(t, err)
	var health monitor.Health
	decodeBody(t, r, &health)
	assert.Equal(t, "healthy", health.Status)

	r, err = http.Get(ts.URL + "/monitor/failed?since=not-a-time")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	r.Body.Close()

	r, err = http.Get(ts.URL + "/breakers")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	r.Body.Close()

	r, err = http.Get(ts.URL + "/job-types")
	require.NoError(t, err)
	var types struct {
		Types []string `json:"types"`
	}
	decodeBody(t, r, &types)
	assert.Equal(t, []string{"echo"}, types.Types)
}

func TestSubmitRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewSubmitLimiter(client, 1, 0.001)
	ts := newTestServerWithLimiter(t, limiter)

	rejectsBefore := testutil.ToFloat64(telemetry.RateLimitRejects)
	body := map[string]any{"type": "echo"}

	resp := postJSON(t, ts.URL+"/jobs", body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	// Bucket capacity 1, negligible refill: second submission is throttled.
	resp = postJSON(t, ts.URL+"/jobs", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, rejectsBefore+1, testutil.ToFloat64(telemetry.RateLimitRejects))
}

func TestHistoryNotConfigured(t *testing.T) {
	ts := newTestServer(t)

	r, err := http.Get(ts.URL + "/jobs/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, r.StatusCode)
	r.Body.Close()
}
