package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/breaker"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

func newBreakers(threshold int) *breaker.Manager {
	return breaker.NewManager(breaker.Settings{Threshold: threshold, OpenTimeout: time.Minute}, nil)
}

func TestQuoteFetcherSuccess(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Get("symbols"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":"ACME","price":104.25,"currency":"USD","as_of":"2026-03-02T16:00:00Z"}]`))
	}))
	defer srv.Close()

	f := NewQuoteFetcher(srv.URL, newBreakers(5), nil)
	result, err := f.Execute(context.Background(), map[string]any{"symbols": []any{"ACME", "GLOBEX"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := gotQuery.Load().(string); got != "ACME,GLOBEX" {
		t.Fatalf("expected symbols query ACME,GLOBEX, got %q", got)
	}
	payload, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", result)
	}
	quotes, ok := payload["quotes"].([]Quote)
	if !ok || len(quotes) != 1 || quotes[0].Symbol != "ACME" {
		t.Fatalf("unexpected quotes payload: %#v", payload["quotes"])
	}
}

func TestQuoteFetcherSymbolValidation(t *testing.T) {
	f := NewQuoteFetcher("http://unused", newBreakers(5), nil)

	cases := []map[string]any{
		nil,
		{"symbols": []any{}},
		{"symbols": ""},
		{"symbols": []any{"ACME", 42}},
		{"symbols": 7},
	}
	for _, params := range cases {
		_, err := f.Execute(context.Background(), params)
		if !jobs.IsValidation(err) {
			t.Fatalf("params %#v: expected validation error, got %v", params, err)
		}
	}
}

func TestQuoteFetcherAcceptsCommaSeparatedString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := NewQuoteFetcher(srv.URL, newBreakers(5), nil)
	if _, err := f.Execute(context.Background(), map[string]any{"symbols": " ACME, GLOBEX "}); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestQuoteFetcherServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewQuoteFetcher(srv.URL, newBreakers(5), nil)
	_, err := f.Execute(context.Background(), map[string]any{"symbols": []any{"ACME"}})
	if err == nil || !jobs.Retryable(err) {
		t.Fatalf("5xx should be retryable, got %v", err)
	}
}

func TestQuoteFetcherClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	f := NewQuoteFetcher(srv.URL, newBreakers(5), nil)
	_, err := f.Execute(context.Background(), map[string]any{"symbols": []any{"ACME"}})
	if err == nil || jobs.Retryable(err) {
		t.Fatalf("4xx should be fatal, got %v", err)
	}
}

func TestQuoteFetcherTripsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewQuoteFetcher(srv.URL, newBreakers(2), nil)
	params := map[string]any{"symbols": []any{"ACME"}}

	for i := 0; i < 2; i++ {
		if _, err := f.Execute(context.Background(), params); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}

	// Third call is rejected by the open breaker without hitting upstream.
	_, err := f.Execute(context.Background(), params)
	if !breaker.IsOpen(err) {
		t.Fatalf("expected breaker-open rejection, got %v", err)
	}
	if !jobs.Retryable(err) {
		t.Fatalf("breaker-open must stay retryable")
	}
}

type captureStore struct {
	saved atomic.Int32
}

func (c *captureStore) SaveResult(context.Context, *jobs.Job) error {
	c.saved.Add(1)
	return nil
}

func TestQuoteFetcherOnSuccessPersists(t *testing.T) {
	store := &captureStore{}
	f := NewQuoteFetcher("http://unused", newBreakers(5), store)

	job := jobs.New("fetch_quotes", "ingest", nil, jobs.Defaults{})
	f.OnSuccess(job, nil)
	if store.saved.Load() != 1 {
		t.Fatalf("OnSuccess should persist the outcome")
	}

	// Nil store is a no-op, not a panic.
	NewQuoteFetcher("http://unused", nil, nil).OnSuccess(job, nil)
}
