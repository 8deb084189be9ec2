package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bjpl/corporate-intel-sub001/internal/breaker"
	"github.com/bjpl/corporate-intel-sub001/internal/config"
	"github.com/bjpl/corporate-intel-sub001/internal/history"
	"github.com/bjpl/corporate-intel-sub001/internal/ingest"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/queue"
	"github.com/bjpl/corporate-intel-sub001/internal/retry"
	"github.com/bjpl/corporate-intel-sub001/internal/telemetry"
	"github.com/bjpl/corporate-intel-sub001/internal/worker"
)

// Standalone consumer for the redis backend. Runs no HTTP API; it leases
// jobs, executes them, and exposes /metrics for scraping.
func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	mon := monitor.New(monitor.Options{
		Window:               cfg.MetricsWindow,
		FailureRateThreshold: cfg.FailureRateThreshold,
		StuckThreshold:       cfg.StuckJobThreshold,
	})
	breakers := breaker.NewManager(
		breaker.Settings{Threshold: cfg.BreakerThreshold, OpenTimeout: cfg.BreakerOpenTimeout},
		breaker.ParseOverrides(cfg.BreakerOverrides),
	)

	var resultStore ingest.ResultStore
	if cfg.PostgresDSN != "" {
		st, err := history.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			log.Fatalf("init history schema: %v", err)
		}
		resultStore = st
	}

	registry := jobs.NewRegistry()
	quotes := ingest.NewQuoteFetcher(cfg.QuoteAPIBaseURL, breakers, resultStore)
	if err := registry.Register("fetch_quotes", func() jobs.Runner { return quotes }); err != nil {
		log.Fatalf("register fetch_quotes: %v", err)
	}
	filings, err := ingest.NewFilingArchiver(ctx, cfg, breakers)
	if err != nil {
		log.Fatalf("init filing archiver: %v", err)
	}
	if err := registry.Register("archive_filing", func() jobs.Runner { return filings }); err != nil {
		log.Fatalf("register archive_filing: %v", err)
	}

	policy := retry.New(cfg.RetryMaxDelay, cfg.RetryJitter, nil)
	executor := worker.NewExecutor(registry, policy, mon)
	q := queue.NewRedis(cfg, executor, mon)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started consumers=%d queues=%v visibility=%s", cfg.WorkerCount, cfg.QueueNames, cfg.VisibilityTimeout)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := q.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("consumer %d stopped: %v", n, err)
			}
		}(i)
	}
	wg.Wait()
}
