package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bjpl/corporate-intel-sub001/internal/api"
	"github.com/bjpl/corporate-intel-sub001/internal/breaker"
	"github.com/bjpl/corporate-intel-sub001/internal/config"
	"github.com/bjpl/corporate-intel-sub001/internal/history"
	"github.com/bjpl/corporate-intel-sub001/internal/ingest"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
	"github.com/bjpl/corporate-intel-sub001/internal/monitor"
	"github.com/bjpl/corporate-intel-sub001/internal/queue"
	"github.com/bjpl/corporate-intel-sub001/internal/ratelimit"
	"github.com/bjpl/corporate-intel-sub001/internal/retry"
	"github.com/bjpl/corporate-intel-sub001/internal/scheduler"
	"github.com/bjpl/corporate-intel-sub001/internal/worker"
)

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

	var historyStore *history.Store
	if cfg.PostgresDSN != "" {
		st, err := history.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			log.Fatalf("init history schema: %v", err)
		}
		historyStore = st
	}

	registry := jobs.NewRegistry()
	registerHandlers(ctx, cfg, registry, breakers, historyStore)

	policy := retry.New(cfg.RetryMaxDelay, cfg.RetryJitter, nil)
	executor := worker.NewExecutor(registry, policy, mon)
	defaults := jobs.Defaults{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.RetryBaseDelay,
		Multiplier:     cfg.RetryMultiplier,
		Timeout:        cfg.DefaultTimeout,
		RetryOnTimeout: cfg.RetryOnTimeout,
	}

	var (
		q       queue.Manager
		limiter *ratelimit.SubmitLimiter
	)
	switch cfg.Backend {
	case config.BackendRedis:
		rq := queue.NewRedis(cfg, executor, mon)
		for i := 0; i < cfg.WorkerCount; i++ {
			go func(n int) {
				if err := rq.Run(ctx); err != nil && ctx.Err() == nil {
					log.Printf("redis consumer %d stopped: %v", n, err)
				}
			}(i)
		}
		limiterClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewSubmitLimiter(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill)
		q = rq
	default:
		mq := queue.NewMemory(executor, mon, cfg.WorkerCount, cfg.QueueBuffer)
		mq.Start(ctx)
		defer mq.Stop()
		q = mq
	}

	sched := scheduler.New(q, defaults, cfg.SchedulerPollInterval)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer sched.Stop()

	var historyReader api.HistoryReader
	if historyStore != nil {
		historyReader = historyStore
	}
	server := api.New(q, sched, mon, breakers, registry, limiter, historyReader, defaults)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("server listening on :%s backend=%s queues=%v", cfg.HTTPPort, cfg.Backend, cfg.QueueNames)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func registerHandlers(ctx context.Context, cfg config.Config, registry *jobs.Registry, breakers *breaker.Manager, historyStore *history.Store) {
	var resultStore ingest.ResultStore
	if historyStore != nil {
		resultStore = historyStore
	}

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
}
