package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selection values.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds shared runtime configuration for the API, scheduler, and
// worker processes.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	Backend     string
	QueueNames  []string
	WorkerCount int
	QueueBuffer int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMultiplier float64
	RetryMaxDelay   time.Duration
	RetryJitter     float64
	DefaultTimeout  time.Duration
	RetryOnTimeout  bool

	SchedulerPollInterval time.Duration

	VisibilityTimeout  time.Duration
	WorkerPollInterval time.Duration
	ScheduledBatchSize int
	ResultTTL          time.Duration

	BreakerThreshold   int
	BreakerOpenTimeout time.Duration
	BreakerOverrides   []string

	MetricsWindow        time.Duration
	FailureRateThreshold float64
	StuckJobThreshold    time.Duration

	RateLimitCapacity int
	RateLimitRefill   float64

	QuoteAPIBaseURL   string
	FilingOutputDir   string
	FilingS3Bucket    string
	FilingS3Region    string
	FilingS3Endpoint  string
	FilingS3PathStyle bool
	FilingMaxBytes    int64
}

// Load reads configuration from environment variables with sane defaults
// for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		Backend:     getEnv("QUEUE_BACKEND", BackendMemory),
		QueueNames:  getEnvList("QUEUE_NAMES", []string{"default", "ingest", "reports"}),
		WorkerCount: getEnvInt("WORKER_COUNT", 4),
		QueueBuffer: getEnvInt("QUEUE_BUFFER", 1024),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),

		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
		RetryMultiplier: getEnvFloat("RETRY_MULTIPLIER", 2),
		RetryMaxDelay:   getEnvDuration("RETRY_MAX_DELAY", 5*time.Minute),
		RetryJitter:     getEnvFloat("RETRY_JITTER", 0.2),
		DefaultTimeout:  getEnvDuration("DEFAULT_TIMEOUT", 5*time.Minute),
		RetryOnTimeout:  getEnvBool("RETRY_ON_TIMEOUT", true),

		SchedulerPollInterval: getEnvDuration("SCHEDULER_POLL_INTERVAL", time.Second),

		VisibilityTimeout:  getEnvDuration("VISIBILITY_TIMEOUT", 30*time.Second),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
		ScheduledBatchSize: getEnvInt("SCHEDULED_BATCH_SIZE", 100),
		ResultTTL:          getEnvDuration("RESULT_TTL", 24*time.Hour),

		BreakerThreshold:   getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerOpenTimeout: getEnvDuration("BREAKER_OPEN_TIMEOUT", time.Minute),
		BreakerOverrides:   getEnvList("BREAKER_OVERRIDES", nil),

		MetricsWindow:        getEnvDuration("METRICS_WINDOW", time.Hour),
		FailureRateThreshold: getEnvFloat("FAILURE_RATE_THRESHOLD", 0.5),
		StuckJobThreshold:    getEnvDuration("STUCK_JOB_THRESHOLD", 10*time.Minute),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),

		QuoteAPIBaseURL:   getEnv("QUOTE_API_BASE_URL", "https://quotes.example.com"),
		FilingOutputDir:   getEnv("FILING_OUTPUT_DIR", "./filings"),
		FilingS3Bucket:    getEnv("FILING_S3_BUCKET", ""),
		FilingS3Region:    getEnv("FILING_S3_REGION", "us-east-1"),
		FilingS3Endpoint:  getEnv("FILING_S3_ENDPOINT", ""),
		FilingS3PathStyle: getEnvBool("FILING_S3_PATH_STYLE", false),
		FilingMaxBytes:    getEnvInt64("FILING_MAX_BYTES", 50*1024*1024),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
