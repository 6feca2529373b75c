// Package config externalizes every tunable of the validation
// pipeline: 12-factor environment variables first, with an optional
// YAML profile for whole-deployment presets.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// Profile names a YAML preset under ProfilesDir that overrides
	// individual settings after the environment is read. Empty means
	// environment only.
	Profile     string
	ProfilesDir string

	// DatabaseURL selects PostgreSQL. Empty means lite mode: SQLite at
	// SQLitePath, in-process fallback for everything that would need
	// shared infrastructure.
	DatabaseURL string
	SQLitePath  string

	// Blob storage backend: fs, s3 or gcs.
	BlobBackend      string
	BlobFSDir        string
	BlobBaseURL      string
	BlobBucket       string
	BlobRegion       string
	BlobEndpoint     string
	BlobPrefix       string
	HandleSecret     string
	HandleTTL        time.Duration
	FallbackJobs     int
	FallbackRendered int

	// Fingerprint cache.
	CacheCapacity int
	CacheTTL      time.Duration
	CacheSweep    time.Duration

	// Consensus policy.
	MinAgreeing     int
	ConfidenceFloor float64
	ConfirmRule     string

	// Evaluator fan-out. Evaluators is a comma-separated roster of
	// id@version=endpoint entries registered at startup.
	Evaluators          string
	EvaluatorAPIKey     string
	EvaluatorTimeout    time.Duration
	EvaluatorMinVersion string
	MaxConcurrentEvals  int

	// Report pipeline.
	QueueSize     int
	ReportWorkers int
	PDFWorkers    int
	PDFTimeout    time.Duration
	ChromePath    string

	// API limits. RedisAddr switches the rate limiter from per-process
	// to shared token buckets.
	RateRPS       int
	RateBurst     int
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Observability.
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads configuration from environment variables, falling back to
// defaults that boot a self-contained lite-mode node.
func Load() *Config {
	return &Config{
		Port:      getString("PORT", "8080"),
		LogLevel:  getString("LOG_LEVEL", "INFO"),
		LogFormat: getString("LOG_FORMAT", "text"),

		Profile:     os.Getenv("PROFILE"),
		ProfilesDir: getString("PROFILES_DIR", "profiles"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getString("SQLITE_PATH", "visiongate.db"),

		BlobBackend:      getString("BLOB_BACKEND", "fs"),
		BlobFSDir:        getString("BLOB_FS_DIR", "data/reports"),
		BlobBaseURL:      os.Getenv("BLOB_BASE_URL"),
		BlobBucket:       os.Getenv("BLOB_BUCKET"),
		BlobRegion:       getString("BLOB_REGION", os.Getenv("AWS_REGION")),
		BlobEndpoint:     os.Getenv("BLOB_ENDPOINT"),
		BlobPrefix:       os.Getenv("BLOB_PREFIX"),
		HandleSecret:     os.Getenv("BLOB_HANDLE_SECRET"),
		HandleTTL:        getDuration("HANDLE_TTL", 5*time.Minute),
		FallbackJobs:     getInt("FALLBACK_JOB_CAPACITY", 500),
		FallbackRendered: getInt("FALLBACK_RENDITION_CAPACITY", 100),

		CacheCapacity: getInt("CACHE_CAPACITY", 1000),
		CacheTTL:      getDuration("CACHE_TTL", 24*time.Hour),
		CacheSweep:    getDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),

		MinAgreeing:     getInt("CONSENSUS_MIN_AGREEING", 2),
		ConfidenceFloor: getFloat("CONSENSUS_CONFIDENCE_FLOOR", 0.85),
		ConfirmRule:     os.Getenv("CONSENSUS_CONFIRM_RULE"),

		Evaluators:          os.Getenv("EVALUATORS"),
		EvaluatorAPIKey:     os.Getenv("EVALUATOR_API_KEY"),
		EvaluatorTimeout:    getDuration("EVALUATOR_TIMEOUT", 30*time.Second),
		EvaluatorMinVersion: os.Getenv("EVALUATOR_MIN_VERSION"),
		MaxConcurrentEvals:  getInt("EVALUATOR_MAX_CONCURRENT", 8),

		QueueSize:     getInt("REPORT_QUEUE_SIZE", 64),
		ReportWorkers: getInt("REPORT_WORKERS", 4),
		PDFWorkers:    getInt("PDF_WORKERS", 2),
		PDFTimeout:    getDuration("PDF_TIMEOUT", 120*time.Second),
		ChromePath:    os.Getenv("CHROME_PATH"),

		RateRPS:       getInt("RATE_LIMIT_RPS", 10),
		RateBurst:     getInt("RATE_LIMIT_BURST", 20),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	}
}

// LiteMode reports whether the node runs without external
// infrastructure.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
