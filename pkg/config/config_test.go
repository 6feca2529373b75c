package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/visiongate/visiongate/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set. A bare node must boot in
// lite mode.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "SQLITE_PATH",
		"BLOB_BACKEND", "CACHE_CAPACITY", "CACHE_TTL",
		"CONSENSUS_MIN_AGREEING", "CONSENSUS_CONFIDENCE_FLOOR",
		"PDF_WORKERS", "PDF_TIMEOUT", "RATE_LIMIT_RPS", "REDIS_ADDR",
		"PROFILE", "PROFILES_DIR", "EVALUATORS",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, "visiongate.db", cfg.SQLitePath)
	assert.Equal(t, "fs", cfg.BlobBackend)
	assert.Equal(t, 1000, cfg.CacheCapacity)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 2, cfg.MinAgreeing)
	assert.InDelta(t, 0.85, cfg.ConfidenceFloor, 1e-9)
	assert.Equal(t, 2, cfg.PDFWorkers)
	assert.Equal(t, 120*time.Second, cfg.PDFTimeout)
	assert.Equal(t, 5*time.Minute, cfg.HandleTTL)
	assert.Equal(t, "profiles", cfg.ProfilesDir)
	assert.Empty(t, cfg.Profile)
	assert.Empty(t, cfg.Evaluators)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values. Ops control config via standard 12-factor
// env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/visiongate")
	t.Setenv("CACHE_CAPACITY", "5000")
	t.Setenv("CACHE_TTL", "1h30m")
	t.Setenv("CONSENSUS_MIN_AGREEING", "3")
	t.Setenv("CONSENSUS_CONFIDENCE_FLOOR", "0.9")
	t.Setenv("CONSENSUS_CONFIRM_RULE", "agreeing >= 3 && confidence > 0.9")
	t.Setenv("PDF_WORKERS", "4")
	t.Setenv("PDF_TIMEOUT", "90s")
	t.Setenv("RATE_LIMIT_RPS", "50")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("EVALUATORS", "pixel@1.4.0=https://judges.internal/pixel")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, "postgres://production:5432/visiongate", cfg.DatabaseURL)
	assert.Equal(t, 5000, cfg.CacheCapacity)
	assert.Equal(t, 90*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.MinAgreeing)
	assert.InDelta(t, 0.9, cfg.ConfidenceFloor, 1e-9)
	assert.Equal(t, "agreeing >= 3 && confidence > 0.9", cfg.ConfirmRule)
	assert.Equal(t, 4, cfg.PDFWorkers)
	assert.Equal(t, 90*time.Second, cfg.PDFTimeout)
	assert.Equal(t, 50, cfg.RateRPS)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "pixel@1.4.0=https://judges.internal/pixel", cfg.Evaluators)
}

// TestLoad_MalformedValuesFallBack verifies that unparseable values
// fall back to defaults instead of crashing startup.
func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_CAPACITY", "not-a-number")
	t.Setenv("CACHE_TTL", "eternity")
	t.Setenv("CONSENSUS_CONFIDENCE_FLOOR", "ninety percent")

	cfg := config.Load()

	assert.Equal(t, 1000, cfg.CacheCapacity)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.InDelta(t, 0.85, cfg.ConfidenceFloor, 1e-9)
}
