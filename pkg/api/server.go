package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/visiongate/visiongate/pkg/blob"
	"github.com/visiongate/visiongate/pkg/fingerprint"
	"github.com/visiongate/visiongate/pkg/intake"
	"github.com/visiongate/visiongate/pkg/metering"
	"github.com/visiongate/visiongate/pkg/observability"
	"github.com/visiongate/visiongate/pkg/reports"
	"github.com/visiongate/visiongate/pkg/reportstore"
	"github.com/visiongate/visiongate/pkg/verdicts"
)

// DefaultMaxBodyBytes bounds request bodies. Artifact submissions carry
// base64 screenshots, so the bound is generous.
const DefaultMaxBodyBytes = 16 << 20

// Server exposes the validation pipeline and report lifecycle over
// HTTP.
type Server struct {
	store        *reportstore.Store
	orchestrator *reports.Orchestrator
	pipeline     *intake.Pipeline
	verdicts     verdicts.Store
	meter        metering.Meter
	cache        *fingerprint.Cache
	fsBlobs      *blob.FSStore
	telemetry    *observability.Provider
	log          *slog.Logger
	maxBody      int64
	handleTTL    time.Duration
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	// MaxBodyBytes caps request body size. Zero means
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// HandleTTL is the signed download URL lifetime. Zero means
	// blob.DefaultHandleTTL.
	HandleTTL time.Duration

	// FSBlobs, when set, mounts /blobs/ so filesystem-backed handles
	// resolve against this process. S3 and GCS handles resolve at the
	// provider and need no local route.
	FSBlobs *blob.FSStore

	// Telemetry, when set, wraps every request in a span with RED
	// metrics.
	Telemetry *observability.Provider
}

func NewServer(store *reportstore.Store, orchestrator *reports.Orchestrator, pipeline *intake.Pipeline, verdictStore verdicts.Store, meter metering.Meter, cache *fingerprint.Cache, log *slog.Logger, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.HandleTTL <= 0 {
		cfg.HandleTTL = blob.DefaultHandleTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:        store,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		verdicts:     verdictStore,
		meter:        meter,
		cache:        cache,
		fsBlobs:      cfg.FSBlobs,
		telemetry:    cfg.Telemetry,
		log:          log,
		maxBody:      cfg.MaxBodyBytes,
		handleTTL:    cfg.HandleTTL,
	}
}

// Handler assembles the route table and middleware chain. Nil limiter
// or idempotency store disables that middleware.
func (s *Server) Handler(limiter RateLimiter, idem IdempotencyStore) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/reports", s.handleReports)
	mux.HandleFunc("/api/v1/reports/", s.handleReportRouter)
	mux.HandleFunc("/api/v1/test-runs/", s.handleTestRunRouter)
	mux.HandleFunc("/api/v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.fsBlobs != nil {
		mux.HandleFunc("/blobs/", s.handleBlobDownload)
	}

	middlewares := []func(http.Handler) http.Handler{
		RequestIDMiddleware,
		LoggingMiddleware(s.log),
	}
	if s.telemetry != nil {
		middlewares = append(middlewares, TelemetryMiddleware(s.telemetry))
	}
	if limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(limiter))
	}
	if idem != nil {
		middlewares = append(middlewares, IdempotencyMiddleware(idem))
	}
	return Chain(mux, middlewares...)
}
