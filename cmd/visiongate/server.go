package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/visiongate/visiongate/internal/logging"
	"github.com/visiongate/visiongate/pkg/api"
	"github.com/visiongate/visiongate/pkg/blob"
	"github.com/visiongate/visiongate/pkg/config"
	"github.com/visiongate/visiongate/pkg/consensus"
	"github.com/visiongate/visiongate/pkg/fingerprint"
	"github.com/visiongate/visiongate/pkg/intake"
	"github.com/visiongate/visiongate/pkg/metering"
	"github.com/visiongate/visiongate/pkg/observability"
	"github.com/visiongate/visiongate/pkg/reports"
	"github.com/visiongate/visiongate/pkg/reports/render"
	"github.com/visiongate/visiongate/pkg/reportstore"
	"github.com/visiongate/visiongate/pkg/verdicts"
)

// runServer wires every component from configuration and serves until
// SIGINT or SIGTERM.
func runServer() int {
	cfg := config.Load()

	// Profile presets override individual environment settings.
	bands := consensus.DefaultBands()
	if cfg.Profile != "" {
		profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load profile %q: %v\n", cfg.Profile, err)
			return 1
		}
		profile.Apply(cfg)
		bands = profile.SeverityBands()
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	log := logging.New("server")

	initCtx := context.Background()

	// Telemetry first so later components can hook into it. Without an
	// OTLP endpoint the provider is a no-op.
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Insecure = cfg.OTLPInsecure
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	provider, err := observability.New(initCtx, obsCfg)
	if err != nil {
		log.Error("telemetry init failed", "error", err)
		return 1
	}
	tracker := observability.NewSLOTracker()
	for _, target := range observability.DefaultTargets() {
		tracker.SetTarget(target)
	}
	provider.WithSLOTracker(tracker).WithTimeline(observability.NewTimeline(0))

	// Durable stores: PostgreSQL when DATABASE_URL is set, otherwise a
	// self-contained SQLite node.
	var (
		db           *sql.DB
		verdictStore verdicts.Store
		metaStore    reportstore.MetadataStore
		meter        metering.Meter
		idem         api.IdempotencyStore
		closeIdem    func()
	)
	if cfg.LiteMode() {
		lite, err := setupLiteMode(cfg, log)
		if err != nil {
			log.Error("lite mode setup failed", "error", err)
			return 1
		}
		db = lite.db
		verdictStore = lite.verdicts
		metaStore = lite.metadata
		meter = lite.meter

		memIdem := api.NewMemoryIdempotencyStore(api.DefaultIdempotencyTTL)
		idem = memIdem
		closeIdem = memIdem.Close
	} else {
		pg, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open postgres", "error", err)
			return 1
		}
		db = pg

		pingCtx, cancel := context.WithTimeout(initCtx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Error("postgres unreachable", "error", err)
			return 1
		}

		pgVerdicts := verdicts.NewPostgresStore(db)
		if err := pgVerdicts.Init(initCtx); err != nil {
			log.Error("init verdict store failed", "error", err)
			return 1
		}
		verdictStore = pgVerdicts

		pgMeta := reportstore.NewPostgresMetadata(db)
		if err := pgMeta.Init(initCtx); err != nil {
			log.Error("init report metadata failed", "error", err)
			return 1
		}
		metaStore = pgMeta

		pgMeter := metering.NewPostgresMeter(db)
		if err := pgMeter.Init(initCtx); err != nil {
			log.Error("init meter failed", "error", err)
			return 1
		}
		meter = pgMeter

		pgIdem := api.NewPostgresIdempotencyStore(db, api.DefaultIdempotencyTTL, logging.New("idempotency"))
		if err := pgIdem.Init(initCtx); err != nil {
			log.Error("init idempotency store failed", "error", err)
			return 1
		}
		idem = pgIdem

		stopCleanup := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-stopCleanup:
					return
				case <-ticker.C:
					pgIdem.Cleanup(context.Background())
				}
			}
		}()
		closeIdem = func() { close(stopCleanup) }
	}
	defer func() {
		if db != nil {
			db.Close()
		}
	}()

	// Blob storage. Lite mode mints a local signing secret so the fs
	// backend works out of the box; every other setup must configure
	// one explicitly.
	secret := []byte(cfg.HandleSecret)
	if len(secret) == 0 && cfg.LiteMode() && blob.StoreType(cfg.BlobBackend) == blob.StoreTypeFS {
		secret, err = loadOrGenerateSecret(defaultHandleKeyPath)
		if err != nil {
			log.Error("handle signing key setup failed", "error", err)
			return 1
		}
	}
	blobs, err := blob.NewStore(initCtx, blob.Options{
		Backend:       blob.StoreType(cfg.BlobBackend),
		BaseDir:       cfg.BlobFSDir,
		BaseURL:       cfg.BlobBaseURL,
		SigningSecret: secret,
		Bucket:        cfg.BlobBucket,
		Region:        cfg.BlobRegion,
		Endpoint:      cfg.BlobEndpoint,
		Prefix:        cfg.BlobPrefix,
	})
	if err != nil {
		log.Error("blob store setup failed", "error", err)
		return 1
	}

	store := reportstore.New(metaStore, blobs, logging.New("reportstore"),
		reportstore.WithFallbackCapacity(cfg.FallbackJobs, cfg.FallbackRendered),
		reportstore.WithDegradedObserver(provider.RecordDegraded),
	)

	// Intake: consensus policy, fingerprint cache, evaluator fan-out.
	policy, err := consensus.NewPolicy(cfg.MinAgreeing, cfg.ConfidenceFloor, bands, cfg.ConfirmRule)
	if err != nil {
		log.Error("consensus policy invalid", "error", err)
		return 1
	}

	cache := fingerprint.New(fingerprint.Config{
		Capacity:      cfg.CacheCapacity,
		TTL:           cfg.CacheTTL,
		SweepInterval: cfg.CacheSweep,
	})

	registry, err := intake.NewRegistry(cfg.EvaluatorMinVersion)
	if err != nil {
		log.Error("evaluator registry setup failed", "error", err)
		return 1
	}
	registered, err := registerEvaluators(registry, cfg)
	if err != nil {
		log.Error("evaluator roster invalid", "error", err)
		return 1
	}
	if registered == 0 {
		log.Warn("no evaluators registered; artifact submissions will fail until EVALUATORS is set")
	} else {
		log.Info("evaluators registered", "count", registered)
	}

	pipeline := intake.NewPipeline(registry, policy, cache, verdictStore, meter, logging.New("intake"), intake.Config{
		EvaluatorTimeout: cfg.EvaluatorTimeout,
		MaxConcurrent:    cfg.MaxConcurrentEvals,
		Observer:         provider.RecordVerdict,
	})

	// Report generation.
	pdf := render.NewChromePDF(render.PDFConfig{
		Workers:  int64(cfg.PDFWorkers),
		Timeout:  cfg.PDFTimeout,
		ExecPath: cfg.ChromePath,
	})
	provider.RegisterQueueDepth(pdf.QueueDepth)

	orch, err := reports.New(store, verdictStore, pdf, logging.New("reports"), reports.Config{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.ReportWorkers,
		Observer:  provider.RecordRender,
	})
	if err != nil {
		log.Error("report orchestrator setup failed", "error", err)
		return 1
	}
	orch.Start(initCtx)

	// Rate limiting: shared buckets via Redis when configured,
	// otherwise per-process.
	var limiter api.RateLimiter
	if cfg.RedisAddr != "" {
		redisLimiter := api.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RateRPS, cfg.RateBurst)
		defer redisLimiter.Close()
		limiter = redisLimiter
		log.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		ipLimiter := api.NewIPRateLimiter(cfg.RateRPS, cfg.RateBurst)
		defer ipLimiter.Close()
		limiter = ipLimiter
	}

	fsBlobs, _ := blobs.(*blob.FSStore)
	srv := api.NewServer(store, orch, pipeline, verdictStore, meter, cache, logging.New("api"), api.ServerConfig{
		HandleTTL: cfg.HandleTTL,
		FSBlobs:   fsBlobs,
		Telemetry: provider,
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(limiter, idem),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening",
			"addr", httpSrv.Addr,
			"lite_mode", cfg.LiteMode(),
			"blob_backend", cfg.BlobBackend,
			"version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case err := <-serveErr:
		log.Error("server failed", "error", err)
		exit = 1
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error("orchestrator shutdown failed", "error", err)
	}
	cache.Close()
	if closeIdem != nil {
		closeIdem()
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Error("telemetry shutdown failed", "error", err)
	}
	return exit
}

// registerEvaluators parses the EVALUATORS roster and registers an
// HTTP evaluator per entry. Entries look like
// pixel-judge@1.4.0=https://judges.internal/pixel.
func registerEvaluators(registry *intake.Registry, cfg *config.Config) (int, error) {
	roster := strings.TrimSpace(cfg.Evaluators)
	if roster == "" {
		return 0, nil
	}

	client := &http.Client{Timeout: cfg.EvaluatorTimeout}
	registered := 0
	for _, entry := range strings.Split(roster, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, evVersion, endpoint, err := parseEvaluatorEntry(entry)
		if err != nil {
			return registered, err
		}
		ev := intake.NewHTTPEvaluator(id, evVersion, endpoint, cfg.EvaluatorAPIKey, client)
		if err := registry.Register(ev); err != nil {
			return registered, fmt.Errorf("register evaluator %s: %w", id, err)
		}
		registered++
	}
	return registered, nil
}

// parseEvaluatorEntry splits one id@version=endpoint roster entry.
func parseEvaluatorEntry(entry string) (id, ver, endpoint string, err error) {
	idVer, rest, ok := strings.Cut(entry, "=")
	if !ok || rest == "" {
		return "", "", "", fmt.Errorf("evaluator entry %q: want id@version=endpoint", entry)
	}
	evID, evVersion, ok := strings.Cut(idVer, "@")
	if !ok || evID == "" || evVersion == "" {
		return "", "", "", fmt.Errorf("evaluator entry %q: want id@version=endpoint", entry)
	}
	return evID, evVersion, rest, nil
}
