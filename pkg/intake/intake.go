// Package intake runs captured UI artifacts through the validation
// pipeline: fingerprint, cache lookup, evaluator fan-out, consensus,
// and persistence. One call to Process yields one verdict.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/visiongate/visiongate/pkg/consensus"
	"github.com/visiongate/visiongate/pkg/contracts"
	"github.com/visiongate/visiongate/pkg/fingerprint"
	"github.com/visiongate/visiongate/pkg/metering"
	"github.com/visiongate/visiongate/pkg/verdicts"
)

const (
	DefaultEvaluatorTimeout = 30 * time.Second
	DefaultMaxConcurrent    = 8
)

var (
	// ErrEmptyArtifact rejects submissions without image bytes.
	ErrEmptyArtifact = errors.New("artifact image required")

	// ErrNoEvaluators means the registry is empty; no judgment could
	// ever be produced, so the submission is refused outright.
	ErrNoEvaluators = errors.New("no evaluators registered")
)

// VerdictObserver receives every recorded verdict, fresh or reused.
// It must be fast; it runs on the request path.
type VerdictObserver func(ctx context.Context, testRunID string, v contracts.Verdict, cacheHit bool)

// Config tunes the pipeline. Zero values take the defaults.
type Config struct {
	// EvaluatorTimeout bounds a single evaluator call.
	EvaluatorTimeout time.Duration
	// MaxConcurrent bounds the evaluator fan-out per artifact.
	MaxConcurrent int
	// Observer, when set, is told about every verdict the pipeline
	// records.
	Observer VerdictObserver
}

// Result is the outcome of processing one artifact.
type Result struct {
	Verdict  contracts.Verdict
	CacheHit bool
}

// Pipeline wires the intake stages together. All fields are set at
// construction; Process is safe for concurrent use.
type Pipeline struct {
	registry *Registry
	policy   *consensus.Policy
	cache    *fingerprint.Cache
	store    verdicts.Store
	meter    metering.Meter
	observe  VerdictObserver
	log      *slog.Logger
	timeout  time.Duration
	maxConc  int
}

func NewPipeline(registry *Registry, policy *consensus.Policy, cache *fingerprint.Cache, store verdicts.Store, meter metering.Meter, log *slog.Logger, cfg Config) *Pipeline {
	if cfg.EvaluatorTimeout <= 0 {
		cfg.EvaluatorTimeout = DefaultEvaluatorTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		registry: registry,
		policy:   policy,
		cache:    cache,
		store:    store,
		meter:    meter,
		observe:  cfg.Observer,
		log:      log,
		timeout:  cfg.EvaluatorTimeout,
		maxConc:  cfg.MaxConcurrent,
	}
}

// Process validates one artifact. The image is fingerprinted first;
// a cache hit skips the evaluator fan-out entirely and reuses the
// prior outcome for this artifact.
func (p *Pipeline) Process(ctx context.Context, testRunID, artifactID string, image []byte, capturedAt time.Time) (Result, error) {
	if testRunID == "" {
		return Result{}, errors.New("test run id required")
	}
	if artifactID == "" {
		artifactID = uuid.NewString()
	}
	if len(image) == 0 {
		return Result{}, ErrEmptyArtifact
	}
	if p.registry.Len() == 0 {
		return Result{}, ErrNoEvaluators
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	artifact := contracts.Artifact{
		ArtifactID:  artifactID,
		TestRunID:   testRunID,
		Fingerprint: fingerprint.Sum(image),
		CapturedAt:  capturedAt,
	}
	if err := p.store.RecordArtifact(ctx, artifact); err != nil {
		return Result{}, fmt.Errorf("record artifact: %w", err)
	}

	if ref, ok := p.cache.Lookup(artifact.Fingerprint); ok {
		if verdict, err := p.reuse(ctx, artifact, ref); err == nil {
			p.meterEvent(ctx, metering.Event{
				TestRunID: testRunID,
				EventType: metering.EventCacheHit,
				Quantity:  1,
			})
			p.log.Debug("fingerprint cache hit",
				"artifact_id", artifact.ArtifactID,
				"fingerprint", artifact.Fingerprint.String(),
				"source_verdict", ref.VerdictID)
			p.observeVerdict(ctx, testRunID, verdict, true)
			return Result{Verdict: verdict, CacheHit: true}, nil
		} else if !errors.Is(err, verdicts.ErrArtifactNotFound) {
			return Result{}, err
		}
		// The source verdict is gone; fall through to a fresh
		// evaluation.
	}

	judgments := p.gather(ctx, artifact, image)
	verdict, err := p.policy.BuildVerdict(artifact.ArtifactID, judgments)
	if err != nil {
		return Result{}, fmt.Errorf("consensus: %w", err)
	}
	if err := p.store.RecordVerdict(ctx, verdict); err != nil {
		return Result{}, fmt.Errorf("record verdict: %w", err)
	}
	p.cache.Store(artifact.Fingerprint, verdict.Ref())

	p.log.Info("artifact evaluated",
		"artifact_id", artifact.ArtifactID,
		"test_run_id", testRunID,
		"status", verdict.Status,
		"confidence", verdict.AggregateConfidence,
		"judgments", len(judgments))
	p.observeVerdict(ctx, testRunID, verdict, false)
	return Result{Verdict: verdict}, nil
}

func (p *Pipeline) observeVerdict(ctx context.Context, testRunID string, v contracts.Verdict, cacheHit bool) {
	if p.observe != nil {
		p.observe(ctx, testRunID, v, cacheHit)
	}
}

// reuse materializes a fresh verdict for this artifact from a cached
// outcome, carrying over the full consensus result without invoking
// any evaluator.
func (p *Pipeline) reuse(ctx context.Context, artifact contracts.Artifact, ref contracts.VerdictRef) (contracts.Verdict, error) {
	history, err := p.store.VerdictHistory(ctx, ref.ArtifactID)
	if err != nil {
		return contracts.Verdict{}, fmt.Errorf("load cached verdict %s: %w", ref.VerdictID, err)
	}
	var source *contracts.Verdict
	for i := range history {
		if history[i].VerdictID == ref.VerdictID {
			source = &history[i]
			break
		}
	}
	if source == nil {
		return contracts.Verdict{}, fmt.Errorf("cached verdict %s: %w", ref.VerdictID, verdicts.ErrArtifactNotFound)
	}

	verdict := contracts.Verdict{
		VerdictID:           uuid.NewString(),
		ArtifactID:          artifact.ArtifactID,
		Status:              source.Status,
		Severity:            source.Severity,
		AggregateConfidence: source.AggregateConfidence,
		AgreeingEvaluators:  source.AgreeingEvaluators,
		TotalEvaluators:     source.TotalEvaluators,
		Judgments:           source.Judgments,
		CreatedAt:           time.Now().UTC(),
	}
	if err := p.store.RecordVerdict(ctx, verdict); err != nil {
		return contracts.Verdict{}, fmt.Errorf("record reused verdict: %w", err)
	}
	return verdict, nil
}

// gather fans the artifact out to every registered evaluator. Failing
// or timed-out evaluators are dropped; consensus runs over whatever
// came back.
func (p *Pipeline) gather(ctx context.Context, artifact contracts.Artifact, image []byte) []contracts.Judgment {
	evaluators := p.registry.Evaluators()
	results := make([]*contracts.Judgment, len(evaluators))

	g := new(errgroup.Group)
	g.SetLimit(p.maxConc)
	for i, ev := range evaluators {
		g.Go(func() error {
			evalCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			started := time.Now()
			j, err := ev.Evaluate(evalCtx, artifact, image)
			if err != nil {
				p.log.Warn("evaluator dropped",
					"evaluator", ev.ID(),
					"artifact_id", artifact.ArtifactID,
					"error", err)
				return nil
			}

			// Identity comes from the registration, not the response.
			j.EvaluatorID = ev.ID()
			j.EvaluatorVersion = ev.Version()
			j.Rationale = SanitizeRationale(j.Rationale)
			if j.LatencyMS <= 0 {
				j.LatencyMS = time.Since(started).Milliseconds()
			}
			if err := j.Validate(); err != nil {
				p.log.Warn("evaluator judgment rejected",
					"evaluator", ev.ID(),
					"artifact_id", artifact.ArtifactID,
					"error", err)
				return nil
			}
			results[i] = &j
			return nil
		})
	}
	_ = g.Wait()

	judgments := make([]contracts.Judgment, 0, len(results))
	for _, j := range results {
		if j == nil {
			continue
		}
		judgments = append(judgments, *j)
		p.meterEvent(ctx, metering.Event{
			TestRunID:   artifact.TestRunID,
			EventType:   metering.EventEvaluation,
			EvaluatorID: j.EvaluatorID,
			Quantity:    1,
			CostUSD:     j.CostUSD,
			LatencyMS:   j.LatencyMS,
		})
	}
	return judgments
}

func (p *Pipeline) meterEvent(ctx context.Context, event metering.Event) {
	if p.meter == nil {
		return
	}
	if err := p.meter.Record(ctx, event); err != nil {
		p.log.Warn("metering record failed", "test_run_id", event.TestRunID, "error", err)
	}
}
