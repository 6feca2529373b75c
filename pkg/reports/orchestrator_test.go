package reports_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiongate/visiongate/pkg/blob"
	"github.com/visiongate/visiongate/pkg/contracts"
	"github.com/visiongate/visiongate/pkg/reports"
	"github.com/visiongate/visiongate/pkg/reports/render"
	"github.com/visiongate/visiongate/pkg/reportstore"
	"github.com/visiongate/visiongate/pkg/retry"
	"github.com/visiongate/visiongate/pkg/verdicts"
)

type fakePDF struct {
	err   error
	calls atomic.Int32
}

func (f *fakePDF) RenderPDF(_ context.Context, html []byte) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("%PDF-1.4\n"), html...), nil
}

// flakyVerdicts fails the first n calls, then delegates.
type flakyVerdicts struct {
	inner    *verdicts.MemoryStore
	failures int
	calls    atomic.Int32
}

func (f *flakyVerdicts) LatestVerdicts(ctx context.Context, testRunID string, asOf time.Time) ([]contracts.Verdict, error) {
	if int(f.calls.Add(1)) <= f.failures {
		return nil, errors.New("verdict store flaking")
	}
	return f.inner.LatestVerdicts(ctx, testRunID, asOf)
}

func fastRetry() retry.Policy {
	return retry.Policy{BaseMs: 1, MaxMs: 2, MaxJitterMs: 1, MaxAttempts: 3}
}

func newJobStore(t *testing.T) *reportstore.Store {
	t.Helper()
	signer, err := blob.NewHandleSigner([]byte("orchestrator-test-secret"))
	require.NoError(t, err)
	blobs, err := blob.NewFSStore(t.TempDir(), "http://localhost:8080", signer)
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return reportstore.New(reportstore.NewMemoryMetadata(), blobs, log)
}

func seedRun(t *testing.T, store *verdicts.MemoryStore, testRunID string, confirmed, rejected int) {
	t.Helper()
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Hour)
	idx := 0
	record := func(status contracts.VerdictStatus, severity contracts.Severity, agreeing int) {
		artifactID := fmt.Sprintf("%s-a%d", testRunID, idx)
		require.NoError(t, store.RecordArtifact(ctx, contracts.Artifact{
			ArtifactID: artifactID,
			TestRunID:  testRunID,
			CapturedAt: created,
		}))
		require.NoError(t, store.RecordVerdict(ctx, contracts.Verdict{
			VerdictID:           fmt.Sprintf("%s-v%d", testRunID, idx),
			ArtifactID:          artifactID,
			Status:              status,
			Severity:            severity,
			AggregateConfidence: 0.9,
			AgreeingEvaluators:  agreeing,
			TotalEvaluators:     3,
			Judgments: []contracts.Judgment{
				{EvaluatorID: "vision-a", Detected: agreeing > 0, Confidence: 0.9, LatencyMS: 100, CostUSD: 0.002},
				{EvaluatorID: "vision-b", Detected: false, Confidence: 0.3, LatencyMS: 200, CostUSD: 0.003},
			},
			CreatedAt: created.Add(time.Duration(idx) * time.Second),
		}))
		idx++
	}
	for i := 0; i < confirmed; i++ {
		record(contracts.VerdictConfirmed, contracts.SeverityMedium, 2)
	}
	for i := 0; i < rejected; i++ {
		record(contracts.VerdictRejected, "", 0)
	}
}

func waitTerminal(t *testing.T, store *reportstore.Store, reportID string) contracts.ReportJob {
	t.Helper()
	var job contracts.ReportJob
	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), reportID)
		if err != nil {
			return false
		}
		job = got
		return job.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond, "job %s never reached a terminal state", reportID)
	return job
}

func TestOrchestrator_CompletesAllFormats(t *testing.T) {
	store := newJobStore(t)
	src := verdicts.NewMemoryStore()
	seedRun(t, src, "run-1", 1, 2)

	pdf := &fakePDF{}
	orc, err := reports.New(store, src, pdf, slog.New(slog.NewTextHandler(io.Discard, nil)),
		reports.Config{Workers: 2, Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	orc.Start(ctx)
	defer func() { _ = orc.Shutdown(context.Background()) }()

	job, err := orc.Submit(ctx, "run-1",
		[]contracts.ReportFormat{contracts.FormatJSON, contracts.FormatHTML, contracts.FormatPDF})
	require.NoError(t, err)
	assert.Equal(t, contracts.JobQueued, job.Status)

	done := waitTerminal(t, store, job.ReportID)
	require.Equal(t, contracts.JobCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Len(t, done.StorageLocations, 3)
	assert.Len(t, done.ArtifactRefs, 3)
	assert.Empty(t, done.Error)
	assert.EqualValues(t, 1, pdf.calls.Load())

	data, degraded, err := store.OpenRendition(ctx, job.ReportID, contracts.FormatJSON)
	require.NoError(t, err)
	assert.False(t, degraded)

	var doc render.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 3, doc.Summary.ArtifactCount)
	assert.InDelta(t, 2.0/3.0, doc.Summary.PassRate, 1e-9)
}

func TestOrchestrator_RetriesTransientCollect(t *testing.T) {
	store := newJobStore(t)
	inner := verdicts.NewMemoryStore()
	seedRun(t, inner, "run-1", 1, 0)
	src := &flakyVerdicts{inner: inner, failures: 2}

	orc, err := reports.New(store, src, &fakePDF{}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		reports.Config{Workers: 1, Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	orc.Start(ctx)
	defer func() { _ = orc.Shutdown(context.Background()) }()

	job, err := orc.Submit(ctx, "run-1", []contracts.ReportFormat{contracts.FormatJSON})
	require.NoError(t, err)

	done := waitTerminal(t, store, job.ReportID)
	assert.Equal(t, contracts.JobCompleted, done.Status)
	assert.EqualValues(t, 3, src.calls.Load(), "two failures then one success")
}

func TestOrchestrator_FailsAfterRetryExhaustion(t *testing.T) {
	store := newJobStore(t)
	src := &flakyVerdicts{inner: verdicts.NewMemoryStore(), failures: 100}

	orc, err := reports.New(store, src, &fakePDF{}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		reports.Config{Workers: 1, Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	orc.Start(ctx)
	defer func() { _ = orc.Shutdown(context.Background()) }()

	job, err := orc.Submit(ctx, "run-1", []contracts.ReportFormat{contracts.FormatJSON})
	require.NoError(t, err)

	done := waitTerminal(t, store, job.ReportID)
	assert.Equal(t, contracts.JobFailed, done.Status)
	assert.Contains(t, done.Error, "collect verdicts")
	assert.EqualValues(t, 3, src.calls.Load(), "should stop after three attempts")
}

func TestOrchestrator_PDFFailureLeavesNoLocations(t *testing.T) {
	store := newJobStore(t)
	src := verdicts.NewMemoryStore()
	seedRun(t, src, "run-1", 1, 0)

	pdf := &fakePDF{err: context.DeadlineExceeded}
	orc, err := reports.New(store, src, pdf, slog.New(slog.NewTextHandler(io.Discard, nil)),
		reports.Config{Workers: 1, Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	orc.Start(ctx)
	defer func() { _ = orc.Shutdown(context.Background()) }()

	job, err := orc.Submit(ctx, "run-1",
		[]contracts.ReportFormat{contracts.FormatJSON, contracts.FormatPDF})
	require.NoError(t, err)

	done := waitTerminal(t, store, job.ReportID)
	assert.Equal(t, contracts.JobFailed, done.Status)
	assert.Empty(t, done.StorageLocations, "a failed job must not carry partial locations")
	assert.Contains(t, done.Error, "pdf rendition")
	require.NotNil(t, done.CompletedAt)
}

func TestOrchestrator_QueueFullRejects(t *testing.T) {
	store := newJobStore(t)
	src := verdicts.NewMemoryStore()

	// No workers started, so the queue never drains.
	orc, err := reports.New(store, src, &fakePDF{}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		reports.Config{QueueSize: 1, Workers: 1, Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = orc.Submit(ctx, "run-1", nil)
	require.NoError(t, err)

	_, err = orc.Submit(ctx, "run-1", nil)
	assert.ErrorIs(t, err, reports.ErrQueueFull)
}

func TestOrchestrator_EmptyRunProducesEmptyReport(t *testing.T) {
	store := newJobStore(t)
	src := verdicts.NewMemoryStore()

	orc, err := reports.New(store, src, &fakePDF{}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		reports.Config{Workers: 1, Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	orc.Start(ctx)
	defer func() { _ = orc.Shutdown(context.Background()) }()

	job, err := orc.Submit(ctx, "run-empty", []contracts.ReportFormat{contracts.FormatJSON})
	require.NoError(t, err)

	done := waitTerminal(t, store, job.ReportID)
	require.Equal(t, contracts.JobCompleted, done.Status)
	assert.Empty(t, done.ArtifactRefs)

	data, _, err := store.OpenRendition(ctx, job.ReportID, contracts.FormatJSON)
	require.NoError(t, err)
	var doc render.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 0, doc.Summary.ArtifactCount)
	assert.Equal(t, 1.0, doc.Summary.PassRate)
}

func TestOrchestrator_SubmitAfterShutdown(t *testing.T) {
	store := newJobStore(t)
	orc, err := reports.New(store, verdicts.NewMemoryStore(), &fakePDF{},
		slog.New(slog.NewTextHandler(io.Discard, nil)), reports.Config{Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	orc.Start(ctx)
	require.NoError(t, orc.Shutdown(ctx))

	_, err = orc.Submit(ctx, "run-1", nil)
	assert.ErrorIs(t, err, reports.ErrClosed)
}

func TestOrchestrator_DefaultsFormatToJSON(t *testing.T) {
	store := newJobStore(t)
	src := verdicts.NewMemoryStore()

	orc, err := reports.New(store, src, &fakePDF{}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		reports.Config{Workers: 1, Retry: fastRetry()})
	require.NoError(t, err)

	ctx := context.Background()
	orc.Start(ctx)
	defer func() { _ = orc.Shutdown(context.Background()) }()

	job, err := orc.Submit(ctx, "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []contracts.ReportFormat{contracts.FormatJSON}, job.RequestedFormats)

	done := waitTerminal(t, store, job.ReportID)
	assert.Equal(t, contracts.JobCompleted, done.Status)
}
