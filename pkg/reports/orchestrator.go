// Package reports runs report generation jobs through a bounded queue
// and a fixed worker pool. A job moves queued -> processing and ends
// completed or failed; terminal jobs never change again.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visiongate/visiongate/pkg/contracts"
	"github.com/visiongate/visiongate/pkg/reports/render"
	"github.com/visiongate/visiongate/pkg/retry"
)

const (
	DefaultQueueSize = 64
	DefaultWorkers   = 4
)

var (
	// ErrQueueFull rejects submissions instead of queueing unbounded.
	ErrQueueFull = errors.New("report queue full")

	// ErrClosed rejects submissions after shutdown started.
	ErrClosed = errors.New("report orchestrator closed")
)

// JobStore is the slice of the report store the orchestrator drives.
type JobStore interface {
	Create(ctx context.Context, job contracts.ReportJob) error
	Update(ctx context.Context, job contracts.ReportJob) error
	PutRendition(ctx context.Context, reportID string, format contracts.ReportFormat, data []byte) (contracts.StorageLocation, error)
}

// VerdictSource yields the latest verdict per artifact for a run,
// frozen at a point in time.
type VerdictSource interface {
	LatestVerdicts(ctx context.Context, testRunID string, asOf time.Time) ([]contracts.Verdict, error)
}

// RenderObserver receives per-rendition production timing. It must be
// fast; it runs on the worker goroutine.
type RenderObserver func(ctx context.Context, format contracts.ReportFormat, elapsed time.Duration, err error)

// Config tunes the orchestrator. Zero values take the defaults.
type Config struct {
	QueueSize int
	Workers   int
	Retry     retry.Policy
	Observer  RenderObserver
}

type Orchestrator struct {
	store    JobStore
	verdicts VerdictSource
	html     *render.HTMLRenderer
	json     render.JSONRenderer
	pdf      render.PDFRenderer
	retry    retry.Policy
	observe  RenderObserver
	log      *slog.Logger

	queue   chan contracts.ReportJob
	workers int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(store JobStore, verdicts VerdictSource, pdf render.PDFRenderer, log *slog.Logger, cfg Config) (*Orchestrator, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	html, err := render.NewHTMLRenderer()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:    store,
		verdicts: verdicts,
		html:     html,
		pdf:      pdf,
		retry:    cfg.Retry,
		observe:  cfg.Observer,
		log:      log,
		queue:    make(chan contracts.ReportJob, cfg.QueueSize),
		workers:  cfg.Workers,
	}, nil
}

// Start launches the worker pool. Workers exit when ctx is cancelled
// or the queue is closed by Shutdown.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-o.queue:
			if !ok {
				return
			}
			o.process(ctx, job)
		}
	}
}

// Submit accepts a report request, persists the queued job, and hands
// it to the pool. Acceptance is all a caller waits for; generation is
// asynchronous.
func (o *Orchestrator) Submit(ctx context.Context, testRunID string, formats []contracts.ReportFormat) (contracts.ReportJob, error) {
	if testRunID == "" {
		return contracts.ReportJob{}, errors.New("test run id required")
	}
	formats = normalizeFormats(formats)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return contracts.ReportJob{}, ErrClosed
	}
	if len(o.queue) >= cap(o.queue) {
		o.mu.Unlock()
		return contracts.ReportJob{}, ErrQueueFull
	}
	o.mu.Unlock()

	job := contracts.ReportJob{
		ReportID:         uuid.NewString(),
		TestRunID:        testRunID,
		RequestedFormats: formats,
		Status:           contracts.JobQueued,
		CreatedAt:        time.Now().UTC(),
	}
	if err := o.store.Create(ctx, job); err != nil {
		return contracts.ReportJob{}, fmt.Errorf("create report job: %w", err)
	}

	select {
	case o.queue <- job:
		return job, nil
	default:
		// The queue filled between the capacity check and the send.
		// The record exists, so finalize it instead of stranding it.
		o.finalize(ctx, job, errors.New("queue full at enqueue"))
		return contracts.ReportJob{}, ErrQueueFull
	}
}

// QueueDepth is the number of jobs waiting for a worker.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Shutdown stops accepting jobs and waits for in-flight ones.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs one job through collect, transform, render, persist.
func (o *Orchestrator) process(ctx context.Context, job contracts.ReportJob) {
	job.Status = contracts.JobProcessing
	if err := o.store.Update(ctx, job); err != nil {
		// A terminal record means someone already finalized this job.
		o.log.Error("cannot move job to processing", "report_id", job.ReportID, "error", err)
		return
	}

	verdicts, err := o.collect(ctx, job)
	if err != nil {
		o.finalize(ctx, job, fmt.Errorf("collect verdicts: %w", err))
		return
	}

	doc := render.Document{
		Summary:  Summarize(job.TestRunID, time.Now().UTC(), verdicts),
		Verdicts: verdicts,
	}

	renditions, err := o.renderAll(ctx, job, doc)
	if err != nil {
		o.finalize(ctx, job, err)
		return
	}

	locations := make(map[contracts.ReportFormat]contracts.StorageLocation, len(renditions))
	for _, format := range job.RequestedFormats {
		loc, err := o.store.PutRendition(ctx, job.ReportID, format, renditions[format])
		if err != nil {
			o.finalize(ctx, job, fmt.Errorf("persist %s rendition: %w", format, err))
			return
		}
		locations[format] = loc
	}

	now := time.Now().UTC()
	job.Status = contracts.JobCompleted
	job.CompletedAt = &now
	job.StorageLocations = locations
	job.ArtifactRefs = artifactRefs(verdicts)
	if err := o.store.Update(ctx, job); err != nil {
		o.log.Error("cannot complete job", "report_id", job.ReportID, "error", err)
		return
	}
	o.log.Info("report completed",
		"report_id", job.ReportID,
		"test_run_id", job.TestRunID,
		"artifacts", len(verdicts),
		"formats", len(locations))
}

// collect snapshots the run's verdicts as of job creation, retrying
// transient store failures.
func (o *Orchestrator) collect(ctx context.Context, job contracts.ReportJob) ([]contracts.Verdict, error) {
	var verdicts []contracts.Verdict
	err := retry.Do(ctx, o.retry, job.ReportID, func(ctx context.Context) error {
		var err error
		verdicts, err = o.verdicts.LatestVerdicts(ctx, job.TestRunID, job.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return verdicts, nil
}

// renderAll produces every requested rendition before anything is
// persisted, so a failed job never carries partial locations.
func (o *Orchestrator) renderAll(ctx context.Context, job contracts.ReportJob, doc render.Document) (map[contracts.ReportFormat][]byte, error) {
	out := make(map[contracts.ReportFormat][]byte, len(job.RequestedFormats))

	var htmlBytes []byte
	var htmlElapsed time.Duration
	needHTML := false
	for _, format := range job.RequestedFormats {
		if format == contracts.FormatHTML || format == contracts.FormatPDF {
			needHTML = true
		}
	}
	if needHTML {
		start := time.Now()
		var err error
		htmlBytes, err = o.html.Render(doc)
		htmlElapsed = time.Since(start)
		if err != nil {
			o.observeRender(ctx, contracts.FormatHTML, htmlElapsed, err)
			return nil, fmt.Errorf("html rendition: %w: %w", render.ErrRender, err)
		}
	}

	for _, format := range job.RequestedFormats {
		switch format {
		case contracts.FormatJSON:
			start := time.Now()
			data, err := o.json.Render(doc)
			o.observeRender(ctx, format, time.Since(start), err)
			if err != nil {
				return nil, fmt.Errorf("json rendition: %w: %w", render.ErrRender, err)
			}
			out[format] = data
		case contracts.FormatHTML:
			o.observeRender(ctx, format, htmlElapsed, nil)
			out[format] = htmlBytes
		case contracts.FormatPDF:
			start := time.Now()
			data, err := o.pdf.RenderPDF(ctx, htmlBytes)
			o.observeRender(ctx, format, time.Since(start), err)
			if err != nil {
				return nil, fmt.Errorf("pdf rendition: %w: %w", render.ErrRender, err)
			}
			out[format] = data
		default:
			return nil, fmt.Errorf("%w: %q", contracts.ErrUnknownFormat, format)
		}
	}
	return out, nil
}

func (o *Orchestrator) observeRender(ctx context.Context, format contracts.ReportFormat, elapsed time.Duration, err error) {
	if o.observe != nil {
		o.observe(ctx, format, elapsed, err)
	}
}

// finalize marks the job failed. Storage locations stay empty: a
// failed job has no renditions to hand out.
func (o *Orchestrator) finalize(ctx context.Context, job contracts.ReportJob, cause error) {
	now := time.Now().UTC()
	job.Status = contracts.JobFailed
	job.Error = cause.Error()
	job.CompletedAt = &now
	job.StorageLocations = nil
	if err := o.store.Update(ctx, job); err != nil {
		o.log.Error("cannot fail job", "report_id", job.ReportID, "error", err)
		return
	}
	o.log.Warn("report failed", "report_id", job.ReportID, "test_run_id", job.TestRunID, "error", cause)
}

func artifactRefs(verdicts []contracts.Verdict) []string {
	if len(verdicts) == 0 {
		return nil
	}
	refs := make([]string, 0, len(verdicts))
	for _, v := range verdicts {
		refs = append(refs, v.ArtifactID)
	}
	return refs
}

// normalizeFormats dedupes while keeping request order; an empty
// request defaults to the canonical JSON rendition.
func normalizeFormats(formats []contracts.ReportFormat) []contracts.ReportFormat {
	if len(formats) == 0 {
		return []contracts.ReportFormat{contracts.FormatJSON}
	}
	seen := make(map[contracts.ReportFormat]bool, len(formats))
	out := make([]contracts.ReportFormat, 0, len(formats))
	for _, f := range formats {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
