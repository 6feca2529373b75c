// Package reportstore is the durable home of report jobs: relational
// metadata plus blob write-through for rendered bytes. When the primary
// backends are unreachable it degrades to a bounded in-process cache
// instead of failing jobs, and every read served from that cache says
// so via the job's Degraded flag. Degraded state is never promoted back
// silently; entries live in the cache until an operator re-runs the
// reports.
package reportstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/visiongate/visiongate/pkg/blob"
	"github.com/visiongate/visiongate/pkg/contracts"
)

var (
	// ErrNotFound means no job exists under the report ID.
	ErrNotFound = errors.New("report not found")

	// ErrJobExists rejects a second create under the same report ID.
	ErrJobExists = errors.New("report job already exists")

	// ErrTerminalState rejects updates to completed or failed jobs.
	ErrTerminalState = errors.New("report job is terminal")

	// ErrUnavailable means neither primary nor fallback could serve.
	ErrUnavailable = errors.New("report store unavailable")

	// ErrDegradedRendition means the bytes only exist in the fallback
	// cache, where no signed download URL can be minted.
	ErrDegradedRendition = errors.New("rendition held in fallback cache, download unavailable")
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	TestRunID string
	Status    contracts.JobStatus
	Limit     int
	Offset    int
}

// MetadataStore persists report job records.
type MetadataStore interface {
	CreateJob(ctx context.Context, job contracts.ReportJob) error

	// UpdateJob replaces the mutable fields of a non-terminal job.
	// Updating a terminal job returns ErrTerminalState.
	UpdateJob(ctx context.Context, job contracts.ReportJob) error

	GetJob(ctx context.Context, reportID string) (contracts.ReportJob, error)

	// ListJobs returns one page plus the total match count.
	ListJobs(ctx context.Context, filter Filter) ([]contracts.ReportJob, int, error)
}

// DegradedObserver is told each time an operation lands in or is
// refused because of the fallback cache.
type DegradedObserver func(ctx context.Context, reportID string)

// Store front-ends a primary metadata store and a blob store with a
// bounded fallback cache.
type Store struct {
	primary  MetadataStore
	blobs    blob.Store
	fallback *fallbackCache
	observe  DegradedObserver
	log      *slog.Logger
}

// Option tweaks Store construction.
type Option func(*Store)

// WithFallbackCapacity bounds the fallback cache (jobs, renditions).
func WithFallbackCapacity(jobs, renditions int) Option {
	return func(s *Store) { s.fallback = newFallbackCache(jobs, renditions) }
}

// WithDegradedObserver wires a hook for degraded-mode events.
func WithDegradedObserver(fn DegradedObserver) Option {
	return func(s *Store) { s.observe = fn }
}

// New wires the durable report store.
func New(primary MetadataStore, blobs blob.Store, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		primary:  primary,
		blobs:    blobs,
		fallback: newFallbackCache(defaultFallbackJobs, defaultFallbackRenditions),
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// unavailable decides whether an error is a store outage rather than a
// semantic failure that the fallback must not paper over.
func unavailable(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrTerminalState) && !errors.Is(err, ErrJobExists)
}

func (s *Store) noteDegraded(ctx context.Context, reportID string) {
	if s.observe != nil {
		s.observe(ctx, reportID)
	}
}

// Create registers a new queued job. On primary outage the job is
// parked in the fallback cache so acceptance keeps working.
func (s *Store) Create(ctx context.Context, job contracts.ReportJob) error {
	err := s.primary.CreateJob(ctx, job)
	if err == nil {
		return nil
	}
	if !unavailable(err) {
		return err
	}
	s.log.Warn("primary report store unavailable, parking job in fallback",
		"report_id", job.ReportID, "error", err)
	job.Degraded = true
	if !s.fallback.saveJob(job) {
		return ErrUnavailable
	}
	s.noteDegraded(ctx, job.ReportID)
	return nil
}

// Update replaces a job's mutable state, falling back like Create.
func (s *Store) Update(ctx context.Context, job contracts.ReportJob) error {
	if s.fallback.hasJob(job.ReportID) {
		// The job already lives in the fallback; keep its history there
		// rather than splitting state across stores.
		job.Degraded = true
		if !s.fallback.saveJob(job) {
			return ErrUnavailable
		}
		s.noteDegraded(ctx, job.ReportID)
		return nil
	}

	err := s.primary.UpdateJob(ctx, job)
	if err == nil {
		return nil
	}
	if !unavailable(err) {
		return err
	}
	s.log.Warn("primary report store unavailable, parking update in fallback",
		"report_id", job.ReportID, "error", err)
	job.Degraded = true
	if !s.fallback.saveJob(job) {
		return ErrUnavailable
	}
	s.noteDegraded(ctx, job.ReportID)
	return nil
}

// Get fetches a job. A copy in the fallback cache wins, flagged
// degraded, because it only exists there if some write missed the
// primary.
func (s *Store) Get(ctx context.Context, reportID string) (contracts.ReportJob, error) {
	if job, ok := s.fallback.getJob(reportID); ok {
		job.Degraded = true
		return job, nil
	}

	job, err := s.primary.GetJob(ctx, reportID)
	if err == nil {
		return job, nil
	}
	if !unavailable(err) {
		return contracts.ReportJob{}, err
	}
	s.log.Warn("primary report store unavailable on read", "report_id", reportID, "error", err)
	return contracts.ReportJob{}, ErrUnavailable
}

// List pages through jobs. With a healthy primary, fallback copies
// overlay their primary rows; with the primary down, the fallback cache
// is all there is and every row reads degraded.
func (s *Store) List(ctx context.Context, filter Filter) ([]contracts.ReportJob, int, error) {
	jobs, total, err := s.primary.ListJobs(ctx, filter)
	if err == nil {
		for i := range jobs {
			if cached, ok := s.fallback.getJob(jobs[i].ReportID); ok {
				cached.Degraded = true
				jobs[i] = cached
			}
		}
		return jobs, total, nil
	}
	if !unavailable(err) {
		return nil, 0, err
	}
	s.log.Warn("primary report store unavailable on list", "error", err)
	jobs = s.fallback.listJobs(filter)
	for i := range jobs {
		jobs[i].Degraded = true
	}
	return jobs, len(jobs), nil
}

// PutRendition writes rendered bytes through to the blob store. On
// blob outage the bytes land in the fallback cache and the location
// names it, so completion still happens and the outage stays visible.
func (s *Store) PutRendition(ctx context.Context, reportID string, format contracts.ReportFormat, data []byte) (contracts.StorageLocation, error) {
	loc, err := s.blobs.Put(ctx, reportID, format, data)
	if err == nil {
		return loc, nil
	}
	if errors.Is(err, blob.ErrInvalidReportID) {
		return contracts.StorageLocation{}, err
	}
	s.log.Warn("blob store unavailable, caching rendition in fallback",
		"report_id", reportID, "format", format, "error", err)
	loc, ok := s.fallback.saveRendition(reportID, format, data)
	if !ok {
		return contracts.StorageLocation{}, ErrUnavailable
	}
	s.noteDegraded(ctx, reportID)
	return loc, nil
}

// OpenRendition reads rendered bytes back, from the fallback first for
// the same reason Get does.
func (s *Store) OpenRendition(ctx context.Context, reportID string, format contracts.ReportFormat) ([]byte, bool, error) {
	if data, ok := s.fallback.getRendition(reportID, format); ok {
		return data, true, nil
	}
	data, err := s.blobs.Open(ctx, reportID, format)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// Download mints a signed handle for a stored rendition. Renditions
// that only exist in the fallback cache cannot be handed out via
// provider-signed URLs; callers get ErrDegradedRendition and should
// retry after the primary recovers.
func (s *Store) Download(ctx context.Context, reportID string, format contracts.ReportFormat, ttl time.Duration) (blob.Handle, error) {
	if _, ok := s.fallback.getRendition(reportID, format); ok {
		s.noteDegraded(ctx, reportID)
		return blob.Handle{}, ErrDegradedRendition
	}
	return s.blobs.SignedHandle(ctx, reportID, format, ttl)
}

// Degraded reports whether any state currently lives in the fallback.
func (s *Store) Degraded() bool {
	return s.fallback.size() > 0
}
