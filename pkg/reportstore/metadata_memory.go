package reportstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// MemoryMetadata is the in-memory job store used by tests and by the
// orchestrator benchmarks. Jobs are deep-copied on both sides of the
// boundary so callers cannot mutate stored state.
type MemoryMetadata struct {
	mu   sync.RWMutex
	jobs map[string]contracts.ReportJob
}

func NewMemoryMetadata() *MemoryMetadata {
	return &MemoryMetadata{jobs: make(map[string]contracts.ReportJob)}
}

func (s *MemoryMetadata) CreateJob(_ context.Context, job contracts.ReportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ReportID]; ok {
		return fmt.Errorf("report %s: %w", job.ReportID, ErrJobExists)
	}
	s.jobs[job.ReportID] = cloneJob(job)
	return nil
}

func (s *MemoryMetadata) UpdateJob(_ context.Context, job contracts.ReportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ReportID]
	if !ok {
		return fmt.Errorf("report %s: %w", job.ReportID, ErrNotFound)
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("report %s: %w", job.ReportID, ErrTerminalState)
	}
	s.jobs[job.ReportID] = cloneJob(job)
	return nil
}

func (s *MemoryMetadata) GetJob(_ context.Context, reportID string) (contracts.ReportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[reportID]
	if !ok {
		return contracts.ReportJob{}, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	return cloneJob(job), nil
}

func (s *MemoryMetadata) ListJobs(_ context.Context, filter Filter) ([]contracts.ReportJob, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []contracts.ReportJob
	for _, job := range s.jobs {
		if filter.TestRunID != "" && job.TestRunID != filter.TestRunID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneJob(job))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ReportID > matched[j].ReportID
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func cloneJob(job contracts.ReportJob) contracts.ReportJob {
	out := job
	if job.RequestedFormats != nil {
		out.RequestedFormats = append([]contracts.ReportFormat(nil), job.RequestedFormats...)
	}
	if job.ArtifactRefs != nil {
		out.ArtifactRefs = append([]string(nil), job.ArtifactRefs...)
	}
	if job.StorageLocations != nil {
		out.StorageLocations = make(map[contracts.ReportFormat]contracts.StorageLocation, len(job.StorageLocations))
		for format, loc := range job.StorageLocations {
			out.StorageLocations[format] = loc
		}
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
