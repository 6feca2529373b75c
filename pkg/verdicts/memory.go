package verdicts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// MemoryStore keeps artifacts and verdicts in process memory. Used in
// tests and anywhere durability is somebody else's problem.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]contracts.Artifact
	verdicts  []contracts.Verdict
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]contracts.Artifact),
	}
}

func (s *MemoryStore) RecordArtifact(_ context.Context, a contracts.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[a.ArtifactID]; exists {
		return nil
	}
	s.artifacts[a.ArtifactID] = a
	return nil
}

func (s *MemoryStore) GetArtifact(_ context.Context, artifactID string) (contracts.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return contracts.Artifact{}, ErrArtifactNotFound
	}
	return a, nil
}

func (s *MemoryStore) RecordVerdict(_ context.Context, v contracts.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[v.ArtifactID]; !ok {
		return fmt.Errorf("verdict %s: %w", v.VerdictID, ErrArtifactNotFound)
	}
	for _, existing := range s.verdicts {
		if existing.VerdictID == v.VerdictID {
			return fmt.Errorf("verdict %s: %w", v.VerdictID, ErrVerdictExists)
		}
	}
	s.verdicts = append(s.verdicts, v)
	return nil
}

func (s *MemoryStore) LatestVerdicts(_ context.Context, testRunID string, asOf time.Time) ([]contracts.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []contracts.Verdict
	for _, v := range s.verdicts {
		a, ok := s.artifacts[v.ArtifactID]
		if !ok || a.TestRunID != testRunID {
			continue
		}
		if v.CreatedAt.After(asOf) {
			continue
		}
		matched = append(matched, v)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].VerdictID < matched[j].VerdictID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return latestPerArtifact(matched), nil
}

func (s *MemoryStore) VerdictHistory(_ context.Context, artifactID string) ([]contracts.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history []contracts.Verdict
	for _, v := range s.verdicts {
		if v.ArtifactID == artifactID {
			history = append(history, v)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].CreatedAt.Equal(history[j].CreatedAt) {
			return history[i].VerdictID > history[j].VerdictID
		}
		return history[i].CreatedAt.After(history[j].CreatedAt)
	})
	return history, nil
}
