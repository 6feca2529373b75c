// Package verdicts persists artifacts and their verdict history per
// test run. Verdicts are append-only: re-evaluation adds a new row and
// the latest per artifact wins, so report collection can read a
// consistent as-of snapshot while new verdicts keep arriving.
package verdicts

import (
	"context"
	"errors"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

var (
	// ErrArtifactNotFound means the referenced artifact was never recorded.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrVerdictExists means a verdict with the same ID was already stored.
	ErrVerdictExists = errors.New("verdict already recorded")
)

// Store is the persistence boundary for artifacts and verdicts.
type Store interface {
	// RecordArtifact registers a captured artifact. Recording the same
	// artifact ID twice is a no-op.
	RecordArtifact(ctx context.Context, artifact contracts.Artifact) error

	// GetArtifact fetches one artifact by ID.
	GetArtifact(ctx context.Context, artifactID string) (contracts.Artifact, error)

	// RecordVerdict appends a verdict for an existing artifact. A
	// verdict for an unknown artifact is rejected with
	// ErrArtifactNotFound.
	RecordVerdict(ctx context.Context, verdict contracts.Verdict) error

	// LatestVerdicts returns the newest verdict per artifact in the
	// test run among verdicts created at or before asOf, in the order
	// artifacts first received a verdict. Superseded verdicts are
	// excluded but never deleted.
	LatestVerdicts(ctx context.Context, testRunID string, asOf time.Time) ([]contracts.Verdict, error)

	// VerdictHistory returns every verdict ever recorded for an
	// artifact, newest first.
	VerdictHistory(ctx context.Context, artifactID string) ([]contracts.Verdict, error)
}

// latestPerArtifact folds an ascending-by-created-at row stream into
// the newest verdict per artifact. Ties on CreatedAt resolve to the
// later row in scan order.
func latestPerArtifact(ordered []contracts.Verdict) []contracts.Verdict {
	latest := make(map[string]contracts.Verdict, len(ordered))
	order := make([]string, 0, len(ordered))
	for _, v := range ordered {
		if _, seen := latest[v.ArtifactID]; !seen {
			order = append(order, v.ArtifactID)
		}
		latest[v.ArtifactID] = v
	}
	out := make([]contracts.Verdict, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}
