package intake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/visiongate/visiongate/pkg/contracts"
)

var (
	// ErrEvaluatorExists rejects a second registration under one ID.
	ErrEvaluatorExists = errors.New("evaluator already registered")

	// ErrVersionGated rejects evaluators below the deployment's
	// minimum version constraint.
	ErrVersionGated = errors.New("evaluator version below constraint")
)

// Evaluator judges whether a UI artifact shows a real defect.
// Implementations wrap vision model endpoints; the pipeline treats
// them as black boxes that either return a judgment or fail.
type Evaluator interface {
	ID() string
	Version() string
	Evaluate(ctx context.Context, artifact contracts.Artifact, image []byte) (contracts.Judgment, error)
}

// Registry holds the evaluator set consulted for every artifact.
// Registration is gated on a semver constraint so a deployment can
// pin out judge builds with known bad calibration.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
	constraint *semver.Constraints
}

// NewRegistry builds a registry. minVersion is a semver constraint
// like ">= 2.0.0"; empty admits every parseable version.
func NewRegistry(minVersion string) (*Registry, error) {
	r := &Registry{evaluators: make(map[string]Evaluator)}
	if minVersion != "" {
		c, err := semver.NewConstraint(minVersion)
		if err != nil {
			return nil, fmt.Errorf("parse evaluator version constraint %q: %w", minVersion, err)
		}
		r.constraint = c
	}
	return r, nil
}

func (r *Registry) Register(e Evaluator) error {
	if e.ID() == "" {
		return errors.New("evaluator id required")
	}
	v, err := semver.NewVersion(e.Version())
	if err != nil {
		return fmt.Errorf("evaluator %s version %q: %w", e.ID(), e.Version(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.evaluators[e.ID()]; ok {
		return fmt.Errorf("evaluator %s: %w", e.ID(), ErrEvaluatorExists)
	}
	if r.constraint != nil && !r.constraint.Check(v) {
		return fmt.Errorf("evaluator %s at %s: %w", e.ID(), e.Version(), ErrVersionGated)
	}
	r.evaluators[e.ID()] = e
	return nil
}

// Evaluators returns the registered set ordered by ID, so fan-out and
// judgment ordering stay deterministic.
func (r *Registry) Evaluators() []Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Evaluator, 0, len(r.evaluators))
	for _, e := range r.evaluators {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.evaluators)
}
