// Package consensus turns a set of independent evaluator judgments
// into a single verdict. Evaluation is a pure function of the judgment
// list and the policy: no I/O, no clock, no randomness.
package consensus

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// Outcome is the decision part of a verdict, before identity and
// timestamps are attached.
type Outcome struct {
	Status              contracts.VerdictStatus
	Severity            contracts.Severity
	AggregateConfidence float64
	AgreeingEvaluators  int
	TotalEvaluators     int
}

// Evaluate derives the consensus outcome for a judgment set.
//
// Aggregate confidence is the mean over detecting evaluators, or over
// all evaluators when none detected. The verdict is confirmed when the
// agreement count and the aggregate confidence clear the policy bar
// (strictly, on the confidence side); rejected when no evaluator
// detected anything; inconclusive otherwise, including the empty set.
func (p *Policy) Evaluate(judgments []contracts.Judgment) (Outcome, error) {
	total := len(judgments)
	if total == 0 {
		return Outcome{Status: contracts.VerdictInconclusive}, nil
	}

	agreeing := 0
	var detectedSum, allSum float64
	for _, j := range judgments {
		allSum += j.Confidence
		if j.Detected {
			agreeing++
			detectedSum += j.Confidence
		}
	}

	var confidence float64
	if agreeing > 0 {
		confidence = detectedSum / float64(agreeing)
	} else {
		confidence = allSum / float64(total)
	}

	out := Outcome{
		AggregateConfidence: confidence,
		AgreeingEvaluators:  agreeing,
		TotalEvaluators:     total,
	}

	if agreeing == 0 {
		out.Status = contracts.VerdictRejected
		return out, nil
	}

	confirmed, err := p.confirmed(agreeing, total, confidence)
	if err != nil {
		return Outcome{}, err
	}
	if confirmed && total >= 2 {
		out.Status = contracts.VerdictConfirmed
		out.Severity = p.severityFor(confidence)
	} else {
		out.Status = contracts.VerdictInconclusive
	}
	return out, nil
}

func (p *Policy) confirmed(agreeing, total int, confidence float64) (bool, error) {
	if p.program == nil {
		return agreeing >= p.MinAgreeing && confidence > p.ConfidenceFloor, nil
	}
	val, _, err := p.program.Eval(map[string]any{
		"agreeing":   agreeing,
		"total":      total,
		"confidence": confidence,
	})
	if err != nil {
		return false, fmt.Errorf("confirm rule eval: %w", err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("confirm rule returned %T, want bool", val.Value())
	}
	return b, nil
}

// BuildVerdict evaluates the judgments and wraps the outcome in a full
// verdict record for the artifact.
func (p *Policy) BuildVerdict(artifactID string, judgments []contracts.Judgment) (contracts.Verdict, error) {
	out, err := p.Evaluate(judgments)
	if err != nil {
		return contracts.Verdict{}, err
	}
	return contracts.Verdict{
		VerdictID:           uuid.NewString(),
		ArtifactID:          artifactID,
		Status:              out.Status,
		Severity:            out.Severity,
		AggregateConfidence: out.AggregateConfidence,
		AgreeingEvaluators:  out.AgreeingEvaluators,
		TotalEvaluators:     out.TotalEvaluators,
		Judgments:           judgments,
		CreatedAt:           time.Now().UTC(),
	}, nil
}
