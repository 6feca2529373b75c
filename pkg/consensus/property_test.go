//go:build property
// +build property

package consensus_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/visiongate/visiongate/pkg/consensus"
	"github.com/visiongate/visiongate/pkg/contracts"
)

func zipJudgments(confidences []float64, detections []bool) []contracts.Judgment {
	n := len(confidences)
	if len(detections) < n {
		n = len(detections)
	}
	judgments := make([]contracts.Judgment, 0, n)
	for i := 0; i < n; i++ {
		judgments = append(judgments, contracts.Judgment{
			EvaluatorID: "eval",
			Detected:    detections[i],
			Confidence:  confidences[i],
		})
	}
	return judgments
}

// TestConsensusInvariants checks the structural guarantees of
// evaluation across arbitrary judgment sets.
func TestConsensusInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	policy := consensus.DefaultPolicy()

	properties.Property("agreeing never exceeds total and confidence stays in range", prop.ForAll(
		func(confidences []float64, detections []bool) bool {
			out, err := policy.Evaluate(zipJudgments(confidences, detections))
			if err != nil {
				return false
			}
			if out.AgreeingEvaluators > out.TotalEvaluators {
				return false
			}
			return out.AggregateConfidence >= 0 && out.AggregateConfidence <= 1
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("confirmed implies quorum and strict confidence floor", prop.ForAll(
		func(confidences []float64, detections []bool) bool {
			out, err := policy.Evaluate(zipJudgments(confidences, detections))
			if err != nil {
				return false
			}
			if out.Status != contracts.VerdictConfirmed {
				return true
			}
			return out.AgreeingEvaluators >= policy.MinAgreeing &&
				out.TotalEvaluators >= 2 &&
				out.AggregateConfidence > policy.ConfidenceFloor &&
				out.Severity != ""
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("rejected exactly when a non-empty set has zero detections", prop.ForAll(
		func(confidences []float64, detections []bool) bool {
			judgments := zipJudgments(confidences, detections)
			out, err := policy.Evaluate(judgments)
			if err != nil {
				return false
			}
			if len(judgments) == 0 {
				return out.Status == contracts.VerdictInconclusive
			}
			return (out.Status == contracts.VerdictRejected) == (out.AgreeingEvaluators == 0)
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("evaluation is deterministic", prop.ForAll(
		func(confidences []float64, detections []bool) bool {
			judgments := zipJudgments(confidences, detections)
			first, err1 := policy.Evaluate(judgments)
			second, err2 := policy.Evaluate(judgments)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return first == second
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
