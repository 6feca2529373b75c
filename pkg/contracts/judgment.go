package contracts

import (
	"errors"
	"fmt"
)

// MaxRationaleBytes bounds the stored rationale text of a judgment.
// Longer rationales are truncated at intake, never rejected.
const MaxRationaleBytes = 4096

// Judgment is one evaluator's independent opinion about one artifact.
// Evaluators are black boxes; a judgment records what came back, not
// how it was produced.
type Judgment struct {
	EvaluatorID      string  `json:"evaluator_id"`
	EvaluatorVersion string  `json:"evaluator_version,omitempty"`
	Detected         bool    `json:"detected"`
	Confidence       float64 `json:"confidence"`
	Rationale        string  `json:"rationale,omitempty"`
	LatencyMS        int64   `json:"latency_ms"`
	CostUSD          float64 `json:"cost_usd"`
}

// Validate checks the structural invariants of a judgment.
func (j Judgment) Validate() error {
	if j.EvaluatorID == "" {
		return errors.New("evaluator_id is required")
	}
	if j.Confidence < 0 || j.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", j.Confidence)
	}
	if j.LatencyMS < 0 {
		return fmt.Errorf("latency_ms %d is negative", j.LatencyMS)
	}
	if j.CostUSD < 0 {
		return fmt.Errorf("cost_usd %v is negative", j.CostUSD)
	}
	return nil
}
