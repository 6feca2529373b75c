package contracts

import "time"

// VerdictStatus is the consensus outcome for one artifact.
type VerdictStatus string

const (
	// VerdictConfirmed means enough evaluators agreed with enough
	// confidence that the detection is treated as real.
	VerdictConfirmed VerdictStatus = "confirmed"

	// VerdictRejected means no evaluator detected anything.
	VerdictRejected VerdictStatus = "rejected"

	// VerdictInconclusive means some evaluators detected something but
	// the agreement or confidence bar was not met.
	VerdictInconclusive VerdictStatus = "inconclusive"
)

// Severity grades a confirmed verdict by aggregate confidence.
// Only confirmed verdicts carry a severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Verdict is the immutable result of consensus over a set of judgments.
// Re-evaluating an artifact appends a new verdict; the latest by
// CreatedAt is authoritative and earlier ones are retained for audit.
type Verdict struct {
	VerdictID           string        `json:"verdict_id"`
	ArtifactID          string        `json:"artifact_id"`
	Status              VerdictStatus `json:"status"`
	Severity            Severity      `json:"severity,omitempty"`
	AggregateConfidence float64       `json:"aggregate_confidence"`
	AgreeingEvaluators  int           `json:"agreeing_evaluators"`
	TotalEvaluators     int           `json:"total_evaluators"`
	Judgments           []Judgment    `json:"judgments"`
	CreatedAt           time.Time     `json:"created_at"`
}

// VerdictRef is the compact cacheable reference to a verdict. It carries
// enough to reuse the outcome without refetching judgments.
type VerdictRef struct {
	VerdictID           string        `json:"verdict_id"`
	ArtifactID          string        `json:"artifact_id"`
	Status              VerdictStatus `json:"status"`
	Severity            Severity      `json:"severity,omitempty"`
	AggregateConfidence float64       `json:"aggregate_confidence"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Ref returns the cacheable reference for the verdict.
func (v Verdict) Ref() VerdictRef {
	return VerdictRef{
		VerdictID:           v.VerdictID,
		ArtifactID:          v.ArtifactID,
		Status:              v.Status,
		Severity:            v.Severity,
		AggregateConfidence: v.AggregateConfidence,
		CreatedAt:           v.CreatedAt,
	}
}
