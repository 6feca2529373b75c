package reports

import (
	"testing"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verdicts := []contracts.Verdict{
		{
			ArtifactID: "a1", Status: contracts.VerdictConfirmed, Severity: contracts.SeverityHigh,
			Judgments: []contracts.Judgment{
				{EvaluatorID: "e1", Detected: true, LatencyMS: 100, CostUSD: 0.002},
				{EvaluatorID: "e2", Detected: true, LatencyMS: 300, CostUSD: 0.004},
			},
		},
		{
			ArtifactID: "a2", Status: contracts.VerdictRejected,
			Judgments: []contracts.Judgment{
				{EvaluatorID: "e1", Detected: false, LatencyMS: 200, CostUSD: 0.002},
			},
		},
		{
			ArtifactID: "a3", Status: contracts.VerdictConfirmed, Severity: contracts.SeverityHigh,
		},
		{
			ArtifactID: "a4", Status: contracts.VerdictInconclusive,
		},
	}

	summary := Summarize("run-1", now, verdicts)

	if summary.ArtifactCount != 4 {
		t.Errorf("artifact count = %d, want 4", summary.ArtifactCount)
	}
	if got := summary.StatusCounts[contracts.VerdictConfirmed]; got != 2 {
		t.Errorf("confirmed count = %d, want 2", got)
	}
	if got := summary.SeverityCounts[contracts.SeverityHigh]; got != 2 {
		t.Errorf("high severity count = %d, want 2", got)
	}
	if len(summary.SeverityCounts) != 1 {
		t.Errorf("severity counted for non-confirmed verdicts: %v", summary.SeverityCounts)
	}
	if want := 0.5; summary.PassRate != want {
		t.Errorf("pass rate = %v, want %v", summary.PassRate, want)
	}

	e1 := summary.Evaluators["e1"]
	if e1.Judgments != 2 || e1.Detections != 1 {
		t.Errorf("e1 rollup = %+v", e1)
	}
	if e1.MeanLatencyMS != 150 {
		t.Errorf("e1 mean latency = %v, want 150", e1.MeanLatencyMS)
	}
	if e1.TotalCostUSD != 0.004 {
		t.Errorf("e1 total cost = %v, want 0.004", e1.TotalCostUSD)
	}
}

func TestSummarize_EmptyRun(t *testing.T) {
	summary := Summarize("run-empty", time.Now().UTC(), nil)

	if summary.ArtifactCount != 0 {
		t.Errorf("artifact count = %d, want 0", summary.ArtifactCount)
	}
	if summary.PassRate != 1 {
		t.Errorf("empty run pass rate = %v, want 1", summary.PassRate)
	}
	if len(summary.StatusCounts) != 0 {
		t.Errorf("unexpected status counts: %v", summary.StatusCounts)
	}
}
