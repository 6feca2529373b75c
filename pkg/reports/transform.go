package reports

import (
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// Summarize folds a run's verdicts into the report summary. Severity
// is only counted for confirmed verdicts; the other statuses carry no
// severity. A run with no artifacts summarizes to a full pass.
func Summarize(testRunID string, generatedAt time.Time, verdicts []contracts.Verdict) contracts.ReportSummary {
	summary := contracts.ReportSummary{
		TestRunID:      testRunID,
		GeneratedAt:    generatedAt,
		ArtifactCount:  len(verdicts),
		StatusCounts:   make(map[contracts.VerdictStatus]int),
		SeverityCounts: make(map[contracts.Severity]int),
		PassRate:       1,
		Evaluators:     make(map[string]contracts.EvaluatorRollup),
	}

	latencyTotals := make(map[string]float64)
	for _, v := range verdicts {
		summary.StatusCounts[v.Status]++
		if v.Status == contracts.VerdictConfirmed {
			summary.SeverityCounts[v.Severity]++
		}
		for _, j := range v.Judgments {
			rollup := summary.Evaluators[j.EvaluatorID]
			rollup.Judgments++
			if j.Detected {
				rollup.Detections++
			}
			rollup.TotalCostUSD += j.CostUSD
			latencyTotals[j.EvaluatorID] += float64(j.LatencyMS)
			summary.Evaluators[j.EvaluatorID] = rollup
		}
	}

	for id, rollup := range summary.Evaluators {
		if rollup.Judgments > 0 {
			rollup.MeanLatencyMS = latencyTotals[id] / float64(rollup.Judgments)
			summary.Evaluators[id] = rollup
		}
	}

	if len(verdicts) > 0 {
		confirmed := summary.StatusCounts[contracts.VerdictConfirmed]
		summary.PassRate = 1 - float64(confirmed)/float64(len(verdicts))
	}
	return summary
}
