package render

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

const reportTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Validation Report {{.TestRunID}}</title>
    <style>
        :root { --bg: #0a0a0a; --card: #161616; --text: #ededed; --accent: #0070f3; --border: #333; --success: #4caf50; --fail: #f44336; --warn: #ff9800; }
        body { margin: 0 auto; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: var(--bg); color: var(--text); padding: 24px; max-width: 960px; line-height: 1.5; }
        h1 { font-size: 1.4rem; margin-bottom: 0.25rem; }
        .meta { color: #888; font-size: 0.85rem; margin-bottom: 1.5rem; }
        .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 1rem; margin-bottom: 2rem; }
        .card { background: var(--card); border: 1px solid var(--border); border-radius: 6px; padding: 1rem; }
        .card .label { color: #888; font-size: 0.8rem; text-transform: uppercase; }
        .card .value { font-size: 1.6rem; font-weight: 600; }
        table { width: 100%; border-collapse: collapse; font-size: 0.85rem; }
        th { text-align: left; color: #888; border-bottom: 1px solid var(--border); padding: 8px; }
        td { border-bottom: 1px solid #222; padding: 8px; vertical-align: top; }
        .status-confirmed { color: var(--fail); font-weight: bold; }
        .status-rejected { color: var(--success); }
        .status-inconclusive { color: var(--warn); }
        .severity { font-family: monospace; text-transform: uppercase; font-size: 0.75rem; }
        .rationale { color: #aaa; font-size: 0.8rem; }
    </style>
</head>
<body>
    <h1>Validation Report</h1>
    <div class="meta">Run {{.TestRunID}} &middot; generated {{.GeneratedAt}}</div>

    <div class="cards">
        <div class="card"><div class="label">Artifacts</div><div class="value">{{.ArtifactCount}}</div></div>
        <div class="card"><div class="label">Pass Rate</div><div class="value">{{.PassRate}}</div></div>
        <div class="card"><div class="label">Confirmed</div><div class="value">{{.Confirmed}}</div></div>
        <div class="card"><div class="label">Inconclusive</div><div class="value">{{.Inconclusive}}</div></div>
    </div>

    <table>
        <tr><th>Artifact</th><th>Status</th><th>Severity</th><th>Confidence</th><th>Agreement</th><th>Rationale</th></tr>
        {{range .Rows}}
        <tr>
            <td>{{.ArtifactID}}</td>
            <td class="status-{{.Status}}">{{.Status}}</td>
            <td class="severity">{{.Severity}}</td>
            <td>{{.Confidence}}</td>
            <td>{{.Agreement}}</td>
            <td class="rationale">{{.Rationale}}</td>
        </tr>
        {{end}}
    </table>
</body>
</html>
`

type htmlRow struct {
	ArtifactID string
	Status     contracts.VerdictStatus
	Severity   contracts.Severity
	Confidence string
	Agreement  string
	Rationale  string
}

type htmlView struct {
	TestRunID     string
	GeneratedAt   string
	ArtifactCount int
	PassRate      string
	Confirmed     int
	Inconclusive  int
	Rows          []htmlRow
}

// HTMLRenderer renders the human-readable rendition. All verdict
// fields pass through html/template, so evaluator rationales cannot
// inject markup.
type HTMLRenderer struct {
	tmpl *template.Template
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl}, nil
}

func (r *HTMLRenderer) Render(doc Document) ([]byte, error) {
	view := htmlView{
		TestRunID:     doc.Summary.TestRunID,
		GeneratedAt:   doc.Summary.GeneratedAt.UTC().Format(time.RFC3339),
		ArtifactCount: doc.Summary.ArtifactCount,
		PassRate:      fmt.Sprintf("%.1f%%", doc.Summary.PassRate*100),
		Confirmed:     doc.Summary.StatusCounts[contracts.VerdictConfirmed],
		Inconclusive:  doc.Summary.StatusCounts[contracts.VerdictInconclusive],
	}
	for _, v := range doc.Verdicts {
		view.Rows = append(view.Rows, htmlRow{
			ArtifactID: v.ArtifactID,
			Status:     v.Status,
			Severity:   v.Severity,
			Confidence: fmt.Sprintf("%.3f", v.AggregateConfidence),
			Agreement:  fmt.Sprintf("%d/%d", v.AgreeingEvaluators, v.TotalEvaluators),
			Rationale:  primaryRationale(v),
		})
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("execute report template: %w", err)
	}
	return buf.Bytes(), nil
}

// primaryRationale picks the rationale shown in the table row: the
// first detecting judgment's, or the first judgment's when nothing
// detected.
func primaryRationale(v contracts.Verdict) string {
	for _, j := range v.Judgments {
		if j.Detected && j.Rationale != "" {
			return j.Rationale
		}
	}
	if len(v.Judgments) > 0 {
		return v.Judgments[0].Rationale
	}
	return ""
}
