// Package render turns an assembled report document into its
// requested renditions. JSON is the canonical form, HTML is derived
// from it, and PDF is printed from the HTML through a headless
// browser pool.
package render

import (
	"errors"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// ErrRender marks a rendition failure. Callers wrap it around the
// renderer's own error so the job record keeps the cause.
var ErrRender = errors.New("render failed")

// Document is the assembled report content every rendition derives
// from. Verdicts carry their full judgment sets so the HTML and PDF
// renditions can show evaluator rationales.
type Document struct {
	Summary  contracts.ReportSummary `json:"summary"`
	Verdicts []contracts.Verdict     `json:"verdicts"`
}
