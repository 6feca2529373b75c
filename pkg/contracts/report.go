package contracts

import (
	"errors"
	"time"
)

// ReportFormat names a rendered report representation.
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatHTML ReportFormat = "html"
	FormatPDF  ReportFormat = "pdf"
)

// ErrUnknownFormat is returned for a format outside json|html|pdf.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat validates and canonicalizes a report format string.
func ParseFormat(s string) (ReportFormat, error) {
	switch ReportFormat(s) {
	case FormatJSON, FormatHTML, FormatPDF:
		return ReportFormat(s), nil
	}
	return "", ErrUnknownFormat
}

// JobStatus is the lifecycle state of a report job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// StorageLocation records where one rendered format of a report lives.
type StorageLocation struct {
	Backend   string `json:"backend"`
	Path      string `json:"path"`
	Checksum  string `json:"checksum,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// ReportJob tracks one asynchronous report generation request from
// acceptance to a terminal state. Terminal jobs are immutable; a retry
// is a brand new job.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ReportJob struct {
	ReportID         string                           `json:"report_id"`
	TestRunID        string                           `json:"test_run_id"`
	RequestedFormats []ReportFormat                   `json:"requested_formats"`
	Status           JobStatus                        `json:"status"`
	CreatedAt        time.Time                        `json:"created_at"`
	CompletedAt      *time.Time                       `json:"completed_at,omitempty"`
	Error            string                           `json:"error,omitempty"`
	ArtifactRefs     []string                         `json:"artifact_refs,omitempty"`
	StorageLocations map[ReportFormat]StorageLocation `json:"storage_locations,omitempty"`

	// Degraded is set on reads served by the fallback cache while the
	// primary store is unavailable.
	Degraded bool `json:"degraded,omitempty"`
}

// EvaluatorRollup aggregates cost and latency per evaluator across a
// report's verdicts.
type EvaluatorRollup struct {
	Judgments     int     `json:"judgments"`
	Detections    int     `json:"detections"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	MeanLatencyMS float64 `json:"mean_latency_ms"`
}

// ReportSummary is the aggregate view computed during report assembly.
type ReportSummary struct {
	TestRunID      string                     `json:"test_run_id"`
	GeneratedAt    time.Time                  `json:"generated_at"`
	ArtifactCount  int                        `json:"artifact_count"`
	StatusCounts   map[VerdictStatus]int      `json:"status_counts"`
	SeverityCounts map[Severity]int           `json:"severity_counts"`
	PassRate       float64                    `json:"pass_rate"`
	Evaluators     map[string]EvaluatorRollup `json:"evaluators"`
}
