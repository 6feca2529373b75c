// Package metering tracks evaluation spend per test run. It records
// evaluator invocations, cache hits, and rendition production, and
// rolls them up into per-run cost with an estimate of what the
// fingerprint cache saved.
package metering

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyRunID is returned when a metering event has no test run ID.
	ErrEmptyRunID = errors.New("metering: test_run_id must not be empty")
	// ErrNegativeQuantity is returned when a metering event has a negative quantity.
	ErrNegativeQuantity = errors.New("metering: quantity must not be negative")
	// ErrNegativeCost is returned when a metering event has a negative cost.
	ErrNegativeCost = errors.New("metering: cost_usd must not be negative")
	// ErrInvalidEventType is returned when the event type is empty.
	ErrInvalidEventType = errors.New("metering: event_type must not be empty")
)

// EventType defines the type of metered event.
type EventType string

const (
	// EventEvaluation is one evaluator invocation against an artifact.
	EventEvaluation EventType = "evaluation"
	// EventCacheHit is one artifact served from the fingerprint cache.
	EventCacheHit EventType = "cache_hit"
	// EventRendition is one report rendition written to storage.
	EventRendition EventType = "rendition"
)

// Event represents a single metered usage event.
type Event struct {
	TestRunID   string    `json:"test_run_id"`
	EventType   EventType `json:"event_type"`
	EvaluatorID string    `json:"evaluator_id,omitempty"`
	Quantity    int64     `json:"quantity"`
	CostUSD     float64   `json:"cost_usd,omitempty"`
	LatencyMS   int64     `json:"latency_ms,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validate checks that the event has valid fields.
func (e Event) Validate() error {
	if e.TestRunID == "" {
		return ErrEmptyRunID
	}
	if e.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if e.CostUSD < 0 {
		return ErrNegativeCost
	}
	if e.EventType == "" {
		return ErrInvalidEventType
	}
	return nil
}

// Period defines a time range for usage aggregation.
type Period struct {
	Start time.Time
	End   time.Time
}

// DailyPeriod returns a Period for the current day.
func DailyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.Add(24 * time.Hour)}
}

// MonthlyPeriod returns a Period for the current month.
func MonthlyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return Period{Start: start, End: end}
}

// Usage contains aggregated spend for a test run.
type Usage struct {
	TestRunID string
	Period    Period
	// Counts holds event totals by type (evaluations run, cache hits,
	// renditions produced).
	Counts map[EventType]int64
	// CostUSD is the total evaluator spend in the period.
	CostUSD float64
	// EstimatedSavedUSD is what the cache hits would have cost at the
	// period's mean evaluation price. Zero when nothing was evaluated.
	EstimatedSavedUSD float64
	LastUpdate        time.Time
}

// Meter is the interface for recording and querying evaluation spend.
type Meter interface {
	// Record stores a usage event.
	Record(ctx context.Context, event Event) error

	// RecordBatch stores multiple events atomically.
	RecordBatch(ctx context.Context, events []Event) error

	// RunUsage retrieves aggregated spend for a test run in a period.
	RunUsage(ctx context.Context, testRunID string, period Period) (*Usage, error)
}

// estimateSavings prices cache hits at the mean evaluation cost.
func estimateSavings(counts map[EventType]int64, costUSD float64) float64 {
	evaluations := counts[EventEvaluation]
	hits := counts[EventCacheHit]
	if evaluations == 0 || hits == 0 {
		return 0
	}
	return float64(hits) * (costUSD / float64(evaluations))
}
