package metering

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresMeter implements Meter with PostgreSQL storage.
type PostgresMeter struct {
	db *sql.DB
}

// NewPostgresMeter creates a new PostgreSQL-backed meter.
func NewPostgresMeter(db *sql.DB) *PostgresMeter {
	return &PostgresMeter{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS evaluation_events (
	id BIGSERIAL PRIMARY KEY,
	test_run_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	evaluator_id TEXT NOT NULL DEFAULT '',
	quantity BIGINT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evaluation_events_run_time ON evaluation_events(test_run_id, timestamp);
`

// Init creates the necessary database tables.
func (m *PostgresMeter) Init(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, schema)
	return err
}

// Record stores a single usage event.
func (m *PostgresMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO evaluation_events (test_run_id, event_type, evaluator_id, quantity, cost_usd, latency_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TestRunID, event.EventType, event.EvaluatorID, event.Quantity, event.CostUSD, event.LatencyMS, event.Timestamp)

	if err != nil {
		return fmt.Errorf("metering: failed to record event: %w", err)
	}
	return nil
}

// RecordBatch stores multiple events in a single transaction.
func (m *PostgresMeter) RecordBatch(ctx context.Context, events []Event) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metering: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evaluation_events (test_run_id, event_type, evaluator_id, quantity, cost_usd, latency_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("metering: failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, event := range events {
		if err := event.Validate(); err != nil {
			return err
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}

		_, err := stmt.ExecContext(ctx, event.TestRunID, event.EventType, event.EvaluatorID,
			event.Quantity, event.CostUSD, event.LatencyMS, event.Timestamp)
		if err != nil {
			return fmt.Errorf("metering: failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// RunUsage retrieves aggregated spend for a test run.
func (m *PostgresMeter) RunUsage(ctx context.Context, testRunID string, period Period) (*Usage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT event_type, SUM(quantity) AS total, SUM(cost_usd) AS cost
		FROM evaluation_events
		WHERE test_run_id = $1 AND timestamp >= $2 AND timestamp < $3
		GROUP BY event_type
	`, testRunID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("metering: failed to query usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	usage := &Usage{
		TestRunID:  testRunID,
		Period:     period,
		Counts:     make(map[EventType]int64),
		LastUpdate: time.Now().UTC(),
	}

	for rows.Next() {
		var (
			eventType EventType
			total     int64
			cost      float64
		)
		if err := rows.Scan(&eventType, &total, &cost); err != nil {
			return nil, fmt.Errorf("metering: failed to scan row: %w", err)
		}
		usage.Counts[eventType] = total
		if eventType == EventEvaluation {
			usage.CostUSD += cost
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	usage.EstimatedSavedUSD = estimateSavings(usage.Counts, usage.CostUSD)
	return usage, nil
}
