package verdicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// SQLiteStore backs single-node deployments where no Postgres is
// configured. Timestamps are stored as RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id TEXT PRIMARY KEY,
		test_run_id TEXT NOT NULL,
		fingerprint BLOB NOT NULL,
		captured_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_test_run ON artifacts(test_run_id);

	CREATE TABLE IF NOT EXISTS verdicts (
		verdict_id TEXT PRIMARY KEY,
		artifact_id TEXT NOT NULL,
		test_run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT '',
		aggregate_confidence REAL NOT NULL,
		agreeing_evaluators INTEGER NOT NULL,
		total_evaluators INTEGER NOT NULL,
		judgments TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verdicts_run_created ON verdicts(test_run_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_verdicts_artifact ON verdicts(artifact_id);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) RecordArtifact(ctx context.Context, a contracts.Artifact) error {
	query := `
		INSERT INTO artifacts (artifact_id, test_run_id, fingerprint, captured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (artifact_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ArtifactID, a.TestRunID, a.Fingerprint[:], a.CapturedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, artifactID string) (contracts.Artifact, error) {
	query := `
		SELECT artifact_id, test_run_id, fingerprint, captured_at
		FROM artifacts
		WHERE artifact_id = ?
	`
	var (
		a          contracts.Artifact
		fp         []byte
		capturedAt string
	)
	err := s.db.QueryRowContext(ctx, query, artifactID).Scan(&a.ArtifactID, &a.TestRunID, &fp, &capturedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Artifact{}, ErrArtifactNotFound
		}
		return contracts.Artifact{}, err
	}
	copy(a.Fingerprint[:], fp)
	a.CapturedAt = parseTime(capturedAt)
	return a, nil
}

func (s *SQLiteStore) RecordVerdict(ctx context.Context, v contracts.Verdict) error {
	judgments, err := json.Marshal(v.Judgments)
	if err != nil {
		return fmt.Errorf("marshal judgments: %w", err)
	}

	query := `
		INSERT INTO verdicts (verdict_id, artifact_id, test_run_id, status, severity,
			aggregate_confidence, agreeing_evaluators, total_evaluators, judgments, created_at)
		SELECT ?, a.artifact_id, a.test_run_id, ?, ?, ?, ?, ?, ?, ?
		FROM artifacts a
		WHERE a.artifact_id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		v.VerdictID, string(v.Status), string(v.Severity),
		v.AggregateConfidence, v.AgreeingEvaluators, v.TotalEvaluators,
		string(judgments), v.CreatedAt.UTC().Format(time.RFC3339Nano), v.ArtifactID,
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("verdict %s: %w", v.VerdictID, ErrArtifactNotFound)
	}
	return nil
}

func (s *SQLiteStore) LatestVerdicts(ctx context.Context, testRunID string, asOf time.Time) ([]contracts.Verdict, error) {
	query := `
		SELECT verdict_id, artifact_id, status, severity, aggregate_confidence,
			agreeing_evaluators, total_evaluators, judgments, created_at
		FROM verdicts
		WHERE test_run_id = ? AND created_at <= ?
		ORDER BY created_at ASC, verdict_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, testRunID, asOf.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ordered, err := scanSQLiteVerdicts(rows)
	if err != nil {
		return nil, err
	}
	return latestPerArtifact(ordered), nil
}

func (s *SQLiteStore) VerdictHistory(ctx context.Context, artifactID string) ([]contracts.Verdict, error) {
	query := `
		SELECT verdict_id, artifact_id, status, severity, aggregate_confidence,
			agreeing_evaluators, total_evaluators, judgments, created_at
		FROM verdicts
		WHERE artifact_id = ?
		ORDER BY created_at DESC, verdict_id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, artifactID)
	if err != nil {
		return nil, fmt.Errorf("query verdict history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSQLiteVerdicts(rows)
}

func scanSQLiteVerdicts(rows *sql.Rows) ([]contracts.Verdict, error) {
	var out []contracts.Verdict
	for rows.Next() {
		var (
			v         contracts.Verdict
			status    string
			severity  string
			judgments string
			createdAt string
		)
		if err := rows.Scan(&v.VerdictID, &v.ArtifactID, &status, &severity,
			&v.AggregateConfidence, &v.AgreeingEvaluators, &v.TotalEvaluators,
			&judgments, &createdAt); err != nil {
			return nil, err
		}
		v.Status = contracts.VerdictStatus(status)
		v.Severity = contracts.Severity(severity)
		v.CreatedAt = parseTime(createdAt)
		if judgments != "" {
			if err := json.Unmarshal([]byte(judgments), &v.Judgments); err != nil {
				return nil, fmt.Errorf("unmarshal judgments for %s: %w", v.VerdictID, err)
			}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
