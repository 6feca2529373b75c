package verdicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id TEXT PRIMARY KEY,
	test_run_id TEXT NOT NULL,
	fingerprint BYTEA NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_test_run ON artifacts(test_run_id);

CREATE TABLE IF NOT EXISTS verdicts (
	verdict_id TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	test_run_id TEXT NOT NULL,
	status TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT '',
	aggregate_confidence DOUBLE PRECISION NOT NULL,
	agreeing_evaluators INTEGER NOT NULL,
	total_evaluators INTEGER NOT NULL,
	judgments JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_run_created ON verdicts(test_run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_verdicts_artifact ON verdicts(artifact_id);
`

// PostgresStore is the durable verdict store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the necessary database tables.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("init verdict schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordArtifact(ctx context.Context, a contracts.Artifact) error {
	query := `
		INSERT INTO artifacts (artifact_id, test_run_id, fingerprint, captured_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (artifact_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, a.ArtifactID, a.TestRunID, a.Fingerprint[:], a.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, artifactID string) (contracts.Artifact, error) {
	query := `
		SELECT artifact_id, test_run_id, fingerprint, captured_at
		FROM artifacts
		WHERE artifact_id = $1
	`
	var (
		a  contracts.Artifact
		fp []byte
	)
	err := s.db.QueryRowContext(ctx, query, artifactID).Scan(&a.ArtifactID, &a.TestRunID, &fp, &a.CapturedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Artifact{}, ErrArtifactNotFound
		}
		return contracts.Artifact{}, err
	}
	copy(a.Fingerprint[:], fp)
	return a, nil
}

// RecordVerdict inserts the verdict, pulling the run ID from the parent
// artifact row so a verdict can never exist without its artifact.
func (s *PostgresStore) RecordVerdict(ctx context.Context, v contracts.Verdict) error {
	judgments, err := json.Marshal(v.Judgments)
	if err != nil {
		return fmt.Errorf("marshal judgments: %w", err)
	}

	query := `
		INSERT INTO verdicts (verdict_id, artifact_id, test_run_id, status, severity,
			aggregate_confidence, agreeing_evaluators, total_evaluators, judgments, created_at)
		SELECT $1, a.artifact_id, a.test_run_id, $2, $3, $4, $5, $6, $7, $8
		FROM artifacts a
		WHERE a.artifact_id = $9
	`
	res, err := s.db.ExecContext(ctx, query,
		v.VerdictID, string(v.Status), string(v.Severity),
		v.AggregateConfidence, v.AgreeingEvaluators, v.TotalEvaluators,
		judgments, v.CreatedAt, v.ArtifactID,
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

func (s *PostgresStore) LatestVerdicts(ctx context.Context, testRunID string, asOf time.Time) ([]contracts.Verdict, error) {
	query := `
		SELECT verdict_id, artifact_id, status, severity, aggregate_confidence,
			agreeing_evaluators, total_evaluators, judgments, created_at
		FROM verdicts
		WHERE test_run_id = $1 AND created_at <= $2
		ORDER BY created_at ASC, verdict_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, testRunID, asOf)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ordered, err := scanVerdicts(rows)
	if err != nil {
		return nil, err
	}
	return latestPerArtifact(ordered), nil
}

func (s *PostgresStore) VerdictHistory(ctx context.Context, artifactID string) ([]contracts.Verdict, error) {
	query := `
		SELECT verdict_id, artifact_id, status, severity, aggregate_confidence,
			agreeing_evaluators, total_evaluators, judgments, created_at
		FROM verdicts
		WHERE artifact_id = $1
		ORDER BY created_at DESC, verdict_id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, artifactID)
	if err != nil {
		return nil, fmt.Errorf("query verdict history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanVerdicts(rows)
}

func scanVerdicts(rows *sql.Rows) ([]contracts.Verdict, error) {
	var out []contracts.Verdict
	for rows.Next() {
		var (
			v         contracts.Verdict
			status    string
			severity  string
			judgments []byte
		)
		if err := rows.Scan(&v.VerdictID, &v.ArtifactID, &status, &severity,
			&v.AggregateConfidence, &v.AgreeingEvaluators, &v.TotalEvaluators,
			&judgments, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Status = contracts.VerdictStatus(status)
		v.Severity = contracts.Severity(severity)
		if len(judgments) > 0 {
			if err := json.Unmarshal(judgments, &v.Judgments); err != nil {
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
