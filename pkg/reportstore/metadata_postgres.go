package reportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS report_jobs (
	report_id TEXT PRIMARY KEY,
	test_run_id TEXT NOT NULL,
	requested_formats JSONB NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	error TEXT NOT NULL DEFAULT '',
	artifact_refs JSONB,
	storage_locations JSONB,
	degraded BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_report_jobs_run ON report_jobs(test_run_id);
CREATE INDEX IF NOT EXISTS idx_report_jobs_status_created ON report_jobs(status, created_at);
`

// PostgresMetadata is the durable report job store.
type PostgresMetadata struct {
	db *sql.DB
}

func NewPostgresMetadata(db *sql.DB) *PostgresMetadata {
	return &PostgresMetadata{db: db}
}

// Init creates the necessary database tables.
func (s *PostgresMetadata) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("init report schema: %w", err)
	}
	return nil
}

func (s *PostgresMetadata) CreateJob(ctx context.Context, job contracts.ReportJob) error {
	formats, refs, locations, err := marshalJobColumns(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO report_jobs (report_id, test_run_id, requested_formats, status,
			created_at, completed_at, error, artifact_refs, storage_locations, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ReportID, job.TestRunID, formats, string(job.Status),
		job.CreatedAt, nullableTime(job.CompletedAt), job.Error,
		refs, locations, job.Degraded,
	)
	if err != nil {
		return fmt.Errorf("insert report job: %w", err)
	}
	return nil
}

// UpdateJob only touches rows still in flight. A terminal row is left
// untouched and reported as ErrTerminalState.
func (s *PostgresMetadata) UpdateJob(ctx context.Context, job contracts.ReportJob) error {
	formats, refs, locations, err := marshalJobColumns(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_jobs
		SET requested_formats = $1, status = $2, completed_at = $3, error = $4,
			artifact_refs = $5, storage_locations = $6, degraded = $7
		WHERE report_id = $8 AND status IN ('queued', 'processing')
	`
	res, err := s.db.ExecContext(ctx, query,
		formats, string(job.Status), nullableTime(job.CompletedAt), job.Error,
		refs, locations, job.Degraded, job.ReportID,
	)
	if err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM report_jobs WHERE report_id = $1`, job.ReportID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("report %s: %w", job.ReportID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("report %s: %w", job.ReportID, ErrTerminalState)
}

func (s *PostgresMetadata) GetJob(ctx context.Context, reportID string) (contracts.ReportJob, error) {
	query := `
		SELECT report_id, test_run_id, requested_formats, status, created_at,
			completed_at, error, artifact_refs, storage_locations, degraded
		FROM report_jobs
		WHERE report_id = $1
	`
	row := s.db.QueryRowContext(ctx, query, reportID)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.ReportJob{}, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	return job, err
}

func (s *PostgresMetadata) ListJobs(ctx context.Context, filter Filter) ([]contracts.ReportJob, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.TestRunID != "" {
		args = append(args, filter.TestRunID)
		clauses = append(clauses, fmt.Sprintf("test_run_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM report_jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count report jobs: %w", err)
	}

	query := `
		SELECT report_id, test_run_id, requested_formats, status, created_at,
			completed_at, error, artifact_refs, storage_locations, degraded
		FROM report_jobs` + where + `
		ORDER BY created_at DESC, report_id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query report jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ReportJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// scanJob reads one report_jobs row through the shared column order.
func scanJob(scan func(dest ...any) error) (contracts.ReportJob, error) {
	var (
		job         contracts.ReportJob
		status      string
		completedAt sql.NullTime
		formats     []byte
		refs        []byte
		locations   []byte
	)
	err := scan(&job.ReportID, &job.TestRunID, &formats, &status, &job.CreatedAt,
		&completedAt, &job.Error, &refs, &locations, &job.Degraded)
	if err != nil {
		return contracts.ReportJob{}, err
	}
	job.Status = contracts.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if err := unmarshalJobColumns(&job, formats, refs, locations); err != nil {
		return contracts.ReportJob{}, err
	}
	return job, nil
}

func marshalJobColumns(job contracts.ReportJob) (formats, refs, locations []byte, err error) {
	formats, err = json.Marshal(job.RequestedFormats)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal requested formats: %w", err)
	}
	refs, err = json.Marshal(job.ArtifactRefs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal artifact refs: %w", err)
	}
	locations, err = json.Marshal(job.StorageLocations)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal storage locations: %w", err)
	}
	return formats, refs, locations, nil
}

func unmarshalJobColumns(job *contracts.ReportJob, formats, refs, locations []byte) error {
	if len(formats) > 0 {
		if err := json.Unmarshal(formats, &job.RequestedFormats); err != nil {
			return fmt.Errorf("unmarshal requested formats for %s: %w", job.ReportID, err)
		}
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &job.ArtifactRefs); err != nil {
			return fmt.Errorf("unmarshal artifact refs for %s: %w", job.ReportID, err)
		}
	}
	if len(locations) > 0 {
		if err := json.Unmarshal(locations, &job.StorageLocations); err != nil {
			return fmt.Errorf("unmarshal storage locations for %s: %w", job.ReportID, err)
		}
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
