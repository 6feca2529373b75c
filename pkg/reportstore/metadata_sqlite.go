package reportstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// SQLiteMetadata backs single-node deployments where no Postgres is
// configured. Timestamps are stored as RFC 3339 text.
type SQLiteMetadata struct {
	db *sql.DB
}

func NewSQLiteMetadata(db *sql.DB) (*SQLiteMetadata, error) {
	s := &SQLiteMetadata{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMetadata) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS report_jobs (
		report_id TEXT PRIMARY KEY,
		test_run_id TEXT NOT NULL,
		requested_formats TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		error TEXT NOT NULL DEFAULT '',
		artifact_refs TEXT,
		storage_locations TEXT,
		degraded INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_report_jobs_run ON report_jobs(test_run_id);
	CREATE INDEX IF NOT EXISTS idx_report_jobs_status_created ON report_jobs(status, created_at);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteMetadata) CreateJob(ctx context.Context, job contracts.ReportJob) error {
	formats, refs, locations, err := marshalJobColumns(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO report_jobs (report_id, test_run_id, requested_formats, status,
			created_at, completed_at, error, artifact_refs, storage_locations, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ReportID, job.TestRunID, string(formats), string(job.Status),
		job.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTimeText(job.CompletedAt),
		job.Error, string(refs), string(locations), job.Degraded,
	)
	if err != nil {
		return fmt.Errorf("insert report job: %w", err)
	}
	return nil
}

func (s *SQLiteMetadata) UpdateJob(ctx context.Context, job contracts.ReportJob) error {
	formats, refs, locations, err := marshalJobColumns(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_jobs
		SET requested_formats = ?, status = ?, completed_at = ?, error = ?,
			artifact_refs = ?, storage_locations = ?, degraded = ?
		WHERE report_id = ? AND status IN ('queued', 'processing')
	`
	res, err := s.db.ExecContext(ctx, query,
		string(formats), string(job.Status), nullableTimeText(job.CompletedAt), job.Error,
		string(refs), string(locations), job.Degraded, job.ReportID,
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
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM report_jobs WHERE report_id = ?`, job.ReportID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("report %s: %w", job.ReportID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("report %s: %w", job.ReportID, ErrTerminalState)
}

func (s *SQLiteMetadata) GetJob(ctx context.Context, reportID string) (contracts.ReportJob, error) {
	query := `
		SELECT report_id, test_run_id, requested_formats, status, created_at,
			completed_at, error, artifact_refs, storage_locations, degraded
		FROM report_jobs
		WHERE report_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, reportID)
	job, err := scanSQLiteJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.ReportJob{}, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	return job, err
}

func (s *SQLiteMetadata) ListJobs(ctx context.Context, filter Filter) ([]contracts.ReportJob, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.TestRunID != "" {
		clauses = append(clauses, "test_run_id = ?")
		args = append(args, filter.TestRunID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
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
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query report jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ReportJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows.Scan)
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

func scanSQLiteJob(scan func(dest ...any) error) (contracts.ReportJob, error) {
	var (
		job         contracts.ReportJob
		status      string
		createdAt   string
		completedAt sql.NullString
		formats     string
		refs        sql.NullString
		locations   sql.NullString
	)
	err := scan(&job.ReportID, &job.TestRunID, &formats, &status, &createdAt,
		&completedAt, &job.Error, &refs, &locations, &job.Degraded)
	if err != nil {
		return contracts.ReportJob{}, err
	}
	job.Status = contracts.JobStatus(status)
	job.CreatedAt = parseTime(createdAt)
	if completedAt.Valid && completedAt.String != "" {
		t := parseTime(completedAt.String)
		job.CompletedAt = &t
	}
	if err := unmarshalJobColumns(&job, []byte(formats), []byte(refs.String), []byte(locations.String)); err != nil {
		return contracts.ReportJob{}, err
	}
	return job, nil
}

func nullableTimeText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
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
