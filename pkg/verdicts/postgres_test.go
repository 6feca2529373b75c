package verdicts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/visiongate/visiongate/pkg/contracts"
)

func TestPostgresStore_RecordArtifact(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	ctx := context.Background()

	a := contracts.Artifact{
		ArtifactID:  "a1",
		TestRunID:   "run-1",
		Fingerprint: contracts.Fingerprint{0xDE, 0xAD},
		CapturedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO artifacts").
		WithArgs(a.ArtifactID, a.TestRunID, a.Fingerprint[:], a.CapturedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.RecordArtifact(ctx, a); err != nil {
		t.Errorf("record artifact: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_RecordVerdict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	v := mkVerdict("v1", "a1", now, contracts.VerdictConfirmed)
	v.Severity = contracts.SeverityMedium

	mock.ExpectExec("INSERT INTO verdicts").
		WithArgs(v.VerdictID, string(v.Status), string(v.Severity),
			v.AggregateConfidence, v.AgreeingEvaluators, v.TotalEvaluators,
			sqlmock.AnyArg(), v.CreatedAt, v.ArtifactID).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.RecordVerdict(ctx, v); err != nil {
		t.Errorf("record verdict: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_RecordVerdictWithoutArtifact(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	// INSERT ... SELECT matches no artifact row: zero rows affected.
	mock.ExpectExec("INSERT INTO verdicts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.RecordVerdict(context.Background(), mkVerdict("v1", "ghost", time.Now(), contracts.VerdictConfirmed))
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestPostgresStore_LatestVerdictsFoldsSupersessions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	judgments := []byte(`[{"evaluator_id":"e1","detected":true,"confidence":0.9,"latency_ms":120,"cost_usd":0.002}]`)

	cols := []string{"verdict_id", "artifact_id", "status", "severity", "aggregate_confidence",
		"agreeing_evaluators", "total_evaluators", "judgments", "created_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("v1", "a1", "inconclusive", "", 0.80, 1, 2, judgments, base).
		AddRow("v2", "a2", "rejected", "", 0.30, 0, 2, judgments, base.Add(time.Minute)).
		AddRow("v3", "a1", "confirmed", "medium", 0.92, 2, 2, judgments, base.Add(2*time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM verdicts").
		WithArgs("run-1", base.Add(time.Hour)).
		WillReturnRows(rows)

	latest, err := store.LatestVerdicts(context.Background(), "run-1", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("latest verdicts: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 folded verdicts, got %d", len(latest))
	}
	if latest[0].VerdictID != "v3" {
		t.Errorf("a1 should fold to v3, got %s", latest[0].VerdictID)
	}
	if latest[0].Severity != contracts.SeverityMedium {
		t.Errorf("severity lost in scan: %+v", latest[0])
	}
	if len(latest[0].Judgments) != 1 || latest[0].Judgments[0].EvaluatorID != "e1" {
		t.Errorf("judgments should round-trip through JSONB, got %+v", latest[0].Judgments)
	}
	if latest[1].VerdictID != "v2" {
		t.Errorf("a2 should fold to v2, got %s", latest[1].VerdictID)
	}
}

func TestPostgresStore_GetArtifactNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	mock.ExpectQuery("SELECT (.+) FROM artifacts").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"artifact_id", "test_run_id", "fingerprint", "captured_at"}))

	_, err = store.GetArtifact(context.Background(), "ghost")
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}
