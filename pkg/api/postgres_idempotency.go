package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key         TEXT PRIMARY KEY,
	status_code INTEGER NOT NULL,
	headers     JSONB NOT NULL DEFAULT '{}',
	body        BYTEA NOT NULL,
	cached_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_idempotency_cached_at ON idempotency_keys (cached_at);
`

// PostgresIdempotencyStore enforces idempotency durably, surviving
// process restarts. Replaces the in-memory store for multi-node
// deployments.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
	log *slog.Logger
}

// NewPostgresIdempotencyStore creates a PostgreSQL-backed store. Zero
// ttl means DefaultIdempotencyTTL.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration, log *slog.Logger) *PostgresIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresIdempotencyStore{db: db, ttl: ttl, log: log}
}

// Init creates the idempotency_keys table if needed.
func (s *PostgresIdempotencyStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, idempotencySchema)
	return err
}

func (s *PostgresIdempotencyStore) Check(ctx context.Context, key string) (*CachedResponse, bool) {
	var (
		statusCode int
		headersRaw []byte
		body       []byte
		cachedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &headersRaw, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	headers := make(http.Header)
	if err := json.Unmarshal(headersRaw, &headers); err != nil {
		headers = http.Header{"Content-Type": {"application/json"}}
	}

	return &CachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   cachedAt,
	}, true
}

func (s *PostgresIdempotencyStore) Set(ctx context.Context, key string, statusCode int, headers http.Header, body []byte) {
	headersRaw, err := json.Marshal(headers)
	if err != nil {
		headersRaw = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, status_code, headers, body, cached_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, headers = $3, body = $4, cached_at = NOW()`,
		key, statusCode, headersRaw, body,
	)
	if err != nil {
		s.log.Warn("idempotency key write failed", "key", key, "error", err)
	}
}

// Cleanup removes keys older than the TTL. Intended for a periodic
// caller; nothing schedules it here.
func (s *PostgresIdempotencyStore) Cleanup(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().Add(-s.ttl),
	)
}
