// Package postgres provides the Postgres-backed notification queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "notification_queue"

// QueueStoreConfig controls the Postgres connection pool used for queue rows.
type QueueStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// QueueStore persists notification records in Postgres.
type QueueStore struct {
	pool  pool
	table string
}

// NewQueueStore connects to Postgres using cfg.
func NewQueueStore(ctx context.Context, cfg QueueStoreConfig) (*QueueStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("queue.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &QueueStore{pool: p, table: table}, nil
}

// NewQueueStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewQueueStoreWithPool(p pool, table string) (*QueueStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &QueueStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *QueueStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the queue table and its unsent indexes.
func (s *QueueStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id              TEXT PRIMARY KEY,
	slug            TEXT,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	sent_at         TIMESTAMPTZ,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_unsent_slug ON %[1]s (slug) WHERE sent_at IS NULL AND slug IS NOT NULL;
CREATE INDEX IF NOT EXISTS %[1]s_unsent ON %[1]s (created_at, id) WHERE sent_at IS NULL;`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

// Insert upserts rec. An unsent record with the same slug keeps its id and
// position and takes the new payload.
func (s *QueueStore) Insert(ctx context.Context, rec offline.QueuedNotification) (offline.QueuedNotification, error) {
	if rec.ID == "" {
		return offline.QueuedNotification{}, fmt.Errorf("record id is required")
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("marshal payload: %w", err)
	}
	var slug *string
	if rec.Payload.Data.Slug != "" {
		slug = &rec.Payload.Data.Slug
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, slug, payload, created_at, attempts)
VALUES ($1, $2, $3, $4, 0)
ON CONFLICT (slug) WHERE sent_at IS NULL AND slug IS NOT NULL DO UPDATE
SET payload = EXCLUDED.payload, attempts = 0, next_attempt_at = NULL
RETURNING id, payload, created_at, sent_at, attempts, next_attempt_at`, s.table)

	out, err := scanRecord(s.pool.QueryRow(ctx, query, rec.ID, slug, payload, rec.CreatedAt))
	if err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("insert notification: %w", err)
	}
	return out, nil
}

// NextUnsent returns the oldest unsent record or nil.
func (s *QueueStore) NextUnsent(ctx context.Context) (*offline.QueuedNotification, error) {
	query := fmt.Sprintf(`
SELECT id, payload, created_at, sent_at, attempts, next_attempt_at
FROM %s
WHERE sent_at IS NULL
ORDER BY created_at, id
LIMIT 1`, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next unsent: %w", err)
	}
	return &rec, nil
}

// ListUnsent returns unsent records in store order.
func (s *QueueStore) ListUnsent(ctx context.Context) ([]offline.QueuedNotification, error) {
	return s.list(ctx, "WHERE sent_at IS NULL")
}

// ListAll returns every record in store order.
func (s *QueueStore) ListAll(ctx context.Context) ([]offline.QueuedNotification, error) {
	return s.list(ctx, "")
}

// MarkSent stamps sent_at once.
func (s *QueueStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET sent_at = $1 WHERE id = $2 AND sent_at IS NULL`, s.table)
	if _, err := s.pool.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// RecordFailure bumps attempts and schedules the next attempt of an unsent record.
func (s *QueueStore) RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	query := fmt.Sprintf(
		`UPDATE %s SET attempts = attempts + 1, next_attempt_at = $1 WHERE id = $2 AND sent_at IS NULL`, s.table)
	if _, err := s.pool.Exec(ctx, query, nextAttempt, id); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (s *QueueStore) list(ctx context.Context, where string) ([]offline.QueuedNotification, error) {
	query := fmt.Sprintf(`
SELECT id, payload, created_at, sent_at, attempts, next_attempt_at
FROM %s
%s
ORDER BY created_at, id`, s.table, where)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []offline.QueuedNotification
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (offline.QueuedNotification, error) {
	var (
		rec     offline.QueuedNotification
		payload []byte
	)
	if err := row.Scan(&rec.ID, &payload, &rec.CreatedAt, &rec.SentAt, &rec.Attempts, &rec.NextAttemptAt); err != nil {
		return offline.QueuedNotification{}, err
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return rec, nil
}
