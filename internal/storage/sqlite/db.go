// Package sqlite persists cache tiers and the notification queue in SQLite
// through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS cache_tiers (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	tier      TEXT NOT NULL REFERENCES cache_tiers(name) ON DELETE CASCADE,
	url       TEXT NOT NULL,
	status    INTEGER NOT NULL,
	type      TEXT NOT NULL,
	header    TEXT NOT NULL DEFAULT '{}',
	body      BLOB,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (tier, url)
);
CREATE TABLE IF NOT EXISTS notification_queue (
	id              TEXT PRIMARY KEY,
	slug            TEXT,
	payload         TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	sent_at         INTEGER,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_queue_unsent_slug
	ON notification_queue (slug) WHERE sent_at IS NULL AND slug IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_notification_queue_unsent
	ON notification_queue (created_at, id) WHERE sent_at IS NULL;
`

type options struct {
	busyTimeout int
	synchronous string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout. Default: 10s.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = int(d / time.Millisecond) }
}

// WithSynchronous sets PRAGMA synchronous. Default: NORMAL.
func WithSynchronous(mode string) Option {
	return func(o *options) { o.synchronous = mode }
}

// dsn carries the pragmas as _pragma query parameters so the driver applies
// them to every pooled connection, not only the first.
func dsn(path string, cfg options) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.synchronous))
	return path + "?" + q.Encode()
}

// Open opens the database at path, applies the WAL pragmas and creates the
// schema. MemoryPath pins the pool to one connection so every query sees the
// same database.
func Open(ctx context.Context, path string, opts ...Option) (*sql.DB, error) {
	cfg := options{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}
