package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

const queueColumns = `id, payload, created_at, sent_at, attempts, next_attempt_at`

// QueueStore is the SQLite notification queue backend.
type QueueStore struct {
	db *sql.DB
}

// NewQueueStore wraps an opened database.
func NewQueueStore(db *sql.DB) *QueueStore {
	return &QueueStore{db: db}
}

// Insert stores rec in one upsert. The partial unique index on unsent slugs
// turns a repeated slug into an in-place payload replacement.
func (s *QueueStore) Insert(ctx context.Context, rec offline.QueuedNotification) (offline.QueuedNotification, error) {
	if rec.ID == "" {
		return offline.QueuedNotification{}, errors.New("record id is required")
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("encode payload: %w", err)
	}
	var slug sql.NullString
	if rec.Payload.Data.Slug != "" {
		slug = sql.NullString{String: rec.Payload.Data.Slug, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notification_queue (id, slug, payload, created_at, attempts)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(slug) WHERE sent_at IS NULL AND slug IS NOT NULL DO UPDATE SET
			payload = excluded.payload,
			attempts = 0,
			next_attempt_at = NULL
		RETURNING `+queueColumns,
		rec.ID, slug, string(payload), millis(rec.CreatedAt),
	)
	out, err := scanRecord(row)
	if err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("insert notification %s: %w", rec.ID, err)
	}
	return out, nil
}

// NextUnsent returns the oldest unsent record or nil.
func (s *QueueStore) NextUnsent(ctx context.Context) (*offline.QueuedNotification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM notification_queue WHERE sent_at IS NULL ORDER BY created_at, id LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next unsent: %w", err)
	}
	return &rec, nil
}

// ListUnsent returns unsent records in store order.
func (s *QueueStore) ListUnsent(ctx context.Context) ([]offline.QueuedNotification, error) {
	return s.query(ctx,
		`SELECT `+queueColumns+` FROM notification_queue WHERE sent_at IS NULL ORDER BY created_at, id`)
}

// ListAll returns every record in store order.
func (s *QueueStore) ListAll(ctx context.Context) ([]offline.QueuedNotification, error) {
	return s.query(ctx, `SELECT `+queueColumns+` FROM notification_queue ORDER BY created_at, id`)
}

// MarkSent stamps sent_at once.
func (s *QueueStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue SET sent_at = ? WHERE id = ? AND sent_at IS NULL`, millis(at), id)
	if err != nil {
		return fmt.Errorf("mark sent %s: %w", id, err)
	}
	return nil
}

// RecordFailure bumps attempts and schedules the next attempt of an unsent record.
func (s *QueueStore) RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue SET attempts = attempts + 1, next_attempt_at = ? WHERE id = ? AND sent_at IS NULL`,
		millis(nextAttempt), id)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", id, err)
	}
	return nil
}

func (s *QueueStore) query(ctx context.Context, query string) ([]offline.QueuedNotification, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	var out []offline.QueuedNotification
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (offline.QueuedNotification, error) {
	var (
		rec       offline.QueuedNotification
		payload   string
		createdAt int64
		sentAt    sql.NullInt64
		nextAt    sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &payload, &createdAt, &sentAt, &rec.Attempts, &nextAt); err != nil {
		return offline.QueuedNotification{}, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("decode payload: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.SentAt = fromNullMillis(sentAt)
	rec.NextAttemptAt = fromNullMillis(nextAt)
	return rec, nil
}
