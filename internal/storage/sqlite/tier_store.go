package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// TierStore keeps cache tiers as rows in cache_tiers and cache_entries.
type TierStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTierStore wraps an opened database.
func NewTierStore(db *sql.DB) *TierStore {
	return &TierStore{db: db, now: time.Now}
}

// Open registers the tier if needed and returns a handle.
func (s *TierStore) Open(ctx context.Context, name string) (offline.Tier, error) {
	if name == "" {
		return nil, fmt.Errorf("tier name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_tiers (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, millis(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("register tier %s: %w", name, err)
	}
	return &Tier{db: s.db, name: name, now: s.now}, nil
}

// Names lists registered tiers.
func (s *TierStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_tiers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tiers: %w", err)
	}
	return names, nil
}

// Delete removes the tier; entries go with it through the cascade.
func (s *TierStore) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete tier %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE tier = ?`, name); err != nil {
		return fmt.Errorf("delete tier %s entries: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tiers WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete tier %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete tier %s: %w", name, err)
	}
	return nil
}

// Tier is a handle onto one registered tier.
type Tier struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

// Name returns the tier name.
func (t *Tier) Name() string {
	return t.name
}

// Match loads the stored response for url.
func (t *Tier) Match(ctx context.Context, url string) (*offline.Response, error) {
	var (
		resp     offline.Response
		typ      string
		header   string
		storedAt int64
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT status, type, header, body, stored_at FROM cache_entries WHERE tier = ? AND url = ?`,
		t.name, url,
	).Scan(&resp.StatusCode, &typ, &header, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", url, err)
	}
	resp.URL = url
	resp.Type = offline.ResponseType(typ)
	resp.StoredAt = fromMillis(storedAt)
	resp.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode header for %s: %w", url, err)
	}
	return &resp, nil
}

// Put upserts the entry for url. A deleted tier yields ErrTierClosed.
func (t *Tier) Put(ctx context.Context, url string, resp *offline.Response) error {
	if resp == nil {
		return fmt.Errorf("put %s: nil response", url)
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header for %s: %w", url, err)
	}
	typ := resp.Type
	if typ == "" {
		typ = offline.ResponseBasic
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = t.now()
	}
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO cache_entries (tier, url, status, type, header, body, stored_at)
		SELECT ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM cache_tiers WHERE name = ?)
		ON CONFLICT(tier, url) DO UPDATE SET
			status = excluded.status,
			type = excluded.type,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		t.name, url, resp.StatusCode, string(typ), string(header), resp.Body, millis(storedAt), t.name,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", url, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return offline.ErrTierClosed
	}
	return nil
}

// Delete removes the entry for url.
func (t *Tier) Delete(ctx context.Context, url string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE tier = ? AND url = ?`, t.name, url); err != nil {
		return fmt.Errorf("delete %s: %w", url, err)
	}
	return nil
}

// Keys lists stored URLs.
func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT url FROM cache_entries WHERE tier = ? ORDER BY url`, t.name)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
