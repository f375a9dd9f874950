// Package queue is the durable notification queue used by producers and the
// dispatcher. It derives record identities and delegates persistence to a
// backend (memory, SQLite or Postgres).
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// Suffixer produces the random tail of timestamp-derived ids.
type Suffixer interface {
	NewSuffix() (string, error)
}

// Store implements offline.QueueStore on top of a backend.
type Store struct {
	backend offline.QueueBackend
	clock   offline.Clock
	ids     Suffixer
	logger  *zap.Logger
}

// New wires a Store.
func New(backend offline.QueueBackend, clock offline.Clock, ids Suffixer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, clock: clock, ids: ids, logger: logger.Named("queue")}
}

// RecordID derives the id of a record created at createdAt. Slugged payloads
// get slug:<slug>:<ms>:<suffix>, the rest ts:<ms>:<suffix>. The suffix keeps a
// slug re-enqueued in the millisecond its predecessor was sent from colliding.
func RecordID(payload offline.NotificationPayload, createdAt time.Time, suffix string) string {
	ms := strconv.FormatInt(createdAt.UnixMilli(), 10)
	if slug := payload.Data.Slug; slug != "" {
		return "slug:" + slug + ":" + ms + ":" + suffix
	}
	return "ts:" + ms + ":" + suffix
}

// Enqueue persists payload as a new unsent record. An unsent record with the
// same slug is replaced in place and keeps its id and position.
func (s *Store) Enqueue(ctx context.Context, payload offline.NotificationPayload) (offline.QueuedNotification, error) {
	now := s.clock.Now()
	suffix, err := s.ids.NewSuffix()
	if err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("derive record id: %w", err)
	}
	rec := offline.QueuedNotification{
		ID:        RecordID(payload, now, suffix),
		Payload:   payload,
		CreatedAt: now,
	}
	stored, err := s.backend.Insert(ctx, rec)
	if err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("enqueue notification: %w", err)
	}
	s.logger.Debug("notification enqueued",
		zap.String("id", stored.ID),
		zap.Bool("replaced", stored.ID != rec.ID),
		zap.String("slug", payload.Data.Slug))
	return stored, nil
}

// NextUnsent returns the first unsent record in store order, or nil.
func (s *Store) NextUnsent(ctx context.Context) (*offline.QueuedNotification, error) {
	rec, err := s.backend.NextUnsent(ctx)
	if err != nil {
		return nil, fmt.Errorf("next unsent: %w", err)
	}
	return rec, nil
}

// ListUnsent returns the unsent records in store order.
func (s *Store) ListUnsent(ctx context.Context) ([]offline.QueuedNotification, error) {
	recs, err := s.backend.ListUnsent(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unsent: %w", err)
	}
	return recs, nil
}

// ListAll returns every record.
func (s *Store) ListAll(ctx context.Context) ([]offline.QueuedNotification, error) {
	recs, err := s.backend.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return recs, nil
}

// MarkSent moves the record to its terminal state. Repeated calls keep the
// first timestamp.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	if err := s.backend.MarkSent(ctx, id, s.clock.Now()); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// RecordFailure books a failed display attempt.
func (s *Store) RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	if err := s.backend.RecordFailure(ctx, id, nextAttempt); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
