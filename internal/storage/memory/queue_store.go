package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// QueueStore provides an in-memory notification queue backend.
type QueueStore struct {
	mu      sync.RWMutex
	records map[string]offline.QueuedNotification
}

// NewQueueStore constructs a QueueStore.
func NewQueueStore() *QueueStore {
	return &QueueStore{records: make(map[string]offline.QueuedNotification)}
}

// Insert stores rec, replacing the payload of an unsent record with the same slug.
func (s *QueueStore) Insert(_ context.Context, rec offline.QueuedNotification) (offline.QueuedNotification, error) {
	if rec.ID == "" {
		return offline.QueuedNotification{}, errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slug := rec.Payload.Data.Slug; slug != "" {
		for id, existing := range s.records {
			if existing.Sent() || existing.Payload.Data.Slug != slug {
				continue
			}
			existing.Payload = rec.Payload
			existing.Attempts = 0
			existing.NextAttemptAt = nil
			s.records[id] = existing
			return copyRecord(existing), nil
		}
	}
	if _, exists := s.records[rec.ID]; exists {
		return offline.QueuedNotification{}, errors.New("record already exists")
	}
	rec.SentAt = nil
	s.records[rec.ID] = copyRecord(rec)
	return copyRecord(rec), nil
}

// NextUnsent returns the oldest unsent record or nil.
func (s *QueueStore) NextUnsent(ctx context.Context) (*offline.QueuedNotification, error) {
	unsent, err := s.ListUnsent(ctx)
	if err != nil || len(unsent) == 0 {
		return nil, err
	}
	return &unsent[0], nil
}

// ListUnsent returns unsent records in store order.
func (s *QueueStore) ListUnsent(_ context.Context) ([]offline.QueuedNotification, error) {
	return s.list(func(r offline.QueuedNotification) bool { return !r.Sent() }), nil
}

// ListAll returns every record in store order.
func (s *QueueStore) ListAll(_ context.Context) ([]offline.QueuedNotification, error) {
	return s.list(func(offline.QueuedNotification) bool { return true }), nil
}

// MarkSent sets sentAt once; sent or unknown records are left alone.
func (s *QueueStore) MarkSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Sent() {
		return nil
	}
	sentAt := at
	rec.SentAt = &sentAt
	s.records[id] = rec
	return nil
}

// RecordFailure bumps the attempt counter and schedules the next attempt.
func (s *QueueStore) RecordFailure(_ context.Context, id string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return offline.ErrNotFound
	}
	if rec.Sent() {
		return nil
	}
	next := nextAttempt
	rec.Attempts++
	rec.NextAttemptAt = &next
	s.records[id] = rec
	return nil
}

func (s *QueueStore) list(keep func(offline.QueuedNotification) bool) []offline.QueuedNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]offline.QueuedNotification, 0, len(s.records))
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b offline.QueuedNotification) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func copyRecord(rec offline.QueuedNotification) offline.QueuedNotification {
	out := rec
	if rec.SentAt != nil {
		t := *rec.SentAt
		out.SentAt = &t
	}
	if rec.NextAttemptAt != nil {
		t := *rec.NextAttemptAt
		out.NextAttemptAt = &t
	}
	if rec.Payload.Actions != nil {
		out.Payload.Actions = slices.Clone(rec.Payload.Actions)
	}
	return out
}
