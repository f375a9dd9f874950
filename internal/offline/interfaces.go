package offline

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a tier entry or queue record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTierClosed is returned by a tier handle whose tier has been deleted.
	ErrTierClosed = errors.New("tier closed")
)

// Tier is one named persistent cache partition.
type Tier interface {
	Name() string
	// Match returns the stored response for url or ErrNotFound.
	Match(ctx context.Context, url string) (*Response, error)
	Put(ctx context.Context, url string, resp *Response) error
	Delete(ctx context.Context, url string) error
	Keys(ctx context.Context) ([]string, error)
}

// TierBackend stores tiers by name.
type TierBackend interface {
	Open(ctx context.Context, name string) (Tier, error)
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Fetcher performs a network fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// QueueBackend persists notification records. Every method is one atomic
// statement against the underlying engine.
type QueueBackend interface {
	// Insert stores rec. When rec carries a slug and an unsent record with the
	// same slug exists, that record's payload is replaced in place and returned.
	Insert(ctx context.Context, rec QueuedNotification) (QueuedNotification, error)
	NextUnsent(ctx context.Context) (*QueuedNotification, error)
	ListUnsent(ctx context.Context) ([]QueuedNotification, error)
	ListAll(ctx context.Context) ([]QueuedNotification, error)
	// MarkSent sets sentAt when unset; sent or unknown ids are left untouched.
	MarkSent(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error
}

// QueueStore is the notification queue as seen by producers and the dispatcher.
type QueueStore interface {
	Enqueue(ctx context.Context, payload NotificationPayload) (QueuedNotification, error)
	NextUnsent(ctx context.Context) (*QueuedNotification, error)
	ListUnsent(ctx context.Context) ([]QueuedNotification, error)
	ListAll(ctx context.Context) ([]QueuedNotification, error)
	MarkSent(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error
}

// Displayer is the notification display surface.
type Displayer interface {
	Display(ctx context.Context, title string, opts NotificationOptions) error
}

// Session is an externally owned client session.
type Session interface {
	ID() string
	URL() string
	Visible() bool
	Focused() bool
	Focus(ctx context.Context) error
	Post(ctx context.Context, msg Message) error
}

// Sessions looks up client sessions and asks the host to open new ones.
type Sessions interface {
	MatchAll(ctx context.Context) ([]Session, error)
	Open(ctx context.Context, url string) (Session, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used for derived identities.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces random identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
