package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

func TestTierStorePutCopiesResponse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTierStore()
	tier, err := store.Open(ctx, "tfstream-thumbs-v1")
	require.NoError(t, err)

	resp := &offline.Response{URL: "https://cdn.example/a.jpg", StatusCode: 200, Body: []byte("jpeg")}
	require.NoError(t, tier.Put(ctx, resp.URL, resp))
	resp.Body[0] = 'J'

	got, err := tier.Match(ctx, resp.URL)
	require.NoError(t, err)
	require.Equal(t, "jpeg", string(got.Body))

	_, err = tier.Match(ctx, "https://cdn.example/missing.jpg")
	require.ErrorIs(t, err, offline.ErrNotFound)

	again, err := store.Open(ctx, "tfstream-thumbs-v1")
	require.NoError(t, err)
	require.Same(t, tier, again)
}

func TestTierStoreDeleteClosesHandles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTierStore()
	tier, err := store.Open(ctx, "old-v0")
	require.NoError(t, err)
	_, err = store.Open(ctx, "new-v1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "old-v0"))
	names, err := store.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"new-v1"}, names)

	_, err = tier.Match(ctx, "x")
	require.ErrorIs(t, err, offline.ErrTierClosed)
	require.ErrorIs(t, tier.Put(ctx, "x", &offline.Response{}), offline.ErrTierClosed)
}

func TestQueueStoreOrderAndSlugReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewQueueStore()
	base := time.Unix(1700000000, 0).UTC()

	first := offline.QueuedNotification{
		ID:        "slug:show-1:1",
		CreatedAt: base,
		Payload:   offline.NotificationPayload{Title: "v1", Data: offline.NotificationData{Slug: "show-1"}},
	}
	second := offline.QueuedNotification{
		ID:        "ts:2:abc",
		CreatedAt: base.Add(time.Second),
		Payload:   offline.NotificationPayload{Title: "other"},
	}
	_, err := store.Insert(ctx, second)
	require.NoError(t, err)
	_, err = store.Insert(ctx, first)
	require.NoError(t, err)
	require.NoError(t, store.RecordFailure(ctx, first.ID, base.Add(time.Minute)))

	replaced, err := store.Insert(ctx, offline.QueuedNotification{
		ID:        "slug:show-1:99",
		CreatedAt: base.Add(time.Hour),
		Payload:   offline.NotificationPayload{Title: "v2", Data: offline.NotificationData{Slug: "show-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, replaced.ID)
	require.Equal(t, "v2", replaced.Payload.Title)
	require.Zero(t, replaced.Attempts)
	require.Nil(t, replaced.NextAttemptAt)

	next, err := store.NextUnsent(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, first.ID, next.ID)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestQueueStoreMarkSentIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewQueueStore()
	base := time.Unix(1700000000, 0).UTC()
	_, err := store.Insert(ctx, offline.QueuedNotification{
		ID:        "slug:show-1:1",
		CreatedAt: base,
		Payload:   offline.NotificationPayload{Title: "t", Data: offline.NotificationData{Slug: "show-1"}},
	})
	require.NoError(t, err)

	require.NoError(t, store.MarkSent(ctx, "slug:show-1:1", base.Add(time.Minute)))
	require.NoError(t, store.MarkSent(ctx, "slug:show-1:1", base.Add(time.Hour)))
	require.NoError(t, store.MarkSent(ctx, "unknown", base))

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].SentAt.Equal(base.Add(time.Minute)))

	unsent, err := store.ListUnsent(ctx)
	require.NoError(t, err)
	require.Empty(t, unsent)

	// a sent slug does not absorb new notifications
	rec, err := store.Insert(ctx, offline.QueuedNotification{
		ID:        "slug:show-1:2",
		CreatedAt: base.Add(2 * time.Hour),
		Payload:   offline.NotificationPayload{Title: "t2", Data: offline.NotificationData{Slug: "show-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, "slug:show-1:2", rec.ID)
}
