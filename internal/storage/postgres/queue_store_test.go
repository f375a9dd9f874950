package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

var queueCols = []string{"id", "payload", "created_at", "sent_at", "attempts", "next_attempt_at"}

func TestNewQueueStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewQueueStoreWithPool(mock, "bad;table")
	require.Error(t, err)
	_, err = NewQueueStoreWithPool(nil, "")
	require.Error(t, err)

	store, err := NewQueueStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "notification_queue", store.table)
}

func TestInsertReturnsStoredRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueueStoreWithPool(mock, "notification_queue")
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	rec := offline.QueuedNotification{
		ID:        "slug:show-1:1700000000000",
		CreatedAt: created,
		Payload:   offline.NotificationPayload{Title: "New episode", Data: offline.NotificationData{Slug: "show-1"}},
	}

	mock.ExpectQuery("INSERT INTO notification_queue").
		WithArgs(rec.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), created).
		WillReturnRows(pgxmock.NewRows(queueCols).AddRow(
			"slug:show-1:1699999990000",
			[]byte(`{"title":"New episode","data":{"slug":"show-1"}}`),
			created.Add(-10*time.Second),
			(*time.Time)(nil),
			0,
			(*time.Time)(nil),
		))

	out, err := store.Insert(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "slug:show-1:1699999990000", out.ID)
	require.Equal(t, "New episode", out.Payload.Title)
	require.Nil(t, out.SentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextUnsentEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueueStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, payload").WillReturnRows(pgxmock.NewRows(queueCols))

	rec, err := store.NextUnsent(context.Background())
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnsentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueueStoreWithPool(mock, "")
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	next := created.Add(time.Minute)
	mock.ExpectQuery("WHERE sent_at IS NULL").WillReturnRows(pgxmock.NewRows(queueCols).
		AddRow("ts:1:a", []byte(`{"title":"a","data":{}}`), created, (*time.Time)(nil), 2, &next).
		AddRow("ts:2:b", []byte(`{"title":"b","data":{}}`), created.Add(time.Second), (*time.Time)(nil), 0, (*time.Time)(nil)))

	recs, err := store.ListUnsent(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, 2, recs[0].Attempts)
	require.True(t, next.Equal(*recs[0].NextAttemptAt))
	require.Equal(t, "b", recs[1].Payload.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentOnlyTouchesUnsent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewQueueStoreWithPool(mock, "")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE notification_queue SET sent_at").
		WithArgs(at, "ts:1:a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE notification_queue SET attempts").
		WithArgs(at, "ts:1:a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkSent(context.Background(), "ts:1:a", at))
	require.NoError(t, store.RecordFailure(context.Background(), "ts:1:a", at))
	require.NoError(t, mock.ExpectationsWereMet())
}
