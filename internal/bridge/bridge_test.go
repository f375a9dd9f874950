package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offline-catalog-worker/internal/clock/system"
	"github.com/JakeFAU/offline-catalog-worker/internal/dispatcher"
	"github.com/JakeFAU/offline-catalog-worker/internal/id/uuid"
	"github.com/JakeFAU/offline-catalog-worker/internal/lifecycle"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/queue"
	"github.com/JakeFAU/offline-catalog-worker/internal/sessions"
	"github.com/JakeFAU/offline-catalog-worker/internal/storage/memory"
	"github.com/JakeFAU/offline-catalog-worker/internal/surface"
)

const scope = "https://app.example/"

type staticNames []string

func (n staticNames) Names(context.Context) ([]string, error) { return n, nil }

type failingNames struct{}

func (failingNames) Names(context.Context) ([]string, error) { return nil, errors.New("storage gone") }

type rig struct {
	bridge  *Bridge
	queue   *queue.Store
	surface *surface.Surface
	hub     *sessions.Hub
	group   *lifecycle.Group
	opened  []string
}

func newRig(t *testing.T, launcher bool, caches CacheLister) *rig {
	t.Helper()
	clock := system.NewManual(time.UnixMilli(1700000000000))
	r := &rig{
		queue:   queue.New(memory.NewQueueStore(), clock, uuid.New(), nil),
		surface: surface.New(clock, nil),
		group:   lifecycle.New(nil),
	}
	var l sessions.Launcher
	if launcher {
		l = sessions.LauncherFunc(func(_ context.Context, url string) error {
			r.opened = append(r.opened, url)
			return nil
		})
	}
	r.hub = sessions.NewHub(sessions.Config{Scope: scope}, uuid.New(), l, nil)
	d := dispatcher.New(r.queue, r.surface, r.hub, nil, clock,
		dispatcher.Config{Scope: scope, Placeholder: scope + "asset/192.png"}, nil)
	r.bridge = New(r.queue, d, caches, r.hub, r.surface, r.group, Config{}, nil)
	return r
}

func envelope(t *testing.T, typ string, payload any) Envelope {
	t.Helper()
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = raw
	}
	return env
}

func TestEnqueueShowsTaggedNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(t, false, staticNames{})
	client, err := r.hub.Connect(scope, sessions.State{Visible: true})
	require.NoError(t, err)

	reply := r.bridge.HandleMessage(ctx, envelope(t, TypeEnqueue, offline.NotificationPayload{
		Title: "New episode",
		Data:  offline.NotificationData{Slug: "show-1"},
	}))
	require.Equal(t, "ENQUEUE_NOTIFICATION_OK", reply.Type)
	payload, ok := reply.Payload.(map[string]string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(payload["id"], "slug:show-1:1700000000000:"), payload["id"])
	r.group.Wait()

	shown := r.surface.List()
	require.Len(t, shown, 1)
	require.Equal(t, "slug-show-1", shown[0].Options.Tag)

	unsent, err := r.queue.ListUnsent(ctx)
	require.NoError(t, err)
	require.Empty(t, unsent)

	got, ok := r.hub.Get(client.ID())
	require.True(t, ok)
	require.NoError(t, got.Post(ctx, offline.Message{Type: "probe"}))
}

func TestEnqueueRejectsBadPayload(t *testing.T) {
	t.Parallel()

	r := newRig(t, false, staticNames{})
	reply := r.bridge.HandleMessage(context.Background(), Envelope{Type: TypeEnqueue, Payload: json.RawMessage(`"hi"`)})
	require.Equal(t, "ENQUEUE_NOTIFICATION_ERROR", reply.Type)
}

func TestShowBypassesQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(t, false, staticNames{})
	reply := r.bridge.HandleMessage(ctx, envelope(t, TypeShow, offline.NotificationPayload{Title: "Now", Body: "b"}))
	require.Equal(t, "SHOW_NOTIFICATION_OK", reply.Type)
	require.Len(t, r.surface.List(), 1)

	all, err := r.queue.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestListCaches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(t, false, staticNames{"tfstream-json-v1", "tfstream-shell-v1"})
	reply := r.bridge.HandleMessage(ctx, Envelope{Type: TypeListCaches})
	require.Equal(t, TypeListResult, reply.Type)
	require.Equal(t, map[string][]string{"keys": {"tfstream-json-v1", "tfstream-shell-v1"}}, reply.Payload)

	r = newRig(t, false, failingNames{})
	require.Equal(t, "LIST_CACHES_ERROR", r.bridge.HandleMessage(ctx, Envelope{Type: TypeListCaches}).Type)
}

func TestUnknownMessage(t *testing.T) {
	t.Parallel()

	r := newRig(t, false, staticNames{})
	reply := r.bridge.HandleMessage(context.Background(), Envelope{Type: "SELF_DESTRUCT"})
	require.Equal(t, "SELF_DESTRUCT_ERROR", reply.Type)
	require.Equal(t, map[string]string{"error": ErrUnknownMessage.Error()}, reply.Payload)

	require.Equal(t, "MESSAGE_ERROR", r.bridge.HandleMessage(context.Background(), Envelope{}).Type)
}

func TestHandlePush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(t, false, staticNames{})

	rec, err := r.bridge.HandlePush(ctx, []byte(`{"title":"Breaking","body":"news","data":{"slug":"news-1"}}`))
	require.NoError(t, err)
	require.Equal(t, "Breaking", rec.Payload.Title)

	rec, err = r.bridge.HandlePush(ctx, []byte("  plain words \n"))
	require.NoError(t, err)
	require.Equal(t, dispatcher.DefaultAppName, rec.Payload.Title)
	require.Equal(t, "plain words", rec.Payload.Body)
	r.group.Wait()

	require.Len(t, r.surface.List(), 2)
}

func TestClickFocusesExistingSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(t, true, staticNames{})
	background, err := r.hub.Connect(scope+"a", sessions.State{})
	require.NoError(t, err)
	visible, err := r.hub.Connect(scope+"b", sessions.State{Visible: true})
	require.NoError(t, err)
	_, err = r.hub.Connect("https://other.example/", sessions.State{Focused: true})
	require.NoError(t, err)

	require.NoError(t, r.surface.Display(ctx, "t", offline.NotificationOptions{
		Tag:  "slug-show-1",
		Data: offline.NotificationData{Slug: "show-1"},
	}))

	res, err := r.bridge.NotificationClick(ctx, Click{Tag: "slug-show-1"})
	require.NoError(t, err)
	require.Equal(t, ClickResult{URL: scope + "watch/show-1", SessionID: visible.ID()}, res)
	require.True(t, visible.Focused())
	require.False(t, background.Focused())
	require.Empty(t, r.opened)
	require.Empty(t, r.surface.List(), "click closes the notification")
}

func TestClickOpensSessionWhenNoneExist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(t, true, staticNames{})

	res, err := r.bridge.NotificationClick(ctx, Click{Tag: "gone", Data: offline.NotificationData{URL: scope + "promo"}})
	require.NoError(t, err)
	require.True(t, res.Opened)
	require.Equal(t, []string{scope + "promo"}, r.opened)

	s, ok := r.hub.Get(res.SessionID)
	require.True(t, ok)
	require.Equal(t, scope+"promo", s.URL())
}

func TestClickWithoutLauncherFails(t *testing.T) {
	t.Parallel()

	r := newRig(t, false, staticNames{})
	res, err := r.bridge.NotificationClick(context.Background(), Click{Tag: "x"})
	require.ErrorIs(t, err, sessions.ErrNoLauncher)
	require.Equal(t, scope, res.URL)
}

func TestNotificationClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(t, false, staticNames{})
	require.NoError(t, r.surface.Display(ctx, "t", offline.NotificationOptions{Tag: "n-1"}))
	require.True(t, r.bridge.NotificationClosed(ctx, "n-1"))
	require.False(t, r.bridge.NotificationClosed(ctx, "n-1"))
}
