// Package bridge implements the message contract between the worker and its
// client sessions, plus the push and notification interaction inputs.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/dispatcher"
	"github.com/JakeFAU/offline-catalog-worker/internal/lifecycle"
	"github.com/JakeFAU/offline-catalog-worker/internal/metrics"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// Message types.
const (
	TypeEnqueue    = "ENQUEUE_NOTIFICATION"
	TypeShow       = "SHOW_NOTIFICATION"
	TypeListCaches = "LIST_CACHES"
	TypeListResult = "LIST_CACHES_RESULT"
	TypeClick      = "NOTIFICATION_CLICK"
	suffixOK       = "_OK"
	suffixError    = "_ERROR"
	unnamedType    = "MESSAGE"
)

// ErrUnknownMessage is reported for message types the bridge does not handle.
var ErrUnknownMessage = errors.New("unknown message type")

// Envelope is an inbound client message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Dispatcher is the notification dispatcher as seen by the bridge.
type Dispatcher interface {
	ProcessQueue(ctx context.Context) dispatcher.Result
	ShowNotification(ctx context.Context, payload offline.NotificationPayload) error
	DeepLink(slug string) string
}

// CacheLister enumerates cache tier names.
type CacheLister interface {
	Names(ctx context.Context) ([]string, error)
}

// Dismisser removes a displayed notification.
type Dismisser interface {
	Dismiss(tag string) (offline.DisplayedNotification, bool)
}

// Config is fixed at construction.
type Config struct {
	AppName string
}

// Bridge routes client messages and notification events.
type Bridge struct {
	queue      offline.QueueStore
	dispatcher Dispatcher
	caches     CacheLister
	sessions   offline.Sessions
	surface    Dismisser
	group      *lifecycle.Group
	cfg        Config
	logger     *zap.Logger
}

// New builds a Bridge.
func New(
	queue offline.QueueStore,
	d Dispatcher,
	caches CacheLister,
	sessions offline.Sessions,
	surface Dismisser,
	group *lifecycle.Group,
	cfg Config,
	logger *zap.Logger,
) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AppName == "" {
		cfg.AppName = dispatcher.DefaultAppName
	}
	return &Bridge{
		queue:      queue,
		dispatcher: d,
		caches:     caches,
		sessions:   sessions,
		surface:    surface,
		group:      group,
		cfg:        cfg,
		logger:     logger.Named("bridge"),
	}
}

// HandleMessage processes one client message and returns the reply.
func (b *Bridge) HandleMessage(ctx context.Context, env Envelope) offline.Message {
	switch env.Type {
	case TypeEnqueue:
		payload, err := decodePayload(env.Payload)
		if err != nil {
			return errorReply(env.Type, err)
		}
		rec, err := b.Enqueue(ctx, payload)
		if err != nil {
			return errorReply(env.Type, err)
		}
		return offline.Message{Type: env.Type + suffixOK, Payload: map[string]string{"id": rec.ID}}
	case TypeShow:
		payload, err := decodePayload(env.Payload)
		if err != nil {
			return errorReply(env.Type, err)
		}
		if err := b.dispatcher.ShowNotification(ctx, payload); err != nil {
			b.logger.Warn("direct display failed", zap.Error(err))
			return errorReply(env.Type, err)
		}
		metrics.ObserveNotification("shown")
		return offline.Message{Type: env.Type + suffixOK}
	case TypeListCaches:
		keys, err := b.caches.Names(ctx)
		if err != nil {
			return errorReply(env.Type, err)
		}
		if keys == nil {
			keys = []string{}
		}
		return offline.Message{Type: TypeListResult, Payload: map[string][]string{"keys": keys}}
	default:
		b.logger.Debug("unknown message", zap.String("type", env.Type))
		return errorReply(env.Type, ErrUnknownMessage)
	}
}

// Enqueue persists payload and starts a queue pass that outlives the caller.
func (b *Bridge) Enqueue(ctx context.Context, payload offline.NotificationPayload) (offline.QueuedNotification, error) {
	rec, err := b.queue.Enqueue(ctx, payload)
	if err != nil {
		return offline.QueuedNotification{}, err
	}
	b.processInBackground(ctx)
	return rec, nil
}

// HandlePush turns a push body into a queued notification. JSON bodies are
// decoded as payloads; anything else becomes the body text.
func (b *Bridge) HandlePush(ctx context.Context, body []byte) (offline.QueuedNotification, error) {
	payload, err := decodePayload(body)
	if err != nil {
		text := strings.ToValidUTF8(strings.TrimSpace(string(body)), "")
		payload = offline.NotificationPayload{Title: b.cfg.AppName, Body: text}
	}
	return b.Enqueue(ctx, payload)
}

func (b *Bridge) processInBackground(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	started := b.group.Go("process-queue", func() {
		b.dispatcher.ProcessQueue(bg)
	})
	if !started {
		b.logger.Info("worker draining, queue pass left for the next trigger")
	}
}

// Click describes a notification activation.
type Click struct {
	Tag    string
	Action string
	// Data is used when the notification is no longer on display.
	Data offline.NotificationData
}

// ClickResult reports how a click was routed.
type ClickResult struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
	Opened    bool   `json:"opened"`
}

// NotificationClick closes the notification and routes its deep link to an
// existing session, or opens a new one.
func (b *Bridge) NotificationClick(ctx context.Context, click Click) (ClickResult, error) {
	data := click.Data
	if shown, ok := b.surface.Dismiss(click.Tag); ok {
		data = shown.Options.Data
	}
	metrics.ObserveNotification("clicked")
	b.logger.Debug("notification clicked", zap.String("tag", click.Tag), zap.String("action", click.Action))

	link := data.URL
	if link == "" {
		link = b.dispatcher.DeepLink(data.Slug)
	}
	res := ClickResult{URL: link}
	msg := offline.Message{Type: TypeClick, Payload: offline.NotificationData{Slug: data.Slug, URL: link}}

	existing, err := b.sessions.MatchAll(ctx)
	if err != nil {
		b.logger.Warn("session lookup failed", zap.Error(err))
	}
	for _, s := range preferred(existing) {
		if err := s.Post(ctx, msg); err != nil {
			b.logger.Debug("session rejected click", zap.String("session_id", s.ID()), zap.Error(err))
			continue
		}
		if err := s.Focus(ctx); err != nil {
			b.logger.Debug("session focus failed", zap.String("session_id", s.ID()), zap.Error(err))
		}
		res.SessionID = s.ID()
		return res, nil
	}

	opened, err := b.sessions.Open(ctx, link)
	if err != nil {
		return res, fmt.Errorf("open session: %w", err)
	}
	res.SessionID, res.Opened = opened.ID(), true
	if err := opened.Post(ctx, msg); err != nil {
		b.logger.Warn("post click to new session failed", zap.String("session_id", opened.ID()), zap.Error(err))
	}
	return res, nil
}

// NotificationClosed records a dismissal. It has no queue effect.
func (b *Bridge) NotificationClosed(_ context.Context, tag string) bool {
	_, ok := b.surface.Dismiss(tag)
	metrics.ObserveNotification("closed")
	b.logger.Debug("notification closed", zap.String("tag", tag), zap.Bool("displayed", ok))
	return ok
}

// preferred orders sessions focused first, then visible, keeping their
// relative order otherwise.
func preferred(sessions []offline.Session) []offline.Session {
	rank := func(s offline.Session) int {
		switch {
		case s.Focused():
			return 0
		case s.Visible():
			return 1
		default:
			return 2
		}
	}
	out := make([]offline.Session, 0, len(sessions))
	for r := 0; r <= 2; r++ {
		for _, s := range sessions {
			if rank(s) == r {
				out = append(out, s)
			}
		}
	}
	return out
}

func decodePayload(raw []byte) (offline.NotificationPayload, error) {
	var payload offline.NotificationPayload
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return payload, errors.New("payload must be a JSON object")
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func errorReply(msgType string, err error) offline.Message {
	if msgType == "" {
		msgType = unnamedType
	}
	return offline.Message{Type: msgType + suffixError, Payload: map[string]string{"error": err.Error()}}
}
