package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// MessageFocus asks the client to bring its window to the front.
const MessageFocus = "FOCUS"

const keepAliveInterval = 25 * time.Second

// Session is one connected (or launching) client. It implements offline.Session.
type Session struct {
	id      string
	url     string
	hub     *Hub
	events  chan offline.Message
	done    chan struct{}
	visible atomic.Bool
	focused atomic.Bool
	claimed atomic.Bool

	closeOnce sync.Once
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// URL returns the URL the session was opened at.
func (s *Session) URL() string { return s.url }

// Visible reports the last client-reported visibility.
func (s *Session) Visible() bool { return s.visible.Load() }

// Focused reports whether the session holds focus.
func (s *Session) Focused() bool { return s.focused.Load() }

// Focus marks the session focused and tells its client to raise itself.
func (s *Session) Focus(ctx context.Context) error {
	if err := s.Post(ctx, offline.Message{Type: MessageFocus}); err != nil {
		return err
	}
	s.focused.Store(true)
	s.visible.Store(true)
	s.hub.blurOthers(s.id)
	return nil
}

// Post queues msg for the client without blocking. A full buffer drops the
// message.
func (s *Session) Post(_ context.Context, msg offline.Message) error {
	select {
	case <-s.done:
		return fmt.Errorf("post to %s: %w", s.id, ErrSessionGone)
	default:
	}
	select {
	case s.events <- msg:
		return nil
	default:
		s.hub.noteDrop(s.id)
		return fmt.Errorf("post to %s: buffer full", s.id)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Stream writes queued messages to w as server-sent events until ctx ends
// or the session is unregistered.
func (s *Session) Stream(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream %s: response writer cannot flush", s.id)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "event: session\ndata: {\"id\":%q}\n\n", s.id); err != nil {
		return fmt.Errorf("stream %s: %w", s.id, err)
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return fmt.Errorf("stream %s: %w", s.id, err)
			}
			flusher.Flush()
		case msg := <-s.events:
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode message: %w", err)
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return fmt.Errorf("stream %s: %w", s.id, err)
			}
			flusher.Flush()
		}
	}
}
