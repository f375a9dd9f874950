// Package sessions tracks connected client sessions and delivers bridge
// messages to them over server-sent event streams.
//
// Sessions are owned by the clients: the hub registers them when a client
// connects and forgets them when its stream ends, but never closes one on
// its own initiative. Opening a new session is delegated to a Launcher
// supplied by the session host.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

var (
	// ErrNoLauncher is returned by Open when the host cannot open sessions.
	ErrNoLauncher = errors.New("sessions: no launcher configured")
	// ErrSessionGone is returned when posting to a session that disconnected.
	ErrSessionGone = errors.New("sessions: session gone")
)

const (
	defaultBufferSize = 64
	dropLogInterval   = 5 * time.Second
)

// Launcher asks the session host to open a new session at url.
type Launcher interface {
	Launch(ctx context.Context, url string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, url string) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Config controls a Hub.
//   - Scope: origin sessions must share to be matched.
//   - BufferSize: per-session pending message capacity (default 64).
type Config struct {
	Scope      string
	BufferSize int
}

// Hub implements offline.Sessions.
type Hub struct {
	cfg         Config
	ids         offline.IDGenerator
	launcher    Launcher
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

// NewHub builds a Hub. launcher may be nil, in which case Open fails with
// ErrNoLauncher.
func NewHub(cfg Config, ids offline.IDGenerator, launcher Launcher, logger *zap.Logger) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:         cfg,
		ids:         ids,
		launcher:    launcher,
		logger:      logger.Named("sessions"),
		dropLimiter: rateLimiter{interval: dropLogInterval},
		sessions:    make(map[string]*Session),
	}
}

// State is the client-reported visibility of a session.
type State struct {
	Visible bool
	Focused bool
}

func (h *Hub) register(url string, state State, claimed bool) (*Session, error) {
	id, err := h.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}
	s := &Session{
		id:     id,
		url:    url,
		hub:    h,
		events: make(chan offline.Message, h.cfg.BufferSize),
		done:   make(chan struct{}),
	}
	s.visible.Store(state.Visible)
	s.focused.Store(state.Focused)
	s.claimed.Store(claimed)

	h.mu.Lock()
	h.sessions[id] = s
	h.order = append(h.order, id)
	h.mu.Unlock()
	if state.Focused {
		h.blurOthers(id)
	}
	h.logger.Debug("session registered", zap.String("session_id", id), zap.String("url", url))
	return s, nil
}

// Unregister forgets the session; later posts to it fail with ErrSessionGone.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
		h.order = slices.DeleteFunc(h.order, func(v string) bool { return v == id })
	}
	h.mu.Unlock()
	if ok {
		s.close()
		h.logger.Debug("session unregistered", zap.String("session_id", id))
	}
}

// Get returns the session with id.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// SetState records the client-reported visibility of a session.
func (h *Hub) SetState(id string, state State) error {
	s, ok := h.Get(id)
	if !ok {
		return fmt.Errorf("set state %s: %w", id, ErrSessionGone)
	}
	s.visible.Store(state.Visible)
	s.focused.Store(state.Focused)
	if state.Focused {
		h.blurOthers(id)
	}
	return nil
}

// List returns every registered session in registration order.
func (h *Hub) List() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.sessions[id])
	}
	return out
}

// MatchAll returns the sessions sharing the scope origin, including ones
// that have not been claimed.
func (h *Hub) MatchAll(_ context.Context) ([]offline.Session, error) {
	var out []offline.Session
	for _, s := range h.List() {
		if h.cfg.Scope == "" || offline.SameOrigin(s.url, h.cfg.Scope) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Connect registers the client at url. A session opened for the same URL
// and not yet connected is claimed instead, so messages posted to it before
// the client arrived are delivered.
func (h *Hub) Connect(url string, state State) (*Session, error) {
	for _, s := range h.List() {
		if s.url == url && s.claimed.CompareAndSwap(false, true) {
			if err := h.SetState(s.id, state); err != nil {
				return nil, err
			}
			h.logger.Debug("pending session claimed", zap.String("session_id", s.id))
			return s, nil
		}
	}
	return h.register(url, state, true)
}

// Open asks the launcher for a new session at url. The returned session
// buffers messages until its client connects.
func (h *Hub) Open(ctx context.Context, url string) (offline.Session, error) {
	if h.launcher == nil {
		return nil, ErrNoLauncher
	}
	s, err := h.register(url, State{Visible: true, Focused: true}, false)
	if err != nil {
		return nil, err
	}
	if err := h.launcher.Launch(ctx, url); err != nil {
		h.Unregister(s.id)
		return nil, fmt.Errorf("launch session: %w", err)
	}
	return s, nil
}

// Broadcast posts msg to every session and returns how many accepted it.
func (h *Hub) Broadcast(ctx context.Context, msg offline.Message) int {
	delivered := 0
	for _, s := range h.List() {
		if err := s.Post(ctx, msg); err == nil {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) blurOthers(id string) {
	for _, s := range h.List() {
		if s.id != id {
			s.focused.Store(false)
		}
	}
}

func (h *Hub) noteDrop(id string) {
	h.dropped.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		count := h.dropped.Swap(0)
		h.logger.Warn("session messages dropped due to backpressure",
			zap.String("session_id", id), zap.Int64("dropped", count))
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
