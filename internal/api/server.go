package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/bridge"
	"github.com/JakeFAU/offline-catalog-worker/internal/dispatcher"
	"github.com/JakeFAU/offline-catalog-worker/internal/metrics"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/prefetch"
	"github.com/JakeFAU/offline-catalog-worker/internal/router"
	"github.com/JakeFAU/offline-catalog-worker/internal/sessions"
)

const (
	defaultMaxBodyBytes = 1 << 20
	apiTimeout          = 60 * time.Second
)

// Bridge is the client bridge as seen by the HTTP layer.
type Bridge interface {
	HandleMessage(ctx context.Context, env bridge.Envelope) offline.Message
	HandlePush(ctx context.Context, body []byte) (offline.QueuedNotification, error)
	NotificationClick(ctx context.Context, click bridge.Click) (bridge.ClickResult, error)
	NotificationClosed(ctx context.Context, tag string) bool
}

// Notifications lists what the display surface currently shows.
type Notifications interface {
	List() []offline.DisplayedNotification
}

// Trigger runs a periodic sync on demand.
type Trigger interface {
	Fire(ctx context.Context, tag string) (dispatcher.Result, error)
}

// Sessions is the session registry.
type Sessions interface {
	Connect(url string, state sessions.State) (*sessions.Session, error)
	Get(id string) (*sessions.Session, bool)
	SetState(id string, state sessions.State) error
	Unregister(id string)
	List() []*sessions.Session
}

// Router answers intercepted resource requests.
type Router interface {
	Handle(ctx context.Context, req offline.Request) (router.Result, error)
}

// Installer runs the install and activate lifecycle steps.
type Installer interface {
	Install(ctx context.Context) (prefetch.InstallReport, error)
	Activate(ctx context.Context) ([]string, error)
}

// Deps are the collaborators the handlers call into. Any of them may be nil;
// the matching routes then answer 503.
type Deps struct {
	Bridge        Bridge
	Notifications Notifications
	Trigger       Trigger
	Sessions      Sessions
	Router        Router
	Installer     Installer
	// Ready reports whether downstream stores answer.
	Ready func(ctx context.Context) error
}

// Config controls the HTTP surface.
type Config struct {
	// Origin is the absolute scope URL intercepted paths are resolved against.
	Origin       string
	MaxBodyBytes int64
}

// Server wires HTTP handlers to the worker components.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Event streams stay open, so they sit outside the timeout group.
		r.Get("/sessions/{id}/events", s.sessionEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(apiTimeout))
			r.Post("/messages", s.postMessage)
			r.Post("/push", s.push)
			r.Get("/notifications", s.listNotifications)
			r.Post("/notifications/{tag}/click", s.clickNotification)
			r.Post("/notifications/{tag}/close", s.closeNotification)
			r.Post("/periodic-sync/{tag}", s.periodicSync)
			r.Get("/sessions", s.listSessions)
			r.Post("/sessions", s.createSession)
			r.Post("/sessions/{id}/state", s.updateSession)
			r.Delete("/sessions/{id}", s.deleteSession)
			r.Post("/install", s.install)
			r.Post("/activate", s.activate)
		})
	})

	r.NotFound(s.intercept)
	r.MethodNotAllowed(s.intercept)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) install(w http.ResponseWriter, r *http.Request) {
	if s.deps.Installer == nil {
		writeError(w, http.StatusServiceUnavailable, "installer unavailable")
		return
	}
	report, err := s.deps.Installer.Install(r.Context())
	if err != nil {
		s.logger.Error("install failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Installer == nil {
		writeError(w, http.StatusServiceUnavailable, "installer unavailable")
		return
	}
	removed, err := s.deps.Installer.Activate(r.Context())
	if err != nil {
		s.logger.Error("activate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
