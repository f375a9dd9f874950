package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/sessions"
)

type sessionRequest struct {
	URL     string `json:"url"`
	Visible bool   `json:"visible"`
	Focused bool   `json:"focused"`
}

type sessionDTO struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Visible bool   `json:"visible"`
	Focused bool   `json:"focused"`
}

func toSessionDTO(s *sessions.Session) sessionDTO {
	return sessionDTO{ID: s.ID(), URL: s.URL(), Visible: s.Visible(), Focused: s.Focused()}
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	all := s.deps.Sessions.List()
	out := make([]sessionDTO, 0, len(all))
	for _, sess := range all {
		out = append(out, toSessionDTO(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	sess, err := s.deps.Sessions.Connect(req.URL, sessions.State{Visible: req.Visible, Focused: req.Focused})
	if err != nil {
		s.logger.Error("session connect failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "connect failed")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(sess))
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Sessions.SetState(id, sessions.State{Visible: req.Visible, Focused: req.Focused}); err != nil {
		if errors.Is(err, sessions.ErrSessionGone) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess, ok := s.deps.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	s.deps.Sessions.Unregister(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// sessionEvents streams a session's messages until the client disconnects,
// then forgets the session.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	sess, ok := s.deps.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	defer s.deps.Sessions.Unregister(id)
	if err := sess.Stream(r.Context(), w); err != nil {
		s.logger.Debug("session stream ended", zap.String("session_id", id), zap.Error(err))
	}
}
