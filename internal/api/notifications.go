package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/bridge"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/sessions"
	"github.com/JakeFAU/offline-catalog-worker/internal/trigger"
)

type clickRequest struct {
	Action string                   `json:"action"`
	Data   offline.NotificationData `json:"data"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "bridge unavailable")
		return
	}
	var env bridge.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Bridge.HandleMessage(r.Context(), env))
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "bridge unavailable")
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	rec, err := s.deps.Bridge.HandlePush(r.Context(), body)
	if err != nil {
		s.logger.Error("push enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rec.ID})
}

func (s *Server) listNotifications(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Notifications == nil {
		writeError(w, http.StatusServiceUnavailable, "display surface unavailable")
		return
	}
	shown := s.deps.Notifications.List()
	if shown == nil {
		shown = []offline.DisplayedNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": shown})
}

func (s *Server) clickNotification(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "bridge unavailable")
		return
	}
	var req clickRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	res, err := s.deps.Bridge.NotificationClick(r.Context(), bridge.Click{
		Tag:    chi.URLParam(r, "tag"),
		Action: req.Action,
		Data:   req.Data,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, sessions.ErrNoLauncher) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"url": res.URL, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) closeNotification(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "bridge unavailable")
		return
	}
	displayed := s.deps.Bridge.NotificationClosed(r.Context(), chi.URLParam(r, "tag"))
	writeJSON(w, http.StatusOK, map[string]bool{"displayed": displayed})
}

func (s *Server) periodicSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "trigger unavailable")
		return
	}
	res, err := s.deps.Trigger.Fire(r.Context(), chi.URLParam(r, "tag"))
	switch {
	case errors.Is(err, trigger.ErrForeignTag):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trigger.ErrDraining):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}
