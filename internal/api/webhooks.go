package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiftgate/kiosk/internal/webhooks"
)

// GET /api/v1/webhooks
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs := s.cfg.Registry.ListAll()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(subs),
		"webhooks": subs,
	})
}

// POST /api/v1/webhooks
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL         string               `json:"url"`
		Events      []webhooks.EventType `json:"events"`
		Secret      string               `json:"secret,omitempty"`
		Description string               `json:"description,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := &webhooks.Subscription{
		URL:         req.URL,
		Events:      req.Events,
		Secret:      req.Secret,
		Description: req.Description,
	}
	if err := s.cfg.Registry.Register(sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// GET /api/v1/webhooks/{id}
func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.cfg.Registry.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// DELETE /api/v1/webhooks/{id}
func (s *Server) handleUnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Registry.Unregister(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
