package api

import (
	"net/http"

	"github.com/shiftgate/kiosk/internal/core"
)

// GET /api/v1/group
func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Engine.GroupStatus())
}

// POST /api/v1/group/mode
func (s *Server) handleGroupMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.cfg.Engine.SetGroupMode(r.Context(), req.Enabled)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOutcome(w, res)
}

// POST /api/v1/group/commit — location optional; without one the commit
// parks until the picker resolves.
func (s *Server) handleGroupCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location *core.Location `json:"location,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.cfg.Engine.CommitGroup(r.Context(), req.Location)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOutcome(w, res)
}

// POST /api/v1/group/clear
func (s *Server) handleGroupClear(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Engine.ClearGroup(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOutcome(w, res)
}
