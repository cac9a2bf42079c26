package api

import "net/http"

// GET /api/v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Settings.Current())
}

// PUT /api/v1/settings — partial updates: the body overlays the current
// snapshot, so operators send only the fields they change. The swap is a
// runtime override; a watched source reasserts itself on its next change.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	next := s.cfg.Settings.Current()
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := next.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	changed := s.cfg.Settings.Swap(next)
	if changed {
		s.logger.Printf("🔄 Settings updated via API")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updated":  changed,
		"settings": next,
	})
}
