package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// parseDay reads ?day=YYYY-MM-DD, defaulting to today on the kiosk clock.
// The kiosk's local timezone is the attendance day boundary.
func (s *Server) parseDay(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("day")
	if raw == "" {
		return s.cfg.Clock.Now(), nil
	}
	return time.ParseInLocation("2006-01-02", raw, time.Local)
}

// GET /api/v1/subjects/{id}/records?day=YYYY-MM-DD
func (s *Server) handleSubjectRecords(w http.ResponseWriter, r *http.Request) {
	subjectID := mux.Vars(r)["id"]

	day, err := s.parseDay(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid day, want YYYY-MM-DD")
		return
	}

	records, err := s.cfg.Store.ListForSubjectOn(r.Context(), subjectID, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject_id": subjectID,
		"day":        day.Format("2006-01-02"),
		"count":      len(records),
		"records":    records,
	})
}

// GET /api/v1/records?day=YYYY-MM-DD — the whole station's day.
func (s *Server) handleDayRecords(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDay(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid day, want YYYY-MM-DD")
		return
	}

	records, err := s.cfg.Store.ListOn(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"day":     day.Format("2006-01-02"),
		"count":   len(records),
		"records": records,
	})
}
