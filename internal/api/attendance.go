package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/engine"
	"github.com/shiftgate/kiosk/internal/intake"
	"github.com/shiftgate/kiosk/internal/shift"
)

// scanRequest is an identity submission from a terminal or badge reader.
// Exactly one of subject_id / code identifies the person.
type scanRequest struct {
	SubjectID string          `json:"subject_id,omitempty"`
	Code      string          `json:"code,omitempty"`
	Method    string          `json:"method"`
	Intent    string          `json:"intent,omitempty"`
	Location  *core.Location  `json:"location,omitempty"`
	Emergency *core.Emergency `json:"emergency,omitempty"`
}

func (req *scanRequest) toEvent() (intake.IdentityEvent, error) {
	if req.SubjectID == "" && req.Code == "" {
		return intake.IdentityEvent{}, errors.New("one of subject_id or code is required")
	}

	var method core.Method
	switch core.Method(req.Method) {
	case core.MethodFace, core.MethodCode, core.MethodManual:
		method = core.Method(req.Method)
	case "":
		method = core.MethodManual
	default:
		return intake.IdentityEvent{}, errors.New("unknown method: " + req.Method)
	}

	var intent shift.Intent
	switch shift.Intent(req.Intent) {
	case shift.IntentAuto, shift.IntentClockIn, shift.IntentFinal:
		intent = shift.Intent(req.Intent)
	case "":
		intent = shift.IntentAuto
	default:
		return intake.IdentityEvent{}, errors.New("unknown intent: " + req.Intent)
	}

	return intake.IdentityEvent{
		SubjectID: req.SubjectID,
		Code:      req.Code,
		Method:    method,
		Intent:    intent,
		Location:  req.Location,
		Emergency: req.Emergency,
	}, nil
}

// POST /api/v1/events/scan
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.submit(w, r, ev)
}

// POST /api/v1/events/manual — the terminal's tap surface. Method is pinned
// so a crafted payload cannot impersonate a recognizer verdict.
func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Method = string(core.MethodManual)
	req.Code = ""

	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.submit(w, r, ev)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, ev intake.IdentityEvent) {
	res, err := s.cfg.Engine.Submit(r.Context(), ev)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOutcome(w, res)
}

// GET /api/v1/locations — the selectable checkout destinations. Displays
// seed their picker from this list; free-text entry stays allowed either way.
func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Locations == nil {
		writeJSON(w, http.StatusOK, []core.Location{})
		return
	}

	locs, err := s.cfg.Locations(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "location list unavailable")
		return
	}
	if locs == nil {
		locs = []core.Location{}
	}
	writeJSON(w, http.StatusOK, locs)
}

// POST /api/v1/locations/{request_id} — resolves a parked location request.
type locationResolution struct {
	Cancel    bool            `json:"cancel,omitempty"`
	Location  *core.Location  `json:"location,omitempty"`
	Emergency *core.Emergency `json:"emergency,omitempty"`
}

func (s *Server) handleResolveLocation(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	var req locationResolution
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.cfg.Engine.ResolveLocation(r.Context(), requestID, engine.LocationResult{
		Cancel:    req.Cancel,
		Location:  req.Location,
		Emergency: req.Emergency,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOutcome(w, res)
}

// writeEngineError maps engine sentinels to transport codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrGroupModeOff):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
