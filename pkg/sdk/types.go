package sdk

import "time"

// Outcome kinds returned by the kiosk for every submission.
const (
	// OutcomeCommitted — the record was written
	OutcomeCommitted = "committed"

	// OutcomeRejected — policy said no; see RejectCode
	OutcomeRejected = "rejected"

	// OutcomeAborted — the flow was cancelled before writing
	OutcomeAborted = "aborted"

	// OutcomeLocationRequired — parked; resolve via ResolveLocation
	OutcomeLocationRequired = "location_required"

	// OutcomeGroupAdmitted — buffered for the next group commit
	OutcomeGroupAdmitted = "group_admitted"

	// OutcomeGroupCommitted — a group commit pass finished
	OutcomeGroupCommitted = "group_committed"

	// OutcomeGroupCleared — the group buffer was discarded
	OutcomeGroupCleared = "group_cleared"

	// OutcomeGroupMode — group mode was toggled
	OutcomeGroupMode = "group_mode"
)

// Location is where a checkout went.
type Location struct {
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Category string `json:"category,omitempty"` // "work" or "personal"
}

// Emergency authorises an early clock-out.
type Emergency struct {
	Reason string `json:"reason"`
}

// Record is one committed attendance record.
type Record struct {
	ID            int64      `json:"id"`
	SubjectID     string     `json:"subject_id"`
	Timestamp     time.Time  `json:"timestamp"`
	Method        string     `json:"method"`
	Kind          string     `json:"kind"`      // "clock" or "check"
	Direction     string     `json:"direction"` // "in" or "out"
	Late          bool       `json:"late"`
	OvertimeHours int        `json:"overtime_hours"`
	Location      *Location  `json:"location,omitempty"`
	Emergency     *Emergency `json:"emergency,omitempty"`
	ShiftLabel    string     `json:"shift_label,omitempty"`
}

// GroupFailure is one subject a group commit could not check out.
type GroupFailure struct {
	SubjectID string `json:"subject_id"`
	Code      string `json:"code"`
}

// GroupResult summarises one group commit pass.
type GroupResult struct {
	Committed []string       `json:"committed"`
	Failed    []GroupFailure `json:"failed"`
}

// Outcome is the kiosk's answer to a submission or group call.
type Outcome struct {
	Kind       string       `json:"kind"`
	SubjectID  string       `json:"subject_id,omitempty"`
	Record     *Record      `json:"record,omitempty"`
	RejectCode string       `json:"reject_code,omitempty"`
	AbortCode  string       `json:"abort_reason,omitempty"`
	RequestID  string       `json:"request_id,omitempty"`
	Purpose    string       `json:"purpose,omitempty"`
	Group      *GroupResult `json:"group,omitempty"`
	GroupCount int          `json:"group_count,omitempty"`
	GroupOn    bool         `json:"group_on,omitempty"`
}

// GroupEntry is one subject buffered for the group commit.
type GroupEntry struct {
	SubjectID  string    `json:"subject_id"`
	Name       string    `json:"name"`
	Method     string    `json:"method"`
	AdmittedAt time.Time `json:"admitted_at"`
}

// GroupStatus is the live group-checkout state.
type GroupStatus struct {
	Enabled    bool         `json:"enabled"`
	Committing bool         `json:"committing"`
	Entries    []GroupEntry `json:"entries"`
}

// Event is a CloudEvents 1.0 envelope from the outcome stream.
type Event struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// ShiftSettings mirrors the kiosk's live settings snapshot. Times of day
// are "HH:MM".
type ShiftSettings struct {
	EarlyShiftMinClockout    string  `json:"early_shift_min_clockout"`
	RegularShiftMinClockout  string  `json:"regular_shift_min_clockout"`
	WarmupEnabled            bool    `json:"warmup_enabled"`
	WarmupFrames             int     `json:"warmup_frames"`
	WarmupStabilityThreshold float64 `json:"warmup_stability_threshold"`
	RecognitionCooldownSec   float64 `json:"recognition_cooldown"`
	ScanCooldownFaceSec      float64 `json:"scan_cooldown_face"`
	ScanCooldownCodeSec      float64 `json:"scan_cooldown_code"`
	GroupCommitMode          string  `json:"group_commit_mode"`
}

// Webhook is one registered delivery target.
type Webhook struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Events      []string  `json:"events"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	FailCount   int       `json:"fail_count"`
}

// EngineHealth is the engine block of the health report.
type EngineHealth struct {
	Station          string `json:"station"`
	GroupMode        bool   `json:"group_mode"`
	GroupBuffered    int    `json:"group_buffered"`
	CommitInFlight   bool   `json:"group_commit_in_flight"`
	PendingLocations int    `json:"pending_locations"`
	DroppedFrames    uint64 `json:"dropped_frames"`
	SightingTracks   int    `json:"sighting_tracks"`
	LastFatal        string `json:"last_fatal,omitempty"`
}

// Health is the kiosk health report.
type Health struct {
	Status  string       `json:"status"`
	Service string       `json:"service"`
	Station string       `json:"station"`
	Time    time.Time    `json:"time"`
	Engine  EngineHealth `json:"engine"`
}

// ScanRequest is one identity submission. Exactly one of SubjectID or Code
// identifies the person; Method is "face", "code", or "manual".
type ScanRequest struct {
	SubjectID string     `json:"subject_id,omitempty"`
	Code      string     `json:"code,omitempty"`
	Method    string     `json:"method"`
	Intent    string     `json:"intent,omitempty"` // "auto", "clock_in", "final"
	Location  *Location  `json:"location,omitempty"`
	Emergency *Emergency `json:"emergency,omitempty"`
}

// LocationResolution answers a parked location request.
type LocationResolution struct {
	Cancel    bool       `json:"cancel,omitempty"`
	Location  *Location  `json:"location,omitempty"`
	Emergency *Emergency `json:"emergency,omitempty"`
}
