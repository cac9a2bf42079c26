package core

import "time"

// Role classifies a subject for shift-policy purposes.
type Role string

const (
	RoleStaff    Role = "staff"
	RoleSecurity Role = "security"
)

// Method records how an identity event reached the kiosk.
type Method string

const (
	MethodFace   Method = "face"
	MethodCode   Method = "code"
	MethodManual Method = "manual"
)

// RecordKind separates the daily clock pair from intra-day check toggles.
type RecordKind string

const (
	KindClock RecordKind = "clock"
	KindCheck RecordKind = "check"
)

// Direction is the in/out axis shared by clock and check records.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// LocationCategory tags where a checkout went.
type LocationCategory string

const (
	LocationWork     LocationCategory = "work"
	LocationPersonal LocationCategory = "personal"
)

// Subject is one enrolled person. Subjects are created by the enrolment
// flow and are immutable to the kiosk; embeddings are opaque blobs the
// core never interprets.
type Subject struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Role       Role     `json:"role"`
	Embeddings [][]byte `json:"embeddings,omitempty"`
}

// Location annotates a checkout with where the subject went.
type Location struct {
	Name     string           `json:"name"`
	Address  string           `json:"address"`
	Category LocationCategory `json:"category"`
}

// Emergency annotates an operator-authorised early clock-out.
type Emergency struct {
	Reason string `json:"reason"`
}

// AttendanceRecord is one appended attendance event. Records are immutable
// after creation except for a single location/emergency patch, and only
// while no later record exists for the subject on the same day.
type AttendanceRecord struct {
	ID            int64      `json:"id"`
	SubjectID     string     `json:"subject_id"`
	Timestamp     time.Time  `json:"timestamp"`
	Method        Method     `json:"method"`
	Kind          RecordKind `json:"kind"`
	Direction     Direction  `json:"direction"`
	Late          bool       `json:"late"`
	OvertimeHours int        `json:"overtime_hours"`
	Location      *Location  `json:"location,omitempty"`
	Emergency     *Emergency `json:"emergency,omitempty"`
	ShiftLabel    string     `json:"shift_label,omitempty"`
}

// IsClockIn reports whether r is the daily clock-in.
func (r AttendanceRecord) IsClockIn() bool {
	return r.Kind == KindClock && r.Direction == DirIn
}

// IsClockOut reports whether r is the daily clock-out.
func (r AttendanceRecord) IsClockOut() bool {
	return r.Kind == KindClock && r.Direction == DirOut
}

// IsCheck reports whether r is an intra-day check toggle.
func (r AttendanceRecord) IsCheck() bool {
	return r.Kind == KindCheck
}

// SameDay reports whether two instants fall on the same calendar day in the
// kiosk's timezone (taken from a).
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// DayStart returns midnight of t's calendar day in t's timezone.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
