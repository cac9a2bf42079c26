// Package shift is the attendance state machine. Decide is a pure
// function over the subject, the day's records, and the clock; it holds
// no state and performs no I/O, so every branch is table-testable.
package shift

import (
	"time"

	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/settings"
)

// Intent narrows how a submission wants to be read. Plain sightings and
// scans carry IntentAuto; kiosk buttons carry the explicit intents.
type Intent string

const (
	// IntentAuto lets the policy pick the next legal action.
	IntentAuto Intent = "auto"
	// IntentClockIn insists on a clock-in and rejects anything else.
	IntentClockIn Intent = "clock_in"
	// IntentFinal insists on the day's final clock-out. Before the
	// cutoff it is rejected rather than reinterpreted.
	IntentFinal Intent = "final"
)

// ActionKind enumerates what a submission becomes.
type ActionKind string

const (
	ActClockIn  ActionKind = "clock_in"
	ActClockOut ActionKind = "clock_out"
	ActCheckIn  ActionKind = "check_in"
	ActCheckOut ActionKind = "check_out"
	ActReject   ActionKind = "reject"
)

// Shift labels stamped onto clock records.
const (
	LabelEarlyShift   = "Early Shift"
	LabelRegularShift = "Regular Shift"
	LabelDayShift     = "Day Shift"
	LabelNightShift   = "Night Shift"
)

// Minutes-of-day boundaries. Staff cutoffs come from live settings; the
// security windows are fixed by site policy.
const (
	staffLateMinute = 8 * 60 // 08:00

	dayWindowStart = 6 * 60  // 06:00
	dayWindowEnd   = 12 * 60 // 12:00
	dayLateAfter   = 7 * 60  // 07:00
	dayCutoff      = 19 * 60 // 19:00

	nightWindowStart = 18 * 60 // 18:00
	nightWindowEnd   = 1 * 60  // 01:00 next day
	nightLateAfter   = 19 * 60 // 19:00
	nightCutoff      = 7 * 60  // 07:00 next day
)

// Action is the policy verdict for one submission.
type Action struct {
	Kind          ActionKind
	Late          bool
	OvertimeHours int
	ShiftLabel    string
	Reject        core.RejectCode // set when Kind == ActReject
}

// IsReject reports whether the verdict refused the submission.
func (a Action) IsReject() bool { return a.Kind == ActReject }

// NeedsLocation reports whether the action may not be committed without
// a location annotation.
func (a Action) NeedsLocation() bool { return a.Kind == ActCheckOut }

// Record materializes the action as an attendance record. Reject actions
// have no record; callers must not invoke Record on them.
func (a Action) Record(subjectID string, method core.Method, now time.Time) core.AttendanceRecord {
	rec := core.AttendanceRecord{
		SubjectID:  subjectID,
		Timestamp:  now,
		Method:     method,
		ShiftLabel: a.ShiftLabel,
	}
	switch a.Kind {
	case ActClockIn:
		rec.Kind, rec.Direction, rec.Late = core.KindClock, core.DirIn, a.Late
	case ActClockOut:
		rec.Kind, rec.Direction, rec.OvertimeHours = core.KindClock, core.DirOut, a.OvertimeHours
	case ActCheckIn:
		rec.Kind, rec.Direction = core.KindCheck, core.DirIn
	case ActCheckOut:
		rec.Kind, rec.Direction = core.KindCheck, core.DirOut
	}
	return rec
}

// Request carries everything a decision reads. PriorDay may be nil for
// staff; it only matters for the security night shift.
type Request struct {
	Subject   core.Subject
	Now       time.Time
	Today     []core.AttendanceRecord
	PriorDay  []core.AttendanceRecord
	Settings  settings.Shift
	Intent    Intent
	Emergency bool
}

// Decide maps one identity event onto the next legal attendance action.
func Decide(req Request) Action {
	if req.Subject.Role == core.RoleSecurity {
		return decideSecurity(req)
	}
	return decideStaff(req)
}

// ===== STAFF =====

func decideStaff(req Request) Action {
	in := firstClockIn(req.Today)
	out := firstClockOut(req.Today)

	if out != nil {
		return reject(core.RejectAlreadyClockedOut)
	}

	if req.Emergency {
		if in == nil {
			return reject(core.RejectNoClockInYet)
		}
		// Emergency clock-out ignores the cutoff but nothing else.
		return Action{Kind: ActClockOut, ShiftLabel: staffLabel(*in)}
	}

	if req.Intent == IntentClockIn {
		if in != nil {
			return reject(core.RejectAlreadyClockedIn)
		}
		return staffClockIn(req.Now)
	}

	if in == nil {
		if req.Intent == IntentFinal {
			return reject(core.RejectNoClockInYet)
		}
		return staffClockIn(req.Now)
	}

	cutoff := staffCutoff(*in, req.Settings).OnDay(req.Now)
	if !req.Now.Before(cutoff) {
		return Action{
			Kind:          ActClockOut,
			OvertimeHours: overtimeSince(cutoff, req.Now),
			ShiftLabel:    staffLabel(*in),
		}
	}
	if req.Intent == IntentFinal {
		return reject(core.RejectEarlyClockout)
	}
	return toggle(req.Today)
}

func staffClockIn(now time.Time) Action {
	late := minuteOf(now) >= staffLateMinute
	label := LabelEarlyShift
	if late {
		label = LabelRegularShift
	}
	return Action{Kind: ActClockIn, Late: late, ShiftLabel: label}
}

func staffLabel(in core.AttendanceRecord) string {
	if minuteOf(in.Timestamp) < staffLateMinute {
		return LabelEarlyShift
	}
	return LabelRegularShift
}

func staffCutoff(in core.AttendanceRecord, s settings.Shift) settings.MinuteOfDay {
	if minuteOf(in.Timestamp) < staffLateMinute {
		return s.EarlyShiftMinClockout
	}
	return s.RegularShiftMinClockout
}

// ===== SECURITY =====

func decideSecurity(req Request) Action {
	// A same-day clock-out closes the day regardless of which shift it
	// ended (a forced night clock-out lands on the morning after).
	if firstClockOut(req.Today) != nil {
		return reject(core.RejectAlreadyClockedOut)
	}

	// An unclosed night shift from the previous evening dominates every
	// other reading of the event.
	if open := openNightClockIn(req.PriorDay); open != nil {
		cutoff := anchorMinute(nightCutoff, req.Now)
		if req.Emergency {
			return Action{Kind: ActClockOut, ShiftLabel: LabelNightShift}
		}
		if !req.Now.Before(cutoff) {
			return Action{
				Kind:          ActClockOut,
				OvertimeHours: overtimeSince(cutoff, req.Now),
				ShiftLabel:    LabelNightShift,
			}
		}
		return reject(core.RejectNightBeforeCutoff)
	}

	in := firstClockIn(req.Today)

	if req.Emergency {
		if in == nil {
			return reject(core.RejectNoClockInYet)
		}
		label, _ := classifySecurity(minuteOf(in.Timestamp))
		return Action{Kind: ActClockOut, ShiftLabel: label}
	}

	if req.Intent == IntentClockIn {
		if in != nil {
			return reject(core.RejectAlreadyClockedIn)
		}
		return securityClockIn(req.Now)
	}

	if in == nil {
		if req.Intent == IntentFinal {
			return reject(core.RejectNoClockInYet)
		}
		return securityClockIn(req.Now)
	}

	cutoff := securityCutoff(*in)
	if !req.Now.Before(cutoff) {
		label, _ := classifySecurity(minuteOf(in.Timestamp))
		return Action{
			Kind:          ActClockOut,
			OvertimeHours: overtimeSince(cutoff, req.Now),
			ShiftLabel:    label,
		}
	}
	if req.Intent == IntentFinal {
		return reject(core.RejectEarlyClockout)
	}
	return toggle(req.Today)
}

func securityClockIn(now time.Time) Action {
	label, late := classifySecurity(minuteOf(now))
	return Action{Kind: ActClockIn, Late: late, ShiftLabel: label}
}

// classifySecurity assigns a guard clock-in minute to a shift. Minutes
// outside both windows still classify: afternoon joins the day shift and
// the small hours join the night shift, both marked late.
func classifySecurity(minute int) (label string, late bool) {
	switch {
	case minute >= dayWindowStart && minute < dayWindowEnd:
		return LabelDayShift, minute > dayLateAfter
	case minute >= dayWindowEnd && minute < nightWindowStart:
		return LabelDayShift, true
	case minute >= nightWindowStart:
		return LabelNightShift, minute > nightLateAfter
	case minute < nightWindowEnd:
		return LabelNightShift, true
	default: // [01:00, 06:00)
		return LabelNightShift, true
	}
}

// securityCutoff anchors the final clock-out gate to the clock-in that
// opened the shift. Evening night-ins cut off at 07:00 the next day;
// after-midnight night-ins cut off at 07:00 the same day.
func securityCutoff(in core.AttendanceRecord) time.Time {
	minute := minuteOf(in.Timestamp)
	label, _ := classifySecurity(minute)
	if label == LabelDayShift {
		return anchorMinute(dayCutoff, in.Timestamp)
	}
	if minute >= nightWindowStart {
		return anchorMinute(nightCutoff, in.Timestamp.AddDate(0, 0, 1))
	}
	return anchorMinute(nightCutoff, in.Timestamp)
}

// openNightClockIn returns the prior day's evening clock-in when no
// clock-out followed it that day. The matching clock-out, if any, would
// be a same-day record and is checked by the caller.
func openNightClockIn(prior []core.AttendanceRecord) *core.AttendanceRecord {
	var in *core.AttendanceRecord
	for i := range prior {
		if prior[i].IsClockIn() && minuteOf(prior[i].Timestamp) >= nightWindowStart {
			in = &prior[i]
		}
	}
	if in == nil {
		return nil
	}
	for _, r := range prior {
		if r.IsClockOut() && !r.Timestamp.Before(in.Timestamp) {
			return nil
		}
	}
	return in
}

// ===== GROUP ELIGIBILITY =====

// GroupEligible reports whether the subject may join a group checkout:
// clocked in today, not clocked out, currently checked in, and still
// inside the check window.
func GroupEligible(req Request) (bool, core.RejectCode) {
	in := firstClockIn(req.Today)
	if in == nil {
		return false, core.RejectNotClockedIn
	}
	if firstClockOut(req.Today) != nil {
		return false, core.RejectFinalClockOut
	}
	if last := lastCheck(req.Today); last != nil && last.Direction == core.DirOut {
		return false, core.RejectAlreadyCheckedOut
	}
	var cutoff time.Time
	if req.Subject.Role == core.RoleSecurity {
		cutoff = securityCutoff(*in)
	} else {
		cutoff = staffCutoff(*in, req.Settings).OnDay(req.Now)
	}
	if !req.Now.Before(cutoff) {
		return false, core.RejectOutsideCheckWindow
	}
	return true, ""
}

// ===== SHARED HELPERS =====

// toggle alternates the check direction, starting with "out": the first
// intra-day movement is read as stepping out.
func toggle(today []core.AttendanceRecord) Action {
	last := lastCheck(today)
	if last == nil || last.Direction == core.DirIn {
		return Action{Kind: ActCheckOut}
	}
	return Action{Kind: ActCheckIn}
}

func firstClockIn(recs []core.AttendanceRecord) *core.AttendanceRecord {
	for i := range recs {
		if recs[i].IsClockIn() {
			return &recs[i]
		}
	}
	return nil
}

func firstClockOut(recs []core.AttendanceRecord) *core.AttendanceRecord {
	for i := range recs {
		if recs[i].IsClockOut() {
			return &recs[i]
		}
	}
	return nil
}

func lastCheck(recs []core.AttendanceRecord) *core.AttendanceRecord {
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].IsCheck() {
			return &recs[i]
		}
	}
	return nil
}

func reject(code core.RejectCode) Action {
	return Action{Kind: ActReject, Reject: code}
}

// overtimeSince counts whole hours elapsed past the cutoff.
func overtimeSince(cutoff, now time.Time) int {
	if now.Before(cutoff) {
		return 0
	}
	return int(now.Sub(cutoff) / time.Hour)
}

func minuteOf(t time.Time) int { return t.Hour()*60 + t.Minute() }

func anchorMinute(minute int, day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, day.Location())
}
