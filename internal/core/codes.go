package core

// RejectCode is the stable machine-readable reason attached to every
// rejected submission. Presenters map codes to localized strings; the
// engine never produces prose.
type RejectCode string

// Policy rejections.
const (
	RejectEarlyClockout     RejectCode = "early_clockout"
	RejectAlreadyClockedIn  RejectCode = "already_clocked_in"
	RejectAlreadyClockedOut RejectCode = "already_clocked_out"
	RejectNoClockInYet      RejectCode = "no_clock_in_yet"
	RejectNightBeforeCutoff RejectCode = "night_shift_before_cutoff"
)

// Group eligibility rejections.
const (
	RejectNotClockedIn       RejectCode = "not_clocked_in"
	RejectAlreadyCheckedOut  RejectCode = "already_checked_out"
	RejectOutsideCheckWindow RejectCode = "outside_check_window"
	RejectFinalClockOut      RejectCode = "final_clock_out"
	RejectAlreadyInGroup     RejectCode = "already_in_group"
	RejectGroupCommitBusy    RejectCode = "group_commit_in_progress"
)

// Engine rejections.
const (
	RejectSubjectNotFound RejectCode = "subject_not_found"
	RejectCooldownActive  RejectCode = "cooldown_active"
	RejectCommitFailed    RejectCode = "commit_failed"
)

// AbortReason marks a submission the user walked away from. Aborts are
// expected outcomes, not errors.
type AbortReason string

const (
	AbortLocationCancelled AbortReason = "location_cancelled"
	AbortGroupCommitEmpty  AbortReason = "group_commit_empty"
	AbortSuperseded        AbortReason = "superseded"
)
