package engine

import (
	"context"

	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/events"
	"github.com/shiftgate/kiosk/internal/group"
	"github.com/shiftgate/kiosk/internal/sighting"
)

// ResultKind classifies the synchronous verdict of one engine call.
type ResultKind string

const (
	ResultCommitted        ResultKind = "committed"
	ResultRejected         ResultKind = "rejected"
	ResultAborted          ResultKind = "aborted"
	ResultLocationRequired ResultKind = "location_required"
	ResultGroupAdmitted    ResultKind = "group_admitted"
	ResultGroupCommitted   ResultKind = "group_committed"
	ResultGroupCleared     ResultKind = "group_cleared"
	ResultGroupMode        ResultKind = "group_mode"
)

// Result is the synchronous answer to a Submit, ResolveLocation or group
// call. The same facts are published on the outcome bus for everyone who
// was not the caller.
type Result struct {
	Kind       ResultKind             `json:"kind"`
	SubjectID  string                 `json:"subject_id,omitempty"`
	Record     *core.AttendanceRecord `json:"record,omitempty"`
	Reject     core.RejectCode        `json:"reject_code,omitempty"`
	Abort      core.AbortReason       `json:"abort_reason,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Purpose    GatePurpose            `json:"purpose,omitempty"`
	Group      *group.CommitResult    `json:"group,omitempty"`
	GroupCount int                    `json:"group_count,omitempty"`
	GroupOn    bool                   `json:"group_on,omitempty"`
}

func (e *Engine) emit(eventType, subject string, data map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.Emit(eventType, e.source, subject, data)
}

// write commits one decided record and reports the outcome.
func (e *Engine) write(ctx context.Context, rec core.AttendanceRecord) Result {
	stored, err := e.appendRecord(ctx, rec)
	if err != nil {
		return e.commitFailed(rec.SubjectID, fatalStoreWrite, err)
	}
	e.metrics.RecordCommitted(string(stored.Kind), string(stored.Direction), string(stored.Method))
	e.emitCommitted(stored)
	e.logger.Printf("✅ %s %s/%s via %s", stored.SubjectID, stored.Kind, stored.Direction, stored.Method)
	return Result{Kind: ResultCommitted, SubjectID: stored.SubjectID, Record: &stored}
}

func (e *Engine) rejected(subjectID string, code core.RejectCode) Result {
	e.metrics.RecordRejection(string(code))
	e.emit(events.TypeAttendanceRejected, subjectID, map[string]interface{}{
		"code": string(code),
	})
	return Result{Kind: ResultRejected, SubjectID: subjectID, Reject: code}
}

func (e *Engine) groupRejected(subject core.Subject, code core.RejectCode) Result {
	e.metrics.RecordRejection(string(code))
	e.emit(events.TypeGroupRejected, subject.ID, map[string]interface{}{
		"code": string(code),
		"name": subject.Name,
	})
	return Result{Kind: ResultRejected, SubjectID: subject.ID, Reject: code}
}

func (e *Engine) aborted(subjectID string, reason core.AbortReason) Result {
	e.metrics.RecordAbort(string(reason))
	e.emit(events.TypeAttendanceAborted, subjectID, map[string]interface{}{
		"reason": string(reason),
	})
	return Result{Kind: ResultAborted, SubjectID: subjectID, Abort: reason}
}

// commitFailed is the store-failure outcome: logged, health-visible, and
// surfaced to the presenter as a rejection.
func (e *Engine) commitFailed(subjectID, code string, err error) Result {
	e.noteFatal(code, err)
	e.logger.Printf("🛑 commit failed for %q: %v", subjectID, err)
	return e.rejected(subjectID, core.RejectCommitFailed)
}

func (e *Engine) emitCommitted(rec core.AttendanceRecord) {
	e.emit(events.TypeAttendanceCommitted, rec.SubjectID, map[string]interface{}{
		"record":    rec,
		"emergency": rec.Emergency != nil,
	})
}

func (e *Engine) emitLocationRequested(h *heldAction) {
	e.emit(events.TypeLocationRequested, h.subject.ID, map[string]interface{}{
		"request_id":   h.id,
		"purpose":      string(h.purpose),
		"subject_name": h.subject.Name,
	})
}

func (e *Engine) emitGroupAdmitted(subject core.Subject, count int) {
	e.emit(events.TypeGroupAdmitted, subject.ID, map[string]interface{}{
		"name":  subject.Name,
		"count": count,
	})
}

func (e *Engine) emitGroupCommitResult(result group.CommitResult, loc core.Location) {
	e.emit(events.TypeGroupCommitResult, "", map[string]interface{}{
		"committed": result.Committed,
		"failed":    result.Failed,
		"location":  loc,
	})
}

func (e *Engine) emitTrace(v sighting.Verdict) {
	e.emit(events.TypeRecognitionTrace, "", map[string]interface{}{
		"phase":           string(v.Phase),
		"track_key":       v.TrackKey,
		"progress_frames": v.Progress,
		"needed_frames":   v.Needed,
	})
}
