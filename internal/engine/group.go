package engine

import (
	"context"
	"time"

	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/group"
	"github.com/shiftgate/kiosk/internal/settings"
	"github.com/shiftgate/kiosk/internal/shift"
)

// handleGroupAdmission screens one submission for the group buffer. During
// a running commit the settings decide: reject loudly or hold the envelope
// and answer after the pass.
func (e *Engine) handleGroupAdmission(ctx context.Context, env *envelope, subject core.Subject, method core.Method, cfg settings.Shift, now time.Time) {
	if e.committing {
		if cfg.GroupCommitMode == settings.GroupCommitQueue {
			e.queued = append(e.queued, env)
			e.logger.Printf("👥 admission for %s queued behind running commit", subject.ID)
			return
		}
		env.respond(e.groupRejected(subject, core.RejectGroupCommitBusy), nil)
		return
	}

	if e.buffer.Contains(subject.ID) {
		env.respond(e.groupRejected(subject, core.RejectAlreadyInGroup), nil)
		return
	}

	today, err := e.listDay(ctx, subject.ID, now)
	if err != nil {
		env.respond(e.commitFailed(subject.ID, fatalStoreUnavailable, err), nil)
		return
	}
	ok, code := shift.GroupEligible(shift.Request{
		Subject:  subject,
		Now:      now,
		Today:    today,
		Settings: cfg,
	})
	if !ok {
		env.respond(e.groupRejected(subject, code), nil)
		return
	}

	e.buffer.Add(group.Entry{SubjectID: subject.ID, Name: subject.Name, Method: method, AdmittedAt: now})
	e.metrics.SetGroupBufferSize(e.buffer.Len())
	e.emitGroupAdmitted(subject, e.buffer.Len())
	e.logger.Printf("👥 %s admitted to group checkout (%d buffered)", subject.Name, e.buffer.Len())
	env.respond(Result{Kind: ResultGroupAdmitted, SubjectID: subject.ID, GroupCount: e.buffer.Len()}, nil)
}

func (e *Engine) handleGroupMode(ctx context.Context, enable bool) (Result, error) {
	if e.groupMode == enable {
		return Result{Kind: ResultGroupMode, GroupOn: enable, GroupCount: e.buffer.Len()}, nil
	}
	e.groupMode = enable
	e.groupOn.Store(enable)
	if enable {
		e.logger.Printf("👥 group checkout mode ON")
		return Result{Kind: ResultGroupMode, GroupOn: true}, nil
	}
	cleared := e.cancelGroupSession(ctx)
	e.logger.Printf("👥 group checkout mode OFF (%d pending entries discarded)", len(cleared))
	return Result{Kind: ResultGroupMode, GroupOn: false, GroupCount: len(cleared)}, nil
}

func (e *Engine) handleGroupCommit(ctx context.Context, loc *core.Location) (Result, error) {
	if !e.groupMode {
		return Result{}, ErrGroupModeOff
	}
	if e.committing {
		return e.rejected("", core.RejectGroupCommitBusy), nil
	}
	if e.buffer.Len() == 0 {
		return e.aborted("", core.AbortGroupCommitEmpty), nil
	}

	e.setCommitting(true)
	if loc == nil {
		id := e.park(&heldAction{purpose: PurposeGroupCheckout})
		return Result{Kind: ResultLocationRequired, RequestID: id, Purpose: PurposeGroupCheckout}, nil
	}

	result := e.groupPass(ctx, *loc)
	e.setCommitting(false)
	e.drainQueued(ctx)
	return Result{Kind: ResultGroupCommitted, Group: &result}, nil
}

func (e *Engine) handleGroupClear(ctx context.Context) (Result, error) {
	if !e.groupMode {
		return Result{}, ErrGroupModeOff
	}
	cleared := e.cancelGroupSession(ctx)
	e.logger.Printf("👥 group buffer cleared (%d entries)", len(cleared))
	return Result{Kind: ResultGroupCleared, GroupCount: len(cleared)}, nil
}

// resolveGroupLocation finishes a parked group commit.
func (e *Engine) resolveGroupLocation(ctx context.Context, res LocationResult) Result {
	if res.Cancel || res.Location == nil {
		e.setCommitting(false)
		e.drainQueued(ctx)
		e.logger.Printf("👥 group commit cancelled at the picker, buffer kept")
		return e.aborted("", core.AbortLocationCancelled)
	}
	result := e.groupPass(ctx, *res.Location)
	e.setCommitting(false)
	e.drainQueued(ctx)
	return Result{Kind: ResultGroupCommitted, Group: &result}
}

// groupPass re-validates and writes every buffered entry in admission
// order. Entries leave the buffer whatever happened to them: failures are
// reported, not retried.
func (e *Engine) groupPass(ctx context.Context, loc core.Location) group.CommitResult {
	cfg := e.settings.Current()
	now := e.clock.Now()
	entries := e.buffer.Snapshot()

	var result group.CommitResult
	processed := make([]string, 0, len(entries))
	for _, entry := range entries {
		processed = append(processed, entry.SubjectID)
		if code := e.commitGroupEntry(ctx, entry, loc, cfg, now); code != "" {
			result.Failed = append(result.Failed, group.Failure{SubjectID: entry.SubjectID, Code: code})
			continue
		}
		result.Committed = append(result.Committed, entry.SubjectID)
	}

	e.buffer.Remove(processed...)
	e.metrics.SetGroupBufferSize(e.buffer.Len())
	e.emitGroupCommitResult(result, loc)
	e.logger.Printf("👥 group commit → %s: %d committed, %d failed", loc.Name, len(result.Committed), len(result.Failed))
	return result
}

// commitGroupEntry writes one group checkout. The empty code means success.
func (e *Engine) commitGroupEntry(ctx context.Context, entry group.Entry, loc core.Location, cfg settings.Shift, now time.Time) core.RejectCode {
	subject, err := e.dir.Lookup(ctx, entry.SubjectID)
	if err != nil {
		return core.RejectSubjectNotFound
	}
	today, err := e.listDay(ctx, entry.SubjectID, now)
	if err != nil {
		e.noteFatal(fatalStoreUnavailable, err)
		return core.RejectCommitFailed
	}
	// Eligibility moves between admission and commit — someone may have
	// clocked out at another station meanwhile — so it is checked again.
	ok, code := shift.GroupEligible(shift.Request{
		Subject:  *subject,
		Now:      now,
		Today:    today,
		Settings: cfg,
	})
	if !ok {
		e.metrics.RecordRejection(string(code))
		return code
	}

	rec := shift.Action{Kind: shift.ActCheckOut}.Record(entry.SubjectID, entry.Method, now)
	rec.Location = &loc
	stored, err := e.appendRecord(ctx, rec)
	if err != nil {
		e.noteFatal(fatalStoreWrite, err)
		e.logger.Printf("🛑 group commit failed for %s: %v", entry.SubjectID, err)
		return core.RejectCommitFailed
	}
	e.metrics.RecordCommitted(string(stored.Kind), string(stored.Direction), string(stored.Method))
	e.emitCommitted(stored)
	return ""
}

// cancelGroupSession empties the buffer and cancels a parked group commit.
// Queued admissions re-enter the normal submit path.
func (e *Engine) cancelGroupSession(ctx context.Context) []group.Entry {
	for id, h := range e.held {
		if h.purpose == PurposeGroupCheckout {
			e.unpark(id)
			e.aborted("", core.AbortLocationCancelled)
		}
	}
	e.setCommitting(false)
	cleared := e.buffer.Clear()
	e.metrics.SetGroupBufferSize(0)
	e.drainQueued(ctx)
	return cleared
}

// drainQueued replays admissions held back by a commit. They run under
// whatever mode is current now: if group mode ended meanwhile they fall
// through to individual processing.
func (e *Engine) drainQueued(ctx context.Context) {
	if len(e.queued) == 0 {
		return
	}
	q := e.queued
	e.queued = nil
	for _, env := range q {
		e.handleSubmit(ctx, env)
	}
}

func (e *Engine) setCommitting(v bool) {
	e.committing = v
	e.busy.Store(v)
}
