package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/directory"
	"github.com/shiftgate/kiosk/internal/intake"
	"github.com/shiftgate/kiosk/internal/recognizer"
	"github.com/shiftgate/kiosk/internal/shift"
)

// handleSubmit runs one identity event through cooldown, lookup, policy and
// commit. It answers env itself because queue-mode group admissions defer
// the reply until the running commit finishes.
func (e *Engine) handleSubmit(ctx context.Context, env *envelope) {
	ev := env.event
	cfg := e.settings.Current()
	now := e.clock.Now()

	method := ev.Method
	if method == "" {
		method = core.MethodManual
	}

	// Scan cooldown: face and code each hold their own window; manual
	// taps are never suppressed. The window anchors at the last accepted
	// scan of that method, whatever became of it.
	if win := cfg.ScanCooldown(string(method)); win > 0 {
		if last, ok := e.lastScan[method]; ok && now.Sub(last) < win {
			env.respond(e.rejected(ev.SubjectID, core.RejectCooldownActive), nil)
			return
		}
		e.lastScan[method] = now
	}

	// Badge payloads carry the subject id; the directory is the authority
	// on whether it names anyone.
	subjectID := ev.SubjectID
	if subjectID == "" {
		subjectID = ev.Code
	}
	if subjectID == "" {
		env.respond(e.rejected("", core.RejectSubjectNotFound), nil)
		return
	}

	subject, err := e.dir.Lookup(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			e.logger.Printf("⚠️  directory lookup failed for %s: %v", subjectID, err)
		}
		env.respond(e.rejected(subjectID, core.RejectSubjectNotFound), nil)
		return
	}

	// A fresh submission supersedes the subject's parked location request:
	// resolving the stale one later must not write a second record.
	e.supersede(subjectID)

	intent := ev.Intent
	if intent == "" {
		intent = shift.IntentAuto
	}

	// Group mode swallows plain submissions as admissions. Emergencies
	// stay individual: the override outranks the session.
	if e.groupMode && ev.Emergency == nil {
		e.handleGroupAdmission(ctx, env, *subject, method, cfg, now)
		return
	}

	today, err := e.listDay(ctx, subjectID, now)
	if err != nil {
		env.respond(e.commitFailed(subjectID, fatalStoreUnavailable, err), nil)
		return
	}
	prior, err := e.priorDay(ctx, *subject, now)
	if err != nil {
		env.respond(e.commitFailed(subjectID, fatalStoreUnavailable, err), nil)
		return
	}

	act := shift.Decide(shift.Request{
		Subject:   *subject,
		Now:       now,
		Today:     today,
		PriorDay:  prior,
		Settings:  cfg,
		Intent:    intent,
		Emergency: ev.Emergency != nil,
	})

	if act.IsReject() {
		res := e.rejected(subjectID, act.Reject)
		// An explicit final clock-out refused as too early gets an
		// emergency offer: the presenter may return an override.
		if act.Reject == core.RejectEarlyClockout && intent == shift.IntentFinal {
			res.RequestID = e.park(&heldAction{
				purpose: PurposeEmergency,
				subject: *subject,
				method:  method,
				intent:  intent,
			})
			res.Purpose = PurposeEmergency
		}
		env.respond(res, nil)
		return
	}

	// Emergencies without a destination park for the picker like any
	// other location-gated action.
	if ev.Emergency != nil && ev.Location == nil {
		id := e.park(&heldAction{
			purpose:   PurposeEmergency,
			subject:   *subject,
			method:    method,
			intent:    intent,
			emergency: ev.Emergency,
		})
		env.respond(Result{Kind: ResultLocationRequired, SubjectID: subjectID, RequestID: id, Purpose: PurposeEmergency}, nil)
		return
	}

	if act.NeedsLocation() && ev.Location == nil {
		id := e.park(&heldAction{
			purpose: PurposeCheckout,
			subject: *subject,
			method:  method,
			intent:  intent,
		})
		env.respond(Result{Kind: ResultLocationRequired, SubjectID: subjectID, RequestID: id, Purpose: PurposeCheckout}, nil)
		return
	}

	rec := act.Record(subjectID, method, now)
	if act.Kind == shift.ActCheckOut || act.Kind == shift.ActClockOut {
		rec.Location = ev.Location
		rec.Emergency = ev.Emergency
	}
	env.respond(e.write(ctx, rec), nil)
}

// priorDay loads yesterday's records when the role needs them. Only the
// security night shift reaches back across midnight.
func (e *Engine) priorDay(ctx context.Context, subject core.Subject, now time.Time) ([]core.AttendanceRecord, error) {
	if subject.Role != core.RoleSecurity {
		return nil, nil
	}
	return e.listDay(ctx, subject.ID, now.AddDate(0, 0, -1))
}

// rebuild runs the policy again for a parked action. The picker has no
// deadline, so the answer is taken at resolution time, not park time.
func (e *Engine) rebuild(ctx context.Context, h *heldAction, emergency *core.Emergency) (shift.Action, time.Time, error) {
	cfg := e.settings.Current()
	now := e.clock.Now()
	today, err := e.listDay(ctx, h.subject.ID, now)
	if err != nil {
		return shift.Action{}, now, err
	}
	prior, err := e.priorDay(ctx, h.subject, now)
	if err != nil {
		return shift.Action{}, now, err
	}
	act := shift.Decide(shift.Request{
		Subject:   h.subject,
		Now:       now,
		Today:     today,
		PriorDay:  prior,
		Settings:  cfg,
		Intent:    h.intent,
		Emergency: emergency != nil,
	})
	return act, now, nil
}

// handleIdentified is the tail of the vision path: the identify worker
// resolved a warmed-up sighting and posts the match back to the loop.
func (e *Engine) handleIdentified(ctx context.Context, match recognizer.Match, d intake.Detection) {
	if !match.Known() {
		e.logger.Printf("⚠️  sighting frame=%d matched nobody", d.FrameIndex)
		e.rejected("", core.RejectSubjectNotFound)
		return
	}
	env := &envelope{kind: msgSubmit, event: intake.IdentityEvent{
		SubjectID: match.SubjectID,
		Method:    core.MethodFace,
		Intent:    shift.IntentAuto,
	}}
	e.handleSubmit(ctx, env)
}
