package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/shift"
)

// GatePurpose tells the presenter why a location is being asked for.
type GatePurpose string

const (
	PurposeCheckout      GatePurpose = "checkout"
	PurposeEmergency     GatePurpose = "emergency"
	PurposeGroupCheckout GatePurpose = "group_checkout"
)

// LocationResult is the presenter's answer to a parked request. Exactly one
// of Cancel, Location or Emergency+Location is meaningful.
type LocationResult struct {
	Cancel    bool            `json:"cancel,omitempty"`
	Location  *core.Location  `json:"location,omitempty"`
	Emergency *core.Emergency `json:"emergency,omitempty"`
}

// heldAction is a decided-but-unwritten action waiting on the picker.
// Nothing reaches the store while it is parked, so walking away costs a
// cancel, never a compensating delete.
type heldAction struct {
	id        string
	purpose   GatePurpose
	subject   core.Subject
	method    core.Method
	intent    shift.Intent
	emergency *core.Emergency
	createdAt time.Time
}

// park shelves the action and tells the presenter to open the picker.
// There is no timeout: presenters impose their own by resolving cancel.
func (e *Engine) park(h *heldAction) string {
	h.id = uuid.NewString()
	h.createdAt = e.clock.Now()
	e.held[h.id] = h
	e.pendingHeld.Store(int64(len(e.held)))
	e.metrics.SetLocationPending(len(e.held))
	e.logger.Printf("📍 location request %s parked purpose=%s subject=%s", h.id, h.purpose, h.subject.ID)
	e.emitLocationRequested(h)
	return h.id
}

// unpark removes a held action and refreshes the pending gauge.
func (e *Engine) unpark(id string) {
	delete(e.held, id)
	e.pendingHeld.Store(int64(len(e.held)))
	e.metrics.SetLocationPending(len(e.held))
}

// supersede cancels the subject's parked request, if any. Called whenever a
// newer submission for the same subject reaches the policy.
func (e *Engine) supersede(subjectID string) {
	for id, h := range e.held {
		if h.subject.ID == subjectID {
			e.unpark(id)
			e.logger.Printf("📍 location request %s superseded by a newer submission", id)
			e.aborted(subjectID, core.AbortSuperseded)
		}
	}
}

// handleResolve finishes a parked action with whatever the picker returned.
func (e *Engine) handleResolve(ctx context.Context, requestID string, res LocationResult) (Result, error) {
	h, ok := e.held[requestID]
	if !ok {
		return Result{}, ErrUnknownRequest
	}
	e.unpark(requestID)

	if h.purpose == PurposeGroupCheckout {
		return e.resolveGroupLocation(ctx, res), nil
	}

	emergency := h.emergency
	if res.Emergency != nil {
		emergency = res.Emergency
	}

	cancelled := res.Cancel || (res.Location == nil && emergency == nil)
	if !cancelled && h.purpose == PurposeEmergency && emergency == nil {
		// The park came from a policy reject; only an override can
		// finish it. A bare location cannot.
		cancelled = true
	}
	if cancelled {
		e.logger.Printf("📍 location request %s cancelled (%s)", requestID, h.subject.ID)
		return e.aborted(h.subject.ID, core.AbortLocationCancelled), nil
	}

	act, now, err := e.rebuild(ctx, h, emergency)
	if err != nil {
		return e.commitFailed(h.subject.ID, fatalStoreUnavailable, err), nil
	}
	if act.IsReject() {
		return e.rejected(h.subject.ID, act.Reject), nil
	}

	rec := act.Record(h.subject.ID, h.method, now)
	rec.Location = res.Location
	rec.Emergency = emergency
	return e.write(ctx, rec), nil
}
