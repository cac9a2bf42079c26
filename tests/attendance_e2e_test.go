// Package tests runs whole working days end to end through a wired
// station: shift policy, location gates, emergency overrides, group
// checkout, the vision warm-up path, and the HTTP surface via the Go SDK.
package tests

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shiftgate/kiosk/internal/api"
	"github.com/shiftgate/kiosk/internal/auth"
	"github.com/shiftgate/kiosk/internal/clock"
	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/directory"
	"github.com/shiftgate/kiosk/internal/engine"
	"github.com/shiftgate/kiosk/internal/events"
	"github.com/shiftgate/kiosk/internal/intake"
	"github.com/shiftgate/kiosk/internal/recognizer"
	"github.com/shiftgate/kiosk/internal/settings"
	"github.com/shiftgate/kiosk/internal/shift"
	"github.com/shiftgate/kiosk/internal/store"
	"github.com/shiftgate/kiosk/internal/webhooks"
	"github.com/shiftgate/kiosk/pb"
	"github.com/shiftgate/kiosk/pkg/sdk"
)

var (
	dana  = core.Subject{ID: "s-1001", Name: "Dana Petrescu", Role: core.RoleStaff}
	miles = core.Subject{ID: "s-1002", Name: "Miles Okafor", Role: core.RoleStaff}
	ruth  = core.Subject{ID: "s-1003", Name: "Ruth Salim", Role: core.RoleStaff}
	omar  = core.Subject{ID: "g-2001", Name: "Omar Haddad", Role: core.RoleSecurity}
)

// day pins a timestamp on the fixed reference day the suite runs on.
func day(hour, min int) time.Time {
	return time.Date(2025, 6, 10, hour, min, 0, 0, time.Local)
}

// nextDay is the morning after, for shifts that cross midnight.
func nextDay(hour, min int) time.Time {
	return time.Date(2025, 6, 11, hour, min, 0, 0, time.Local)
}

// station is a fully wired kiosk on an in-memory store and a pinned clock.
type station struct {
	eng   *engine.Engine
	store *store.MemoryStore
	clk   *clock.Manual
	mgr   *settings.Manager
	bus   *events.EventBus
	box   *intake.Mailbox
	ident *recognizer.Static
}

func newStation(t *testing.T, mutate func(*settings.Shift)) *station {
	t.Helper()
	cfg := settings.Default()
	cfg.WarmupEnabled = false
	if mutate != nil {
		mutate(&cfg)
	}
	st := &station{
		store: store.NewMemoryStore(),
		clk:   clock.NewManual(),
		mgr:   settings.NewManager(cfg),
		bus:   events.NewEventBus(),
		box:   intake.NewMailbox(),
		ident: recognizer.NewStatic(),
	}
	st.clk.Set(day(6, 0))
	st.eng = engine.New(engine.Config{
		StationID:  "e2e-1",
		Clock:      st.clk,
		Directory:  directory.NewMemory(dana, miles, ruth, omar),
		Store:      st.store,
		Settings:   st.mgr,
		Identifier: st.ident,
		Mailbox:    st.box,
		Events:     st.bus,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go st.eng.Run(ctx)
	t.Cleanup(cancel)
	return st
}

func (st *station) submit(t *testing.T, ev intake.IdentityEvent) engine.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := st.eng.Submit(ctx, ev)
	if err != nil {
		t.Fatalf("Submit should not error: %v", err)
	}
	return res
}

// tap is a plain manual submission: the kiosk decides what it means.
func (st *station) tap(t *testing.T, subjectID string) engine.Result {
	t.Helper()
	return st.submit(t, intake.IdentityEvent{SubjectID: subjectID, Method: core.MethodManual})
}

// final is the explicit end-of-day button.
func (st *station) final(t *testing.T, subjectID string) engine.Result {
	t.Helper()
	return st.submit(t, intake.IdentityEvent{SubjectID: subjectID, Method: core.MethodManual, Intent: shift.IntentFinal})
}

func (st *station) resolve(t *testing.T, requestID string, res engine.LocationResult) engine.Result {
	t.Helper()
	done, err := st.eng.ResolveLocation(context.Background(), requestID, res)
	if err != nil {
		t.Fatalf("ResolveLocation should not error: %v", err)
	}
	return done
}

func (st *station) ledger(t *testing.T, subjectID string) []core.AttendanceRecord {
	t.Helper()
	recs, err := st.store.ListForSubjectOn(context.Background(), subjectID, st.clk.Now())
	if err != nil {
		t.Fatalf("ListForSubjectOn should not error: %v", err)
	}
	return recs
}

func waitEvent(t *testing.T, ch chan *events.CloudEvent, within time.Duration) *events.CloudEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

// =============================================================================
// 1. STAFF WORKING DAY — clock-in, lunch checkout, return, final clock-out
// =============================================================================

func TestStaffDay_FullCycleWithLunchBreak(t *testing.T) {
	st := newStation(t, nil)

	// 07:40 — arrival, before the 08:00 late line.
	st.clk.Set(day(7, 40))
	in := st.tap(t, dana.ID)
	if in.Kind != engine.ResultCommitted {
		t.Fatalf("morning tap should commit, got %s (reject=%s)", in.Kind, in.Reject)
	}
	if !in.Record.IsClockIn() {
		t.Errorf("first tap of the day should be a clock-in, got %s/%s", in.Record.Kind, in.Record.Direction)
	}
	if in.Record.Late {
		t.Error("a 07:40 arrival should not be flagged late")
	}
	if in.Record.ShiftLabel != shift.LabelEarlyShift {
		t.Errorf("a pre-08:00 arrival should open the early shift, got %q", in.Record.ShiftLabel)
	}

	// 12:30 — stepping out for lunch parks on the location picker.
	st.clk.Set(day(12, 30))
	out := st.tap(t, dana.ID)
	if out.Kind != engine.ResultLocationRequired {
		t.Fatalf("a midday checkout should wait for a location, got %s", out.Kind)
	}
	if out.Purpose != engine.PurposeCheckout {
		t.Errorf("checkout gate purpose should be %q, got %q", engine.PurposeCheckout, out.Purpose)
	}
	if got := len(st.ledger(t, dana.ID)); got != 1 {
		t.Fatalf("nothing should be written while the picker is open, ledger has %d records", got)
	}

	done := st.resolve(t, out.RequestID, engine.LocationResult{
		Location: &core.Location{Name: "Cafe Verde", Address: "Mercato 12", Category: core.LocationPersonal},
	})
	if done.Kind != engine.ResultCommitted {
		t.Fatalf("resolving the picker should commit the checkout, got %s", done.Kind)
	}
	if !done.Record.IsCheck() || done.Record.Direction != core.DirOut {
		t.Errorf("lunch should be a check/out record, got %s/%s", done.Record.Kind, done.Record.Direction)
	}
	if done.Record.Location == nil || done.Record.Location.Name != "Cafe Verde" {
		t.Errorf("the picked location should be on the record, got %+v", done.Record.Location)
	}

	// 14:10 — back at the desk; the return needs no location.
	st.clk.Set(day(14, 10))
	back := st.tap(t, dana.ID)
	if back.Kind != engine.ResultCommitted {
		t.Fatalf("the return tap should commit, got %s", back.Kind)
	}
	if !back.Record.IsCheck() || back.Record.Direction != core.DirIn {
		t.Errorf("the return should be a check/in record, got %s/%s", back.Record.Kind, back.Record.Direction)
	}

	// 17:05 — past the early-shift release at 17:00; the day closes.
	st.clk.Set(day(17, 5))
	fin := st.final(t, dana.ID)
	if fin.Kind != engine.ResultCommitted {
		t.Fatalf("final tap after the release should commit, got %s (reject=%s)", fin.Kind, fin.Reject)
	}
	if !fin.Record.IsClockOut() {
		t.Errorf("the day should close with a clock-out, got %s/%s", fin.Record.Kind, fin.Record.Direction)
	}
	if fin.Record.OvertimeHours != 0 {
		t.Errorf("five minutes past the release is no overtime, got %d hours", fin.Record.OvertimeHours)
	}

	recs := st.ledger(t, dana.ID)
	if len(recs) != 4 {
		t.Fatalf("a full staff day should write 4 records, got %d", len(recs))
	}
	wantKinds := []core.RecordKind{core.KindClock, core.KindCheck, core.KindCheck, core.KindClock}
	wantDirs := []core.Direction{core.DirIn, core.DirOut, core.DirIn, core.DirOut}
	for i, rec := range recs {
		if rec.Kind != wantKinds[i] || rec.Direction != wantDirs[i] {
			t.Errorf("record %d should be %s/%s, got %s/%s", i, wantKinds[i], wantDirs[i], rec.Kind, rec.Direction)
		}
	}
}

// =============================================================================
// 2. LATE ARRIVAL — late flag on the way in, later release on the way out
// =============================================================================

func TestStaffDay_LateArrivalHeldToRegularRelease(t *testing.T) {
	st := newStation(t, nil)

	// 09:25 — well past the 08:00 line.
	st.clk.Set(day(9, 25))
	in := st.tap(t, miles.ID)
	if in.Kind != engine.ResultCommitted {
		t.Fatalf("late arrival should still commit, got %s", in.Kind)
	}
	if !in.Record.Late {
		t.Error("a 09:25 arrival should carry the late flag")
	}
	if in.Record.ShiftLabel != shift.LabelRegularShift {
		t.Errorf("a late arrival should open the regular shift, got %q", in.Record.ShiftLabel)
	}

	// 16:50 — before the regular-shift release at 17:15.
	st.clk.Set(day(16, 50))
	early := st.final(t, miles.ID)
	if early.Kind != engine.ResultRejected {
		t.Fatalf("final before the regular release should be rejected, got %s", early.Kind)
	}
	if early.Reject != core.RejectEarlyClockout {
		t.Errorf("reject code should be %s, got %s", core.RejectEarlyClockout, early.Reject)
	}

	// 17:20 — released.
	st.clk.Set(day(17, 20))
	fin := st.final(t, miles.ID)
	if fin.Kind != engine.ResultCommitted {
		t.Fatalf("final after the regular release should commit, got %s (reject=%s)", fin.Kind, fin.Reject)
	}
	if !fin.Record.IsClockOut() {
		t.Errorf("the day should close with a clock-out, got %s/%s", fin.Record.Kind, fin.Record.Direction)
	}

	recs := st.ledger(t, miles.ID)
	if len(recs) != 2 {
		t.Fatalf("the rejected attempt must not write, expected 2 records, got %d", len(recs))
	}
	if !recs[0].Late {
		t.Error("the stored clock-in should keep the late flag")
	}
}

// =============================================================================
// 3. EMERGENCY OVERRIDE — an early final released with reason and destination
// =============================================================================

func TestEmergency_EarlyFinalOverrideCommitsWithContext(t *testing.T) {
	st := newStation(t, nil)

	st.clk.Set(day(7, 40))
	st.tap(t, dana.ID)

	// 11:30 — hours before the release; the refusal carries an offer.
	st.clk.Set(day(11, 30))
	refused := st.final(t, dana.ID)
	if refused.Kind != engine.ResultRejected || refused.Reject != core.RejectEarlyClockout {
		t.Fatalf("an 11:30 final should be rejected as early, got %s (reject=%s)", refused.Kind, refused.Reject)
	}
	if refused.RequestID == "" || refused.Purpose != engine.PurposeEmergency {
		t.Fatalf("the refusal should park an emergency offer, got purpose=%q request=%q", refused.Purpose, refused.RequestID)
	}

	done := st.resolve(t, refused.RequestID, engine.LocationResult{
		Emergency: &core.Emergency{Reason: "medical"},
		Location:  &core.Location{Name: "St. Anna Clinic", Category: core.LocationPersonal},
	})
	if done.Kind != engine.ResultCommitted {
		t.Fatalf("the override should commit the clock-out, got %s", done.Kind)
	}
	if !done.Record.IsClockOut() {
		t.Errorf("the override should close the day, got %s/%s", done.Record.Kind, done.Record.Direction)
	}
	if done.Record.Emergency == nil || done.Record.Emergency.Reason != "medical" {
		t.Errorf("the emergency reason should be on the record, got %+v", done.Record.Emergency)
	}
	if done.Record.Location == nil || done.Record.Location.Name != "St. Anna Clinic" {
		t.Errorf("the destination should be on the record, got %+v", done.Record.Location)
	}

	// The day is closed; the kiosk refuses anything further.
	st.clk.Set(day(13, 0))
	after := st.tap(t, dana.ID)
	if after.Kind != engine.ResultRejected || after.Reject != core.RejectAlreadyClockedOut {
		t.Errorf("a tap after the final should be refused as closed, got %s (reject=%s)", after.Kind, after.Reject)
	}
}

// =============================================================================
// 4. SECURITY NIGHT SHIFT — held until 07:00 next day, overtime counted after
// =============================================================================

func TestSecurity_NightShiftOvertimeAcrossMidnight(t *testing.T) {
	st := newStation(t, nil)

	// 18:30 — on time for the night window.
	st.clk.Set(day(18, 30))
	in := st.tap(t, omar.ID)
	if in.Kind != engine.ResultCommitted {
		t.Fatalf("evening clock-in should commit, got %s", in.Kind)
	}
	if in.Record.ShiftLabel != shift.LabelNightShift {
		t.Errorf("an 18:30 guard clock-in should be the night shift, got %q", in.Record.ShiftLabel)
	}
	if in.Record.Late {
		t.Error("18:30 is inside the on-time window and should not be late")
	}

	// 06:30 the next morning — the shift has not been released yet.
	st.clk.Set(nextDay(6, 30))
	held := st.tap(t, omar.ID)
	if held.Kind != engine.ResultRejected {
		t.Fatalf("a tap before the 07:00 release should be rejected, got %s", held.Kind)
	}
	if held.Reject != core.RejectNightBeforeCutoff {
		t.Errorf("reject code should be %s, got %s", core.RejectNightBeforeCutoff, held.Reject)
	}

	// 09:10 — two full hours past the release.
	st.clk.Set(nextDay(9, 10))
	out := st.tap(t, omar.ID)
	if out.Kind != engine.ResultCommitted {
		t.Fatalf("the morning clock-out should commit, got %s (reject=%s)", out.Kind, out.Reject)
	}
	if !out.Record.IsClockOut() {
		t.Errorf("the night shift should close with a clock-out, got %s/%s", out.Record.Kind, out.Record.Direction)
	}
	if out.Record.OvertimeHours != 2 {
		t.Errorf("09:10 against a 07:00 release is 2 whole hours of overtime, got %d", out.Record.OvertimeHours)
	}
	if out.Record.ShiftLabel != shift.LabelNightShift {
		t.Errorf("the clock-out should keep the night shift label, got %q", out.Record.ShiftLabel)
	}

	// The clock-out lands on the morning's ledger, the clock-in on the evening's.
	if got := len(st.ledger(t, omar.ID)); got != 1 {
		t.Errorf("the second day should hold exactly the clock-out, got %d records", got)
	}
	evening, err := st.store.ListForSubjectOn(context.Background(), omar.ID, day(23, 0))
	if err != nil {
		t.Fatalf("ListForSubjectOn should not error: %v", err)
	}
	if len(evening) != 1 || !evening[0].IsClockIn() {
		t.Errorf("the first day should hold exactly the clock-in, got %d records", len(evening))
	}
}

// =============================================================================
// 5. GROUP CHECKOUT — a supervisor gathers the crew and commits one destination
// =============================================================================

func TestGroupCheckout_BuffersAndCommitsEveryone(t *testing.T) {
	st := newStation(t, nil)
	ctx := context.Background()

	st.clk.Set(day(7, 30))
	for _, id := range []string{dana.ID, miles.ID, ruth.ID} {
		if res := st.tap(t, id); res.Kind != engine.ResultCommitted {
			t.Fatalf("clock-in for %s should commit, got %s", id, res.Kind)
		}
	}

	st.clk.Set(day(16, 45))
	mode, err := st.eng.SetGroupMode(ctx, true)
	if err != nil {
		t.Fatalf("SetGroupMode should not error: %v", err)
	}
	if !mode.GroupOn {
		t.Fatal("group mode should report enabled")
	}

	for i, id := range []string{dana.ID, miles.ID, ruth.ID} {
		res := st.tap(t, id)
		if res.Kind != engine.ResultGroupAdmitted {
			t.Fatalf("tap for %s in group mode should admit, got %s (reject=%s)", id, res.Kind, res.Reject)
		}
		if res.GroupCount != i+1 {
			t.Errorf("admission %d should report count %d, got %d", i, i+1, res.GroupCount)
		}
	}

	// Someone who never clocked in cannot ride along.
	outsider := st.tap(t, omar.ID)
	if outsider.Kind != engine.ResultRejected || outsider.Reject != core.RejectNotClockedIn {
		t.Errorf("an unclocked subject should be refused admission, got %s (reject=%s)", outsider.Kind, outsider.Reject)
	}

	status := st.eng.GroupStatus()
	if !status.Enabled || len(status.Entries) != 3 {
		t.Fatalf("group status should show 3 buffered entries, got enabled=%v n=%d", status.Enabled, len(status.Entries))
	}
	if status.Entries[0].SubjectID != dana.ID || status.Entries[0].Name != dana.Name {
		t.Errorf("buffer should keep admission order and names, got %+v", status.Entries[0])
	}
	if h := st.eng.Health(); !h.GroupMode || h.GroupBuffered != 3 {
		t.Errorf("health should mirror the group session, got mode=%v buffered=%d", h.GroupMode, h.GroupBuffered)
	}

	loc := core.Location{Name: "Yard Gate", Address: "Gate 3", Category: core.LocationWork}
	committed, err := st.eng.CommitGroup(ctx, &loc)
	if err != nil {
		t.Fatalf("CommitGroup should not error: %v", err)
	}
	if committed.Kind != engine.ResultGroupCommitted {
		t.Fatalf("the commit pass should finish, got %s", committed.Kind)
	}
	if committed.Group == nil || len(committed.Group.Committed) != 3 {
		t.Fatalf("all three admissions should commit, got %+v", committed.Group)
	}
	if len(committed.Group.Failed) != 0 {
		t.Errorf("no admission should fail, got %+v", committed.Group.Failed)
	}

	for _, id := range []string{dana.ID, miles.ID, ruth.ID} {
		recs := st.ledger(t, id)
		if len(recs) != 2 {
			t.Fatalf("%s should have a clock-in and a group checkout, got %d records", id, len(recs))
		}
		last := recs[len(recs)-1]
		if !last.IsCheck() || last.Direction != core.DirOut {
			t.Errorf("%s's group record should be check/out, got %s/%s", id, last.Kind, last.Direction)
		}
		if last.Location == nil || last.Location.Name != "Yard Gate" {
			t.Errorf("%s's group record should carry the shared destination, got %+v", id, last.Location)
		}
	}

	if n := len(st.eng.GroupStatus().Entries); n != 0 {
		t.Errorf("the buffer should be empty after the commit, got %d entries", n)
	}

	// Already out: a re-admission attempt is refused, not re-buffered.
	again := st.tap(t, dana.ID)
	if again.Kind != engine.ResultRejected || again.Reject != core.RejectAlreadyCheckedOut {
		t.Errorf("a checked-out subject should be refused re-admission, got %s (reject=%s)", again.Kind, again.Reject)
	}

	off, err := st.eng.SetGroupMode(ctx, false)
	if err != nil {
		t.Fatalf("SetGroupMode(false) should not error: %v", err)
	}
	if off.GroupOn {
		t.Error("group mode should report disabled after the session")
	}
}

// =============================================================================
// 6. CALIBRATION — warm-up frames gate recognition, cooldowns gate repeat scans
// =============================================================================

// postFrame feeds one detector frame and waits for its warm-up verdict, so
// the single-slot mailbox never overwrites an unread frame.
func postFrame(t *testing.T, st *station, traces chan *events.CloudEvent, frame uint64, ref string) *events.CloudEvent {
	t.Helper()
	st.box.Post(intake.Detection{
		FrameIndex: frame,
		Box:        pb.BoundingBox{X: 140, Y: 90, Width: 60, Height: 60},
		Confidence: 0.95,
		FrameRef:   "frame-" + ref,
	})
	return waitEvent(t, traces, 3*time.Second)
}

func TestCalibration_WarmupFramesGateRecognition(t *testing.T) {
	st := newStation(t, func(s *settings.Shift) {
		s.WarmupEnabled = true
		s.WarmupFrames = 4
	})
	for _, ref := range []string{"a", "b", "c", "d"} {
		st.ident.Learn("frame-"+ref, recognizer.Match{SubjectID: ruth.ID, Confidence: 0.91})
	}
	traces := st.bus.Subscribe(events.TypeRecognitionTrace)
	committed := st.bus.Subscribe(events.TypeAttendanceCommitted)

	// Three stable frames: still warming, nothing identified, nothing written.
	for i, ref := range []string{"a", "b", "c"} {
		verdict := postFrame(t, st, traces, uint64(i+1), ref)
		if verdict.Data["phase"] != "warming" {
			t.Fatalf("frame %d should still be warming, got %v", i+1, verdict.Data["phase"])
		}
		if verdict.Data["progress_frames"] != i+1 {
			t.Errorf("frame %d should report progress %d, got %v", i+1, i+1, verdict.Data["progress_frames"])
		}
	}
	if got := len(st.ledger(t, ruth.ID)); got != 0 {
		t.Fatalf("no record should exist before the warm-up completes, got %d", got)
	}

	// The fourth stable frame satisfies the warm-up and reaches the recognizer.
	verdict := postFrame(t, st, traces, 4, "d")
	if verdict.Data["phase"] != "ready" {
		t.Fatalf("frame 4 should be ready, got %v", verdict.Data["phase"])
	}
	ev := waitEvent(t, committed, 3*time.Second)
	if ev.Subject != ruth.ID {
		t.Errorf("the committed event should name the recognized subject, got %q", ev.Subject)
	}

	recs := st.ledger(t, ruth.ID)
	if len(recs) != 1 || !recs[0].IsClockIn() {
		t.Fatalf("the sighting should have clocked the subject in, got %d records", len(recs))
	}
	if recs[0].Method != core.MethodFace {
		t.Errorf("a vision commit should carry the face method, got %s", recs[0].Method)
	}

	// Right after a recognition the global cooldown suppresses the next
	// sighting before it can cost another recognizer call.
	cooled := postFrame(t, st, traces, 5, "a")
	if cooled.Data["phase"] != "cooldown" {
		t.Errorf("a sighting inside the recognition cooldown should be suppressed, got %v", cooled.Data["phase"])
	}
}

func TestCalibration_ScanCooldownSuppressesRepeatScans(t *testing.T) {
	st := newStation(t, nil)
	st.clk.Set(day(7, 45))

	first := st.submit(t, intake.IdentityEvent{Code: dana.ID, Method: core.MethodCode})
	if first.Kind != engine.ResultCommitted {
		t.Fatalf("the first badge scan should commit, got %s", first.Kind)
	}

	// Same reader, same instant: suppressed no matter whose badge it is.
	second := st.submit(t, intake.IdentityEvent{Code: miles.ID, Method: core.MethodCode})
	if second.Kind != engine.ResultRejected || second.Reject != core.RejectCooldownActive {
		t.Fatalf("an immediate repeat scan should hit the cooldown, got %s (reject=%s)", second.Kind, second.Reject)
	}

	// Manual taps are for the desk attendant and are never suppressed.
	tap := st.tap(t, ruth.ID)
	if tap.Kind != engine.ResultCommitted {
		t.Errorf("a manual tap inside the scan cooldown should still commit, got %s", tap.Kind)
	}

	// Once the window passes the reader accepts again.
	st.clk.Advance(6 * time.Second)
	third := st.submit(t, intake.IdentityEvent{Code: miles.ID, Method: core.MethodCode})
	if third.Kind != engine.ResultCommitted {
		t.Fatalf("a scan after the cooldown window should commit, got %s (reject=%s)", third.Kind, third.Reject)
	}
}

// =============================================================================
// 7. HTTP SURFACE — the same flows through the REST API and the Go SDK
// =============================================================================

// newHTTPStation serves a wired station over httptest and returns SDK
// clients with and without an operator key.
func newHTTPStation(t *testing.T) (*station, *sdk.Client, *sdk.Client) {
	t.Helper()
	st := newStation(t, nil)

	keyring := auth.NewKeyring()
	_, plain, err := keyring.Generate("e2e-suite")
	if err != nil {
		t.Fatalf("Generate should not error: %v", err)
	}

	srv := api.NewServer(api.Config{
		StationID: "e2e-1",
		Engine:    st.eng,
		Store:     st.store,
		Settings:  st.mgr,
		Registry:  webhooks.NewRegistry(),
		Bus:       st.bus,
		Keyring:   keyring,
		Clock:     st.clk,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	operator := sdk.NewClient(sdk.Config{BaseURL: ts.URL, APIKey: plain})
	anon := sdk.NewClient(sdk.Config{BaseURL: ts.URL})
	return st, operator, anon
}

func TestHTTP_ManualFlowOverSDK(t *testing.T) {
	st, _, client := newHTTPStation(t)
	ctx := context.Background()

	st.clk.Set(day(7, 50))
	in, err := client.Manual(ctx, dana.ID, sdk.ScanRequest{})
	if err != nil {
		t.Fatalf("Manual should not error: %v", err)
	}
	if in.Kind != sdk.OutcomeCommitted {
		t.Fatalf("the clock-in should commit over HTTP, got %s", in.Kind)
	}
	if in.Record == nil || in.Record.Kind != "clock" || in.Record.Direction != "in" {
		t.Errorf("the outcome should carry the clock-in record, got %+v", in.Record)
	}

	// The checkout parks; the SDK sees the 202 and the request id.
	st.clk.Set(day(12, 15))
	out, err := client.Manual(ctx, dana.ID, sdk.ScanRequest{})
	if err != nil {
		t.Fatalf("Manual should not error: %v", err)
	}
	if out.Kind != sdk.OutcomeLocationRequired || out.RequestID == "" {
		t.Fatalf("the checkout should park on the picker, got %s (request=%q)", out.Kind, out.RequestID)
	}

	done, err := client.ResolveLocation(ctx, out.RequestID, sdk.LocationResolution{
		Location: &sdk.Location{Name: "Depot 4", Category: "work"},
	})
	if err != nil {
		t.Fatalf("ResolveLocation should not error: %v", err)
	}
	if done.Kind != sdk.OutcomeCommitted {
		t.Fatalf("resolving should commit the checkout, got %s", done.Kind)
	}
	if done.Record == nil || done.Record.Location == nil || done.Record.Location.Name != "Depot 4" {
		t.Errorf("the committed record should carry the location, got %+v", done.Record)
	}

	recs, err := client.DayRecords(ctx, "")
	if err != nil {
		t.Fatalf("DayRecords should not error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("the station should report both records for today, got %d", len(recs))
	}

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health should not error: %v", err)
	}
	if health.Status != "healthy" || health.Station != "e2e-1" {
		t.Errorf("the station should report healthy, got status=%q station=%q", health.Status, health.Station)
	}
}

func TestHTTP_OperatorKeyGatesSettingsWrites(t *testing.T) {
	st, operator, anon := newHTTPStation(t)
	ctx := context.Background()

	live, err := anon.Settings(ctx)
	if err != nil {
		t.Fatalf("settings reads should be open: %v", err)
	}
	if live.EarlyShiftMinClockout != "17:00" {
		t.Errorf("default early release should read back as 17:00, got %q", live.EarlyShiftMinClockout)
	}

	_, err = anon.UpdateSettings(ctx, map[string]interface{}{"warmup_frames": 20})
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("a settings write without a key should fail with an APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("a settings write without a key should be 401, got %d", apiErr.Status)
	}

	updated, err := operator.UpdateSettings(ctx, map[string]interface{}{"warmup_frames": 20})
	if err != nil {
		t.Fatalf("a settings write with the operator key should succeed: %v", err)
	}
	if updated.WarmupFrames != 20 {
		t.Errorf("the patch should overlay warmup_frames, got %d", updated.WarmupFrames)
	}
	if got := st.mgr.Current().WarmupFrames; got != 20 {
		t.Errorf("the live snapshot should pick up the patch, got %d", got)
	}
}
