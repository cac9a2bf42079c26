package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftgate/kiosk/internal/clock"
	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/directory"
	"github.com/shiftgate/kiosk/internal/events"
	"github.com/shiftgate/kiosk/internal/intake"
	"github.com/shiftgate/kiosk/internal/recognizer"
	"github.com/shiftgate/kiosk/internal/settings"
	"github.com/shiftgate/kiosk/internal/shift"
	"github.com/shiftgate/kiosk/internal/store"
	"github.com/shiftgate/kiosk/pb"
)

var (
	alice = core.Subject{ID: "s-alice", Name: "Alice", Role: core.RoleStaff}
	bruno = core.Subject{ID: "s-bruno", Name: "Bruno", Role: core.RoleStaff}
	nadia = core.Subject{ID: "g-nadia", Name: "Nadia", Role: core.RoleSecurity}
)

// testDay builds a timestamp on a fixed reference day.
func testDay(hour, min int) time.Time {
	return time.Date(2025, 6, 10, hour, min, 0, 0, time.Local)
}

type fixture struct {
	eng   *Engine
	store *store.MemoryStore
	dir   *directory.Memory
	clk   *clock.Manual
	mgr   *settings.Manager
	bus   *events.EventBus
	box   *intake.Mailbox
	ident *recognizer.Static
}

func buildFixture(mutate func(*settings.Shift)) *fixture {
	cfg := settings.Default()
	cfg.WarmupEnabled = false
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		store: store.NewMemoryStore(),
		dir:   directory.NewMemory(alice, bruno, nadia),
		clk:   clock.NewManual(),
		mgr:   settings.NewManager(cfg),
		bus:   events.NewEventBus(),
		box:   intake.NewMailbox(),
		ident: recognizer.NewStatic(),
	}
	f.clk.Set(testDay(7, 30))
	f.eng = New(Config{
		StationID:  "test-1",
		Clock:      f.clk,
		Directory:  f.dir,
		Store:      f.store,
		Settings:   f.mgr,
		Identifier: f.ident,
		Mailbox:    f.box,
		Events:     f.bus,
	})
	f.eng.retryDelay = time.Millisecond
	return f
}

// newFixture starts the engine loop; messages flow through Run.
func newFixture(t *testing.T, mutate func(*settings.Shift)) *fixture {
	t.Helper()
	f := buildFixture(mutate)
	ctx, cancel := context.WithCancel(context.Background())
	go f.eng.Run(ctx)
	t.Cleanup(cancel)
	return f
}

// newBareFixture skips Run so a test can drive loop handlers directly.
func newBareFixture(t *testing.T, mutate func(*settings.Shift)) *fixture {
	t.Helper()
	return buildFixture(mutate)
}

func (f *fixture) submit(t *testing.T, ev intake.IdentityEvent) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.eng.Submit(ctx, ev)
	require.NoError(t, err)
	return res
}

func (f *fixture) manual(t *testing.T, subjectID string) Result {
	t.Helper()
	return f.submit(t, intake.IdentityEvent{SubjectID: subjectID, Method: core.MethodManual})
}

func (f *fixture) records(t *testing.T, subjectID string) []core.AttendanceRecord {
	t.Helper()
	recs, err := f.store.ListForSubjectOn(context.Background(), subjectID, f.clk.Now())
	require.NoError(t, err)
	return recs
}

func waitEvent(t *testing.T, ch chan *events.CloudEvent, within time.Duration) *events.CloudEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// ===== INDIVIDUAL FLOW =====

func TestManualClockInCommits(t *testing.T) {
	f := newFixture(t, nil)

	res := f.manual(t, alice.ID)

	require.Equal(t, ResultCommitted, res.Kind)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.IsClockIn())
	assert.False(t, res.Record.Late)
	assert.Equal(t, shift.LabelEarlyShift, res.Record.ShiftLabel)
	assert.Len(t, f.records(t, alice.ID), 1)
}

func TestCheckOutParksUntilLocationResolves(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, alice.ID) // clock in
	f.clk.Advance(time.Hour)

	res := f.manual(t, alice.ID)
	require.Equal(t, ResultLocationRequired, res.Kind)
	require.NotEmpty(t, res.RequestID)
	assert.Equal(t, PurposeCheckout, res.Purpose)
	// Nothing reaches the store while the picker is open.
	assert.Len(t, f.records(t, alice.ID), 1)

	ctx := context.Background()
	loc := &core.Location{Name: "Depot 4", Address: "Quay Rd 1", Category: core.LocationWork}
	done, err := f.eng.ResolveLocation(ctx, res.RequestID, LocationResult{Location: loc})
	require.NoError(t, err)
	require.Equal(t, ResultCommitted, done.Kind)
	assert.True(t, done.Record.IsCheck())
	assert.Equal(t, core.DirOut, done.Record.Direction)
	require.NotNil(t, done.Record.Location)
	assert.Equal(t, "Depot 4", done.Record.Location.Name)
	assert.Len(t, f.records(t, alice.ID), 2)
}

func TestLocationCancelAbortsWithoutWriting(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, alice.ID)
	f.clk.Advance(time.Hour)

	res := f.manual(t, alice.ID)
	require.Equal(t, ResultLocationRequired, res.Kind)

	done, err := f.eng.ResolveLocation(context.Background(), res.RequestID, LocationResult{Cancel: true})
	require.NoError(t, err)
	assert.Equal(t, ResultAborted, done.Kind)
	assert.Equal(t, core.AbortLocationCancelled, done.Abort)
	assert.Len(t, f.records(t, alice.ID), 1)
}

func TestResolveUnknownRequestErrors(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.eng.ResolveLocation(context.Background(), "no-such-id", LocationResult{Cancel: true})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestEarlyFinalRejectOffersEmergencyOverride(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, alice.ID)
	f.clk.Advance(2 * time.Hour) // 09:30, well before the cutoff

	res := f.submit(t, intake.IdentityEvent{SubjectID: alice.ID, Method: core.MethodManual, Intent: shift.IntentFinal})
	require.Equal(t, ResultRejected, res.Kind)
	assert.Equal(t, core.RejectEarlyClockout, res.Reject)
	require.NotEmpty(t, res.RequestID, "an early final should carry an emergency offer")
	assert.Equal(t, PurposeEmergency, res.Purpose)

	done, err := f.eng.ResolveLocation(context.Background(), res.RequestID, LocationResult{
		Emergency: &core.Emergency{Reason: "medical"},
		Location:  &core.Location{Name: "St. Anna Clinic", Category: core.LocationPersonal},
	})
	require.NoError(t, err)
	require.Equal(t, ResultCommitted, done.Kind)
	assert.True(t, done.Record.IsClockOut())
	require.NotNil(t, done.Record.Emergency)
	assert.Equal(t, "medical", done.Record.Emergency.Reason)
	require.NotNil(t, done.Record.Location)
	assert.Equal(t, shift.LabelEarlyShift, done.Record.ShiftLabel)
}

func TestEmergencyOfferNeedsContextNotJustLocation(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, alice.ID)
	f.clk.Advance(time.Hour)

	res := f.submit(t, intake.IdentityEvent{SubjectID: alice.ID, Method: core.MethodManual, Intent: shift.IntentFinal})
	require.Equal(t, ResultRejected, res.Kind)
	require.NotEmpty(t, res.RequestID)

	done, err := f.eng.ResolveLocation(context.Background(), res.RequestID, LocationResult{
		Location: &core.Location{Name: "Somewhere"},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultAborted, done.Kind)
	assert.Equal(t, core.AbortLocationCancelled, done.Abort)
	assert.Len(t, f.records(t, alice.ID), 1)
}

func TestInlineEmergencyCommitsDirectly(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, alice.ID)
	f.clk.Advance(time.Hour)

	res := f.submit(t, intake.IdentityEvent{
		SubjectID: alice.ID,
		Method:    core.MethodManual,
		Emergency: &core.Emergency{Reason: "family"},
		Location:  &core.Location{Name: "Home", Category: core.LocationPersonal},
	})
	require.Equal(t, ResultCommitted, res.Kind)
	assert.True(t, res.Record.IsClockOut())
	require.NotNil(t, res.Record.Emergency)
	assert.Equal(t, "family", res.Record.Emergency.Reason)
}

// ===== COOLDOWNS =====

func TestScanCooldownIsPerMethod(t *testing.T) {
	f := newFixture(t, nil)

	first := f.submit(t, intake.IdentityEvent{Code: alice.ID, Method: core.MethodCode})
	require.Equal(t, ResultCommitted, first.Kind)

	// Same method, same instant: suppressed no matter whose badge it is.
	second := f.submit(t, intake.IdentityEvent{Code: bruno.ID, Method: core.MethodCode})
	assert.Equal(t, ResultRejected, second.Kind)
	assert.Equal(t, core.RejectCooldownActive, second.Reject)

	// Face holds its own window and manual is never suppressed.
	face := f.submit(t, intake.IdentityEvent{SubjectID: bruno.ID, Method: core.MethodFace})
	assert.Equal(t, ResultCommitted, face.Kind)
	tap := f.manual(t, nadia.ID)
	assert.Equal(t, ResultCommitted, tap.Kind)

	f.clk.Advance(6 * time.Second)
	again := f.submit(t, intake.IdentityEvent{Code: bruno.ID, Method: core.MethodCode})
	// Bruno is clocked in by now, so the toggle wants a location.
	assert.Equal(t, ResultLocationRequired, again.Kind)
}

// ===== STORE FAILURES =====

func TestTransientAppendFailureIsRetriedOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.store.FailAppends(1, store.Transient(errors.New("connection reset")))

	res := f.manual(t, alice.ID)

	require.Equal(t, ResultCommitted, res.Kind)
	assert.Len(t, f.records(t, alice.ID), 1)
}

func TestExhaustedRetriesSurfaceCommitFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.store.FailAppends(2, store.Transient(errors.New("connection reset")))

	res := f.manual(t, alice.ID)

	require.Equal(t, ResultRejected, res.Kind)
	assert.Equal(t, core.RejectCommitFailed, res.Reject)
	assert.Empty(t, f.records(t, alice.ID))
	assert.True(t, strings.HasPrefix(f.eng.Health().LastFatal, "store_write_failed"),
		"health names what broke: %q", f.eng.Health().LastFatal)
}

func TestUnknownSubjectRejected(t *testing.T) {
	f := newFixture(t, nil)
	res := f.manual(t, "nobody-77")
	require.Equal(t, ResultRejected, res.Kind)
	assert.Equal(t, core.RejectSubjectNotFound, res.Reject)
}

// ===== SUPERSEDING =====

func TestNewSubmissionSupersedesParkedRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, alice.ID)
	f.clk.Advance(time.Hour)

	aborts := f.bus.Subscribe(events.TypeAttendanceAborted)

	first := f.manual(t, alice.ID)
	require.Equal(t, ResultLocationRequired, first.Kind)

	second := f.manual(t, alice.ID)
	require.Equal(t, ResultLocationRequired, second.Kind)
	require.NotEqual(t, first.RequestID, second.RequestID)

	ev := waitEvent(t, aborts, 2*time.Second)
	assert.Equal(t, string(core.AbortSuperseded), ev.Data["reason"])

	_, err := f.eng.ResolveLocation(context.Background(), first.RequestID, LocationResult{Cancel: true})
	assert.ErrorIs(t, err, ErrUnknownRequest)

	done, err := f.eng.ResolveLocation(context.Background(), second.RequestID, LocationResult{
		Location: &core.Location{Name: "Depot 4", Category: core.LocationWork},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultCommitted, done.Kind)
	assert.Len(t, f.records(t, alice.ID), 2)
}

// ===== GROUP CHECKOUT =====

func TestGroupAdmissionsAndCommit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.manual(t, alice.ID)
	f.manual(t, bruno.ID)

	mode, err := f.eng.SetGroupMode(ctx, true)
	require.NoError(t, err)
	assert.True(t, mode.GroupOn)

	a := f.manual(t, alice.ID)
	require.Equal(t, ResultGroupAdmitted, a.Kind)
	assert.Equal(t, 1, a.GroupCount)

	b := f.manual(t, bruno.ID)
	require.Equal(t, ResultGroupAdmitted, b.Kind)
	assert.Equal(t, 2, b.GroupCount)

	notIn := f.manual(t, nadia.ID)
	require.Equal(t, ResultRejected, notIn.Kind)
	assert.Equal(t, core.RejectNotClockedIn, notIn.Reject)

	dup := f.manual(t, alice.ID)
	require.Equal(t, ResultRejected, dup.Kind)
	assert.Equal(t, core.RejectAlreadyInGroup, dup.Reject)

	loc := core.Location{Name: "Yard Gate", Category: core.LocationWork}
	committed, err := f.eng.CommitGroup(ctx, &loc)
	require.NoError(t, err)
	require.Equal(t, ResultGroupCommitted, committed.Kind)
	require.NotNil(t, committed.Group)
	assert.Equal(t, []string{alice.ID, bruno.ID}, committed.Group.Committed)
	assert.Empty(t, committed.Group.Failed)

	for _, id := range []string{alice.ID, bruno.ID} {
		recs := f.records(t, id)
		require.Len(t, recs, 2)
		last := recs[len(recs)-1]
		assert.True(t, last.IsCheck())
		assert.Equal(t, core.DirOut, last.Direction)
		require.NotNil(t, last.Location)
		assert.Equal(t, "Yard Gate", last.Location.Name)
	}
	assert.Empty(t, f.eng.GroupStatus().Entries)
}

func TestGroupCommitEmptyAborts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.eng.SetGroupMode(ctx, true)
	require.NoError(t, err)

	res, err := f.eng.CommitGroup(ctx, &core.Location{Name: "Yard"})
	require.NoError(t, err)
	assert.Equal(t, ResultAborted, res.Kind)
	assert.Equal(t, core.AbortGroupCommitEmpty, res.Abort)
}

func TestGroupCommitRequiresGroupMode(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.eng.CommitGroup(context.Background(), &core.Location{Name: "Yard"})
	assert.ErrorIs(t, err, ErrGroupModeOff)
}

func TestParkedGroupCommitRejectsAdmissions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.manual(t, alice.ID)
	f.manual(t, bruno.ID)
	_, err := f.eng.SetGroupMode(ctx, true)
	require.NoError(t, err)
	f.manual(t, alice.ID) // admitted

	parked, err := f.eng.CommitGroup(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, ResultLocationRequired, parked.Kind)
	assert.Equal(t, PurposeGroupCheckout, parked.Purpose)

	busy := f.manual(t, bruno.ID)
	require.Equal(t, ResultRejected, busy.Kind)
	assert.Equal(t, core.RejectGroupCommitBusy, busy.Reject)

	done, err := f.eng.ResolveLocation(ctx, parked.RequestID, LocationResult{
		Location: &core.Location{Name: "Yard Gate", Category: core.LocationWork},
	})
	require.NoError(t, err)
	require.Equal(t, ResultGroupCommitted, done.Kind)
	assert.Equal(t, []string{alice.ID}, done.Group.Committed)
}

func TestQueueModeHoldsAdmissionsThroughCommit(t *testing.T) {
	f := newBareFixture(t, func(s *settings.Shift) {
		s.GroupCommitMode = settings.GroupCommitQueue
	})
	ctx := context.Background()

	clockIn := func(id string) {
		env := &envelope{kind: msgSubmit, reply: make(chan reply, 1),
			event: intake.IdentityEvent{SubjectID: id, Method: core.MethodManual}}
		f.eng.handleSubmit(ctx, env)
		r := <-env.reply
		require.Equal(t, ResultCommitted, r.res.Kind)
	}
	clockIn(alice.ID)
	clockIn(bruno.ID)

	_, err := f.eng.handleGroupMode(ctx, true)
	require.NoError(t, err)

	admit := &envelope{kind: msgSubmit, reply: make(chan reply, 1),
		event: intake.IdentityEvent{SubjectID: alice.ID, Method: core.MethodManual}}
	f.eng.handleSubmit(ctx, admit)
	require.Equal(t, ResultGroupAdmitted, (<-admit.reply).res.Kind)

	parked, err := f.eng.handleGroupCommit(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, ResultLocationRequired, parked.Kind)

	// Bruno arrives mid-commit: held back, not rejected.
	queued := &envelope{kind: msgSubmit, reply: make(chan reply, 1),
		event: intake.IdentityEvent{SubjectID: bruno.ID, Method: core.MethodManual}}
	f.eng.handleSubmit(ctx, queued)
	require.Empty(t, queued.reply)
	require.Len(t, f.eng.queued, 1)

	done, err := f.eng.handleResolve(ctx, parked.RequestID, LocationResult{
		Location: &core.Location{Name: "Yard Gate", Category: core.LocationWork},
	})
	require.NoError(t, err)
	require.Equal(t, ResultGroupCommitted, done.Kind)
	assert.Equal(t, []string{alice.ID}, done.Group.Committed)

	// The drain answered the queued admission.
	r := <-queued.reply
	require.Equal(t, ResultGroupAdmitted, r.res.Kind)
	assert.Equal(t, 1, r.res.GroupCount)
}

func TestDisablingGroupModeDiscardsSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.manual(t, alice.ID)
	_, err := f.eng.SetGroupMode(ctx, true)
	require.NoError(t, err)
	f.manual(t, alice.ID) // admitted

	off, err := f.eng.SetGroupMode(ctx, false)
	require.NoError(t, err)
	assert.False(t, off.GroupOn)
	assert.Equal(t, 1, off.GroupCount)

	status := f.eng.GroupStatus()
	assert.False(t, status.Enabled)
	assert.Empty(t, status.Entries)
	// Only the clock-in was ever written.
	assert.Len(t, f.records(t, alice.ID), 1)
}

// ===== VISION PATH =====

func TestWarmupSightingCommitsThroughRecognizer(t *testing.T) {
	f := newFixture(t, func(s *settings.Shift) {
		s.WarmupEnabled = true
		s.WarmupFrames = 3
	})
	for i := 1; i <= 3; i++ {
		f.ident.Learn("frame-"+string(rune('0'+i)), recognizer.Match{SubjectID: alice.ID, Confidence: 0.93})
	}
	committed := f.bus.Subscribe(events.TypeAttendanceCommitted)

	for i := uint64(1); i <= 3; i++ {
		f.box.Post(intake.Detection{
			FrameIndex: i,
			Box:        pb.BoundingBox{X: 120, Y: 80, Width: 60, Height: 60},
			Confidence: 0.95,
			FrameRef:   "frame-" + string(rune('0'+i)),
		})
		// The pump consumes one frame at a time; give it room so no
		// frame replaces an unread one.
		time.Sleep(10 * time.Millisecond)
	}

	ev := waitEvent(t, committed, 3*time.Second)
	assert.Equal(t, alice.ID, ev.Subject)

	recs := f.records(t, alice.ID)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsClockIn())
	assert.Equal(t, core.MethodFace, recs[0].Method)
}

func TestUnknownSightingEmitsRejection(t *testing.T) {
	f := newFixture(t, nil) // warm-up off: first frame is ready
	rejected := f.bus.Subscribe(events.TypeAttendanceRejected)

	f.box.Post(intake.Detection{
		FrameIndex: 1,
		Box:        pb.BoundingBox{X: 10, Y: 10, Width: 40, Height: 40},
		Confidence: 0.9,
		FrameRef:   "frame-x",
	})

	ev := waitEvent(t, rejected, 3*time.Second)
	assert.Equal(t, string(core.RejectSubjectNotFound), ev.Data["code"])
}
