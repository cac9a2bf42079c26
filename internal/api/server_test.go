package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftgate/kiosk/internal/auth"
	"github.com/shiftgate/kiosk/internal/clock"
	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/directory"
	"github.com/shiftgate/kiosk/internal/engine"
	"github.com/shiftgate/kiosk/internal/events"
	"github.com/shiftgate/kiosk/internal/settings"
	"github.com/shiftgate/kiosk/internal/store"
	"github.com/shiftgate/kiosk/internal/webhooks"
)

type serverFixture struct {
	api  *Server
	st   *store.MemoryStore
	clk  *clock.Manual
	mgr  *settings.Manager
	bus  *events.EventBus
	reg  *webhooks.Registry
	ring *auth.Keyring
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := settings.Default()
	cfg.WarmupEnabled = false

	f := &serverFixture{
		st:   store.NewMemoryStore(),
		clk:  clock.NewManual(),
		mgr:  settings.NewManager(cfg),
		bus:  events.NewEventBus(),
		reg:  webhooks.NewRegistry(),
		ring: auth.NewKeyring(),
	}
	f.clk.Set(time.Date(2025, 6, 10, 7, 30, 0, 0, time.Local))

	dir := directory.NewMemory(
		core.Subject{ID: "s-alice", Name: "Alice", Role: core.RoleStaff},
		core.Subject{ID: "s-bruno", Name: "Bruno", Role: core.RoleStaff},
	)

	eng := engine.New(engine.Config{
		StationID: "test-1",
		Clock:     f.clk,
		Directory: dir,
		Store:     f.st,
		Settings:  f.mgr,
		Events:    f.bus,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(cancel)

	f.api = NewServer(Config{
		StationID: "test-1",
		Engine:    eng,
		Store:     f.st,
		Settings:  f.mgr,
		Registry:  f.reg,
		Bus:       f.bus,
		Keyring:   f.ring,
		Clock:     f.clk,
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return f.doAuth(t, method, path, body, "")
}

func (f *serverFixture) doAuth(t *testing.T, method, path string, body interface{}, key string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) engine.Result {
	t.Helper()
	var res engine.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

// ===== SUBMISSIONS =====

func TestManualEndpointCommitsClockIn(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	assert.Equal(t, engine.ResultCommitted, res.Kind)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.IsClockIn())
}

func TestScanEndpointValidatesPayload(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/events/scan", map[string]string{"method": "code"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/events/scan", map[string]string{"subject_id": "s-alice", "method": "retina"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/events/scan", map[string]string{"subject_id": "s-alice", "intent": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualEndpointPinsMethod(t *testing.T) {
	f := newServerFixture(t)

	// Even a payload claiming to be a face sighting commits as manual.
	rec := f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{
		"subject_id": "s-alice",
		"method":     "face",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	require.NotNil(t, res.Record)
	assert.Equal(t, core.MethodManual, res.Record.Method)
}

func TestCheckoutParksThenLocationResolves(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	f.clk.Advance(time.Hour)

	rec = f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	parked := decodeResult(t, rec)
	require.Equal(t, engine.ResultLocationRequired, parked.Kind)
	require.NotEmpty(t, parked.RequestID)

	rec = f.do(t, http.MethodPost, "/api/v1/locations/"+parked.RequestID, map[string]interface{}{
		"location": map[string]string{"name": "Depot 4", "category": "work"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeResult(t, rec)
	assert.Equal(t, engine.ResultCommitted, done.Kind)
	require.NotNil(t, done.Record.Location)
	assert.Equal(t, "Depot 4", done.Record.Location.Name)
}

func TestResolveUnknownRequestIs404(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/locations/no-such-id", map[string]bool{"cancel": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLocationListServesPickerOptions(t *testing.T) {
	f := newServerFixture(t)

	// No source wired: the picker gets an empty list, not an error.
	rec := f.do(t, http.MethodGet, "/api/v1/locations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	f.api.cfg.Locations = func(context.Context) ([]core.Location, error) {
		return []core.Location{{Name: "Depot 4", Category: core.LocationWork}}, nil
	}
	rec = f.do(t, http.MethodGet, "/api/v1/locations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var locs []core.Location
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &locs))
	require.Len(t, locs, 1)
	assert.Equal(t, "Depot 4", locs[0].Name)
}

// ===== GROUP =====

func TestGroupFlowOverHTTP(t *testing.T) {
	f := newServerFixture(t)

	// Clock both in so the evening toggle is a checkout.
	f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})
	f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-bruno"})
	f.clk.Advance(time.Hour)

	rec := f.do(t, http.MethodPost, "/api/v1/group/mode", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.ResultGroupAdmitted, decodeResult(t, rec).Kind)

	rec = f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-bruno"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/group", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.GroupStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Enabled)
	assert.Len(t, status.Entries, 2)

	rec = f.do(t, http.MethodPost, "/api/v1/group/commit", map[string]interface{}{
		"location": map[string]string{"name": "Depot 4", "category": "work"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	require.Equal(t, engine.ResultGroupCommitted, res.Kind)
	require.NotNil(t, res.Group)
	assert.Len(t, res.Group.Committed, 2)
	assert.Empty(t, res.Group.Failed)
}

func TestGroupCommitWithoutModeIsConflict(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/group/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/group/clear", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ===== RECORDS =====

func TestSubjectRecordsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})

	rec := f.do(t, http.MethodGet, "/api/v1/subjects/s-alice/records?day=2025-06-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int                     `json:"count"`
		Records []core.AttendanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "s-alice", body.Records[0].SubjectID)

	rec = f.do(t, http.MethodGet, "/api/v1/subjects/s-alice/records?day=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDayRecordsDefaultToToday(t *testing.T) {
	f := newServerFixture(t)
	f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})
	f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-bruno"})

	rec := f.do(t, http.MethodGet, "/api/v1/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Day   string `json:"day"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025-06-10", body.Day)
	assert.Equal(t, 2, body.Count)
}

// ===== SETTINGS =====

func TestSettingsOverlayUpdate(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{"warmup_frames": 30})
	require.Equal(t, http.StatusOK, rec.Code)

	got := f.mgr.Current()
	assert.Equal(t, 30, got.WarmupFrames)
	// Untouched fields keep their values.
	assert.Equal(t, settings.GroupCommitReject, got.GroupCommitMode)

	rec = f.do(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{"warmup_frames": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSettingsWriteNeedsOperatorKey(t *testing.T) {
	f := newServerFixture(t)
	_, full, err := f.ring.Generate("ops")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{"warmup_frames": 30})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.doAuth(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{"warmup_frames": 30}, full)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Reads stay open.
	rec = f.do(t, http.MethodGet, "/api/v1/settings", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ===== WEBHOOKS =====

func TestWebhookLifecycle(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks", map[string]interface{}{
		"url":    "https://payroll.example.com/hook",
		"events": []string{"attendance.committed"},
		"secret": "hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var sub webhooks.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.NotEmpty(t, sub.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sub.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/webhooks/"+sub.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/webhooks/"+sub.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/webhooks/"+sub.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookRegistrationRejectsUnknownEvent(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks", map[string]interface{}{
		"url":    "https://payroll.example.com/hook",
		"events": []string{"attendance.vanished"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ===== HEALTH AND STREAM =====

func TestHealthReportsEngineState(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string        `json:"status"`
		Station string        `json:"station"`
		Engine  engine.Health `json:"engine"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test-1", body.Station)
	assert.Equal(t, "test-1", body.Engine.Station)

	// No supervisor wired: the vision key stays absent.
	assert.NotContains(t, rec.Body.String(), `"vision"`)

	f.api.cfg.Vision = func() map[string]interface{} {
		return map[string]interface{}{"shiftgate-detector-test-1": "running"}
	}
	rec = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shiftgate-detector-test-1":"running"`)
}

func TestEventStreamDeliversOutcomes(t *testing.T) {
	f := newServerFixture(t)
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/events/stream?types=attendance.committed", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, ": connected"))

	f.do(t, http.MethodPost, "/api/v1/events/manual", map[string]string{"subject_id": "s-alice"})

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: attendance.committed") {
			return
		}
	}
}

// ===== CORS =====

func TestCORSOriginMatching(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("empty config allows everything", func(t *testing.T) {
		h := makeCORSMiddleware(nil)(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("exact and wildcard origins", func(t *testing.T) {
		h := makeCORSMiddleware([]string{"https://kiosk.example.com", "https://*.run.app"})(next)

		tests := []struct {
			origin string
			want   string
		}{
			{"https://kiosk.example.com", "https://kiosk.example.com"},
			{"https://display-1.run.app", "https://display-1.run.app"},
			{"http://display-1.run.app", ""},
			{"https://evil.example.net", ""},
		}
		for _, tt := range tests {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"), "origin %s", tt.origin)
		}
	})

	t.Run("preflight answers directly", func(t *testing.T) {
		h := makeCORSMiddleware([]string{"https://kiosk.example.com"})(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/events/manual", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
