// Package api exposes the kiosk over REST/JSON plus the two websockets:
// detection ingress from the detector sidecar and outcome egress for
// displays and SDK clients.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shiftgate/kiosk/internal/auth"
	"github.com/shiftgate/kiosk/internal/clock"
	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/engine"
	"github.com/shiftgate/kiosk/internal/events"
	"github.com/shiftgate/kiosk/internal/settings"
	"github.com/shiftgate/kiosk/internal/store"
	"github.com/shiftgate/kiosk/internal/webhooks"
	ws "github.com/shiftgate/kiosk/internal/websocket"
)

// Config carries the wired components. Keyring, Ingress, and Streamer may
// be nil; the matching routes are then absent or open.
type Config struct {
	StationID string
	Engine    *engine.Engine
	Store     store.RecordStore
	Settings  *settings.Manager
	Registry  *webhooks.Registry
	Bus       *events.EventBus
	Keyring   *auth.Keyring
	Clock     clock.Clock
	Ingress   http.Handler
	Streamer  *ws.OutcomeStreamer

	// Locations lists selectable checkout destinations for the display
	// picker. Optional; nil serves an empty list and displays fall back to
	// free-text entry.
	Locations func(ctx context.Context) ([]core.Location, error)

	// Vision reports sidecar container states for /health. Optional; nil
	// when the station runs without managed vision containers.
	Vision func() map[string]interface{}

	// CORSOrigins lists the allowed browser origins. Entries may be exact
	// ("https://kiosk.example.com") or wildcard ("https://*.run.app").
	// Empty or "*" allows everything.
	CORSOrigins []string
}

// Server is the kiosk HTTP surface.
type Server struct {
	cfg    Config
	router *mux.Router
	http   *http.Server
	logger *log.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Keyring == nil {
		cfg.Keyring = auth.NewKeyring()
	}
	s := &Server{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint (required for container orchestration)
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Identity submissions
	api.HandleFunc("/events/scan", s.handleScan).Methods("POST", "OPTIONS")
	api.HandleFunc("/events/manual", s.handleManual).Methods("POST", "OPTIONS")
	api.HandleFunc("/locations", s.handleListLocations).Methods("GET")
	api.HandleFunc("/locations/{request_id}", s.handleResolveLocation).Methods("POST", "OPTIONS")

	// Group checkout
	api.HandleFunc("/group", s.handleGroupStatus).Methods("GET")
	api.HandleFunc("/group/mode", s.handleGroupMode).Methods("POST", "OPTIONS")
	api.HandleFunc("/group/commit", s.handleGroupCommit).Methods("POST", "OPTIONS")
	api.HandleFunc("/group/clear", s.handleGroupClear).Methods("POST", "OPTIONS")

	// Records
	api.HandleFunc("/records", s.handleDayRecords).Methods("GET")
	api.HandleFunc("/subjects/{id}/records", s.handleSubjectRecords).Methods("GET")

	// Settings — reads are open, writes need an operator key
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.Handle("/settings", s.operator(s.handleUpdateSettings)).Methods("PUT", "OPTIONS")

	// Webhooks — mutations need an operator key
	api.HandleFunc("/webhooks", s.handleListWebhooks).Methods("GET")
	api.Handle("/webhooks", s.operator(s.handleRegisterWebhook)).Methods("POST", "OPTIONS")
	api.HandleFunc("/webhooks/{id}", s.handleGetWebhook).Methods("GET")
	api.Handle("/webhooks/{id}", s.operator(s.handleUnregisterWebhook)).Methods("DELETE", "OPTIONS")

	// Outcome streams
	api.HandleFunc("/events/stream", s.handleEventStream).Methods("GET")
	if s.cfg.Streamer != nil {
		api.HandleFunc("/events/ws", s.cfg.Streamer.HandleWebSocket)
	}

	// Detection ingress websocket (detector sidecar)
	if s.cfg.Ingress != nil {
		api.Handle("/stream/detections", s.cfg.Ingress)
	}

	r.Use(makeCORSMiddleware(s.cfg.CORSOrigins))
	r.Use(loggingMiddleware)

	return r
}

// operator wraps a handler with the keyring check.
func (s *Server) operator(h http.HandlerFunc) http.Handler {
	return s.cfg.Keyring.Middleware(h)
}

// Handler exposes the routed mux, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Printf("🚀 Kiosk API listening on %s (station=%s)", addr, s.cfg.StationID)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	eh := s.cfg.Engine.Health()

	status := "healthy"
	if eh.LastFatal != "" {
		status = "degraded"
	}

	resp := map[string]interface{}{
		"status":   status,
		"service":  "kiosk-api",
		"station":  s.cfg.StationID,
		"time":     s.cfg.Clock.Now(),
		"engine":   eh,
		"settings": s.cfg.Settings.Current(),
	}
	if s.cfg.Streamer != nil {
		resp["stream"] = s.cfg.Streamer.Stats()
	}
	if s.cfg.Vision != nil {
		resp["vision"] = s.cfg.Vision()
	}

	writeJSON(w, http.StatusOK, resp)
}

// ===== SHARED PLUMBING =====

// decodeJSON reads a request body with a size cap. An empty body decodes
// to the zero value so bodiless POSTs (group clear, commit) stay legal.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeOutcome maps an engine result onto the wire. Policy rejections stay
// 200: the request was handled, the answer was no. Parked actions are 202
// so terminals know to open the location picker.
func writeOutcome(w http.ResponseWriter, res engine.Result) {
	status := http.StatusOK
	if res.Kind == engine.ResultLocationRequired {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// Middleware

// makeCORSMiddleware builds the CORS layer from the configured origins.
// Matching against the request's Origin header is the only spec-compliant
// way to allow more than one origin; wildcard patterns ("https://*.run.app")
// match by scheme plus domain suffix.
func makeCORSMiddleware(origins []string) mux.MiddlewareFunc {
	exact := make(map[string]bool, len(origins))
	var wildcardSuffixes []string
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		} else if strings.Contains(o, "*") {
			// "https://*.run.app" → scheme "https://", suffix ".run.app"
			wildcardSuffixes = append(wildcardSuffixes, strings.Replace(o, "*", "", 1))
		} else {
			exact[o] = true
		}
	}

	originAllowed := func(origin string) bool {
		if exact[origin] {
			return true
		}
		for _, suffix := range wildcardSuffixes {
			parts := strings.SplitN(suffix, "//", 2)
			if len(parts) == 2 {
				scheme := parts[0] + "//"
				if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, parts[1]) {
					return true
				}
			} else if strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				// Vary must be set when the response depends on the Origin header
				w.Header().Set("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		// Cloud Run compatible JSON log line
		log.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			time.Since(start).Milliseconds(),
		)
	})
}
