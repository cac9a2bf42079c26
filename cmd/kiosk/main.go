package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc/credentials"

	"github.com/shiftgate/kiosk/internal/api"
	"github.com/shiftgate/kiosk/internal/auth"
	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/database"
	"github.com/shiftgate/kiosk/internal/directory"
	"github.com/shiftgate/kiosk/internal/engine"
	"github.com/shiftgate/kiosk/internal/events"
	"github.com/shiftgate/kiosk/internal/identity"
	"github.com/shiftgate/kiosk/internal/infra"
	"github.com/shiftgate/kiosk/internal/intake"
	"github.com/shiftgate/kiosk/internal/monitoring"
	"github.com/shiftgate/kiosk/internal/recognizer"
	"github.com/shiftgate/kiosk/internal/settings"
	"github.com/shiftgate/kiosk/internal/store"
	"github.com/shiftgate/kiosk/internal/visionhost"
	"github.com/shiftgate/kiosk/internal/webhooks"
	ws "github.com/shiftgate/kiosk/internal/websocket"
	"github.com/shiftgate/kiosk/pb"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Get port from environment (Cloud Run requirement)
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080" // Default for local development
	}

	stationID := os.Getenv("KIOSK_STATION_ID")
	if stationID == "" {
		stationID = "kiosk"
	}
	log.Printf("🚀 Starting ShiftGate kiosk (station=%s)...", stationID)

	metrics := monitoring.NewMetrics()

	// Attendance store: memory (default), postgres, or spanner
	recordStore := buildStore()

	// Subject directory: supabase (optionally Redis-cached), roster file, or memory
	dir, supabaseClient, dirCache := buildDirectory()

	// Shift settings: env-selected source polled behind a Manager
	manager := settings.NewManager(settings.Default())
	watcher := buildSettingsWatcher(manager, supabaseClient)

	// Outcome bus: in-memory, optionally fronted by Cloud Pub/Sub
	emitter, bus := buildEventBus(stationID)

	// Recognizer sidecar: gRPC bridge, or a no-match stub when unconfigured
	identifier, bridge := buildIdentifier(metrics)

	// Detection intake from the detector sidecar
	mailbox := intake.NewMailbox()
	ingress := intake.NewDetectionIngress(mailbox)

	// Webhook fan-out
	registry := webhooks.NewRegistry()
	emitterHooks := buildWebhookEmitter(registry, stationID, metrics)

	// Operator keys: empty keyring leaves the station open
	keyring, err := auth.ParseKeyring(os.Getenv("KIOSK_API_KEYS"))
	if err != nil {
		log.Fatalf("Failed to parse KIOSK_API_KEYS: %v", err)
	}
	if keyring.Empty() {
		log.Println("⚠️  No operator keys configured — settings and webhook writes are open")
	}

	eng := engine.New(engine.Config{
		StationID:  stationID,
		Directory:  dir,
		Store:      recordStore,
		Settings:   manager,
		Identifier: identifier,
		Mailbox:    mailbox,
		Events:     emitter,
		Metrics:    metrics,
	})

	streamer := ws.NewOutcomeStreamer(bus)
	forwarder := webhooks.NewForwarder(bus, emitterHooks)
	supervisor := buildSupervisor(stationID)

	server := api.NewServer(api.Config{
		StationID:   stationID,
		Engine:      eng,
		Store:       recordStore,
		Settings:    manager,
		Registry:    registry,
		Bus:         bus,
		Keyring:     keyring,
		Ingress:     ingress,
		Streamer:    streamer,
		Locations:   locationSource(supabaseClient),
		Vision:      visionStats(supervisor),
		CORSOrigins: corsOrigins(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops
	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			log.Fatalf("Engine stopped: %v", err)
		}
	}()
	go streamer.Run(ctx)

	forwarderDone := make(chan struct{})
	go func() {
		forwarder.Run(ctx)
		close(forwarderDone)
	}()

	if watcher != nil {
		if err := watcher.RefreshNow(ctx); err != nil {
			log.Printf("⚠️  settings_unreadable_at_startup — running on defaults until a poll succeeds: %v", err)
		}
		watcher.Start()
		defer watcher.Stop()
	}

	// Vision sidecars (detector + recognizer containers), when configured
	if supervisor != nil {
		go func() {
			if err := supervisor.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("⚠️  Sidecar supervisor stopped: %v", err)
			}
		}()
	}

	// Push the face gallery to the recognizer before the doors open
	if bridge != nil {
		syncCtx, syncCancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := bridge.GallerySync(syncCtx, dir); err != nil {
			log.Printf("⚠️  Gallery sync failed, face scans degrade to unknown: %v", err)
		}
		syncCancel()
	}

	// Graceful shutdown (Cloud Run sends SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(":" + port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	// HTTP drained; wind down the loops, then flush pending webhooks and
	// any Pub/Sub sends still in flight.
	cancel()
	<-forwarderDone
	emitterHooks.Shutdown()
	if closer, ok := emitter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("Event bus close error: %v", err)
		}
	}
	if dirCache != nil {
		if err := dirCache.Close(); err != nil {
			log.Printf("Redis close error: %v", err)
		}
	}

	log.Println("Server stopped")
}

// buildStore picks the attendance record store from KIOSK_STORE.
func buildStore() store.RecordStore {
	switch strings.ToLower(os.Getenv("KIOSK_STORE")) {
	case "postgres":
		s, err := store.NewPostgresStore(os.Getenv("DATABASE_URL"))
		if err != nil {
			log.Fatalf("Failed to open Postgres store: %v", err)
		}
		log.Println("✅ Attendance store: postgres")
		return s
	case "spanner":
		s, err := store.NewSpannerStore(
			os.Getenv("SPANNER_PROJECT"),
			os.Getenv("SPANNER_INSTANCE"),
			os.Getenv("SPANNER_DATABASE"),
		)
		if err != nil {
			log.Fatalf("Failed to open Spanner store: %v", err)
		}
		log.Println("✅ Attendance store: spanner")
		return s
	case "", "memory":
		log.Println("✅ Attendance store: memory (records vanish on restart)")
		return store.NewMemoryStore()
	default:
		log.Fatalf("Unknown KIOSK_STORE %q (want memory, postgres, or spanner)", os.Getenv("KIOSK_STORE"))
		return nil
	}
}

// buildDirectory picks the subject directory. Supabase gets the optional
// Redis cache tier; the returned client is reused by the settings source and
// the returned closer (nil without Redis) releases the cache pool at
// shutdown.
func buildDirectory() (directory.Directory, *database.SupabaseClient, io.Closer) {
	if path := os.Getenv("KIOSK_ROSTER_FILE"); path != "" {
		m, err := directory.LoadFile(path)
		if err != nil {
			log.Fatalf("Failed to load roster file: %v", err)
		}
		log.Printf("✅ Directory: roster file %s", path)
		return m, nil, nil
	}

	if os.Getenv("SUPABASE_URL") != "" {
		client, err := database.NewSupabaseClient()
		if err != nil {
			log.Fatalf("Failed to initialize Supabase client: %v", err)
		}
		backend := directory.NewSupabaseDirectory(client)

		var cache directory.CacheClient
		var closer io.Closer
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
			adapter, err := infra.NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), db)
			if err != nil {
				log.Printf("⚠️  Redis unavailable, directory caches in-process only: %v", err)
			} else {
				cache = adapter
				closer = adapter
			}
		}

		ttl := 5 * time.Minute
		if raw := os.Getenv("KIOSK_DIRECTORY_TTL"); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				ttl = d
			}
		}
		log.Println("✅ Directory: supabase (cached)")
		return directory.NewCached(backend, cache, ttl), client, closer
	}

	log.Println("✅ Directory: memory (empty — enrol via tests or roster file)")
	return directory.NewMemory(), nil, nil
}

// visionStats surfaces sidecar container states on /health when the
// supervisor is running.
func visionStats(s *visionhost.Supervisor) func() map[string]interface{} {
	if s == nil {
		return nil
	}
	return s.Stats
}

// locationSource serves the checkout picker from the locations table when
// Supabase is wired; otherwise displays fall back to free-text entry.
func locationSource(client *database.SupabaseClient) func(context.Context) ([]core.Location, error) {
	if client == nil {
		return nil
	}
	return func(ctx context.Context) ([]core.Location, error) {
		rows, err := client.ListLocations(ctx)
		if err != nil {
			return nil, err
		}
		locs := make([]core.Location, 0, len(rows))
		for _, row := range rows {
			locs = append(locs, core.Location{
				Name:     row.Name,
				Address:  row.Address,
				Category: core.LocationCategory(row.Category),
			})
		}
		return locs, nil
	}
}

// buildSettingsWatcher wires the settings source, or nil to run on defaults.
func buildSettingsWatcher(manager *settings.Manager, supabase *database.SupabaseClient) *settings.Watcher {
	interval := 20 * time.Second
	if raw := os.Getenv("KIOSK_SETTINGS_POLL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			interval = d
		}
	}

	if path := os.Getenv("KIOSK_SETTINGS_FILE"); path != "" {
		log.Printf("✅ Settings source: file %s", path)
		return settings.NewWatcher(settings.NewFileSource(path), manager, interval)
	}
	if supabase != nil {
		profile := os.Getenv("KIOSK_SETTINGS_PROFILE")
		log.Printf("✅ Settings source: supabase (profile=%s)", profile)
		return settings.NewWatcher(settings.NewSupabaseSource(supabase, profile), manager, interval)
	}
	log.Println("✅ Settings source: built-in defaults")
	return nil
}

// buildEventBus returns the emitter handed to the engine plus the in-memory
// bus that SSE, the websocket streamer, and the webhook forwarder drain.
func buildEventBus(stationID string) (events.EventEmitter, *events.EventBus) {
	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	topicID := os.Getenv("PUBSUB_TOPIC")
	if projectID != "" && topicID != "" {
		psBus, err := events.NewPubSubEventBus(projectID, topicID)
		if err != nil {
			log.Fatalf("Failed to connect Pub/Sub bus: %v", err)
		}
		return psBus, psBus.EventBus
	}
	bus := events.NewEventBus()
	return bus, bus
}

// buildIdentifier dials the recognizer sidecar when RECOGNIZER_ADDR is set.
// SPIFFE mTLS is used when a SPIRE socket is configured, insecure otherwise
// (the sidecar is a localhost container in the default deployment).
func buildIdentifier(metrics *monitoring.Metrics) (recognizer.Identifier, *recognizer.Bridge) {
	target := os.Getenv("RECOGNIZER_ADDR")
	if target == "" {
		log.Println("⚠️  RECOGNIZER_ADDR not set — face sightings resolve to unknown")
		return recognizer.NewStatic(), nil
	}

	conn, err := recognizer.Dial(target, buildRecognizerCreds())
	if err != nil {
		log.Fatalf("Failed to dial recognizer: %v", err)
	}
	bridge := recognizer.NewBridge(pb.NewRecognizerClient(conn), metrics)
	log.Printf("✅ Recognizer: %s", target)
	return bridge, bridge
}

func buildRecognizerCreds() credentials.TransportCredentials {
	socketPath := os.Getenv("SPIFFE_SOCKET")
	if socketPath == "" {
		return nil
	}
	idn, err := identity.NewIdentity(socketPath)
	if err != nil {
		log.Fatalf("Failed to connect to SPIRE agent: %v", err)
	}
	creds, err := idn.GRPCCredentials(os.Getenv("RECOGNIZER_SPIFFE_ID"))
	if err != nil {
		log.Fatalf("Failed to build SPIFFE credentials: %v", err)
	}
	if id, err := idn.ID(); err == nil {
		log.Printf("✅ Recognizer channel: SPIFFE mTLS as %s", id)
	} else {
		log.Println("✅ Recognizer channel: SPIFFE mTLS")
	}
	return creds
}

// buildWebhookEmitter prefers Cloud Tasks when configured, with the local
// worker pool as delivery fallback.
func buildWebhookEmitter(registry *webhooks.Registry, stationID string, metrics *monitoring.Metrics) webhooks.Emitter {
	source := "kiosk/" + stationID
	local := webhooks.NewDispatcher(registry, source, webhookWorkers(), metrics)

	project := os.Getenv("CLOUDTASKS_PROJECT")
	location := os.Getenv("CLOUDTASKS_LOCATION")
	queue := os.Getenv("CLOUDTASKS_QUEUE")
	if project != "" && location != "" && queue != "" {
		cloud, err := webhooks.NewCloudDispatcher(registry, project, location, queue, source, local)
		if err != nil {
			log.Fatalf("Failed to connect Cloud Tasks: %v", err)
		}
		log.Println("✅ Webhooks: cloud tasks")
		return cloud
	}
	log.Println("✅ Webhooks: local worker pool")
	return local
}

func webhookWorkers() int {
	if raw := os.Getenv("KIOSK_WEBHOOK_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 4
}

// buildSupervisor assembles the managed vision sidecars from env, or nil
// when the host runs them externally (compose, systemd).
func buildSupervisor(stationID string) *visionhost.Supervisor {
	var sidecars []visionhost.Sidecar

	if image := os.Getenv("VISION_DETECTOR_IMAGE"); image != "" {
		sc := visionhost.Sidecar{
			Name:  "shiftgate-detector-" + stationID,
			Image: image,
			Env: []string{
				"KIOSK_WS_URL=ws://localhost:" + envOr("PORT", "8080") + "/api/v1/stream/detections",
			},
		}
		if dev := os.Getenv("VISION_CAMERA_DEVICE"); dev != "" {
			sc.Devices = append(sc.Devices, dev)
		}
		sidecars = append(sidecars, sc)
	}
	if image := os.Getenv("VISION_RECOGNIZER_IMAGE"); image != "" {
		sidecars = append(sidecars, visionhost.Sidecar{
			Name:  "shiftgate-recognizer-" + stationID,
			Image: image,
			Env:   []string{"RECOGNIZER_LISTEN=" + envOr("RECOGNIZER_ADDR", "localhost:9090")},
		})
	}

	if len(sidecars) == 0 {
		return nil
	}
	log.Printf("✅ Vision sidecars: supervising %d container(s)", len(sidecars))
	return visionhost.NewSupervisor(sidecars...)
}

// corsOrigins parses KIOSK_CORS_ORIGINS (comma-separated, wildcards
// allowed). Unset means every origin; displays often load from file://.
func corsOrigins() []string {
	raw := os.Getenv("KIOSK_CORS_ORIGINS")
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
