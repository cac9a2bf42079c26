// The display gateway fans kiosk outcomes out to lobby screens over
// Socket.IO. It subscribes to the kiosk's outcome websocket and rebroadcasts
// every event to the "attendance_event" channel, so display frontends never
// talk to the kiosk directly.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/joho/godotenv"

	"github.com/shiftgate/kiosk/pkg/sdk"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	kioskURL := os.Getenv("KIOSK_URL")
	if kioskURL == "" {
		kioskURL = "http://localhost:8080"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	ioServer, err := setupSocketServer()
	if err != nil {
		log.Fatalf("Failed to start display bridge: %v", err)
	}

	go func() {
		slog.Info("Display bridge (Socket.IO) listening", "port", port)
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			log.Fatal("Display bridge failed: ", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := sdk.NewClient(sdk.Config{BaseURL: kioskURL})

	slog.Info("Bridging kiosk outcomes", "kiosk", kioskURL)
	err = client.StreamOutcomes(ctx, func(ev sdk.Event) {
		ioServer.BroadcastToNamespace("/", "attendance_event", map[string]interface{}{
			"type":    ev.Type,
			"subject": ev.Subject,
			"source":  ev.Source,
			"time":    ev.Time.Format(time.RFC3339),
			"data":    ev.Data,
		})
	})
	if err != nil && err != context.Canceled {
		log.Fatalf("Outcome stream failed: %v", err)
	}

	ioServer.Close()
	slog.Info("Shutting down gracefully...")
}

func setupSocketServer() (*socketio.Server, error) {
	server := socketio.NewServer(nil)

	server.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext("")
		return nil
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
	})

	http.Handle("/socket.io/", server)

	go server.Serve()

	return server, nil
}
