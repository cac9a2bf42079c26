// Package websocket fans kiosk outcome events out to websocket consumers:
// wall displays, the display gateway, and SDK stream clients.
package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shiftgate/kiosk/internal/events"
)

// OutcomeStreamer is a broadcast hub over the outcome bus. Every connected
// client sees the full event stream; filtering happens client-side.
type OutcomeStreamer struct {
	bus        *events.EventBus
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *log.Logger
}

func NewOutcomeStreamer(bus *events.EventBus) *OutcomeStreamer {
	return &OutcomeStreamer{
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Display clients connect from file:// and LAN origins
			},
		},
		logger: log.New(log.Writer(), "[Stream] ", log.LstdFlags),
	}
}

// Run pumps bus events to the connected clients until ctx is cancelled.
func (os *OutcomeStreamer) Run(ctx context.Context) {
	sub := os.bus.Subscribe()
	defer os.bus.Unsubscribe(sub)

	for {
		select {
		case client := <-os.register:
			os.mu.Lock()
			os.clients[client] = true
			total := len(os.clients)
			os.mu.Unlock()
			os.logger.Printf("📡 Outcome client connected (total: %d)", total)

		case client := <-os.unregister:
			os.mu.Lock()
			if _, ok := os.clients[client]; ok {
				delete(os.clients, client)
				client.Close()
			}
			total := len(os.clients)
			os.mu.Unlock()
			os.logger.Printf("📡 Outcome client disconnected (total: %d)", total)

		case event, ok := <-sub:
			if !ok {
				return
			}
			os.broadcast(event)

		case <-ctx.Done():
			os.mu.Lock()
			for client := range os.clients {
				client.Close()
			}
			os.clients = make(map[*websocket.Conn]bool)
			os.mu.Unlock()
			return
		}
	}
}

func (os *OutcomeStreamer) broadcast(event *events.CloudEvent) {
	os.mu.Lock()
	defer os.mu.Unlock()
	for client := range os.clients {
		if err := client.WriteJSON(event); err != nil {
			os.logger.Printf("⚠️ Outcome write error: %v", err)
			client.Close()
			delete(os.clients, client)
		}
	}
}

// HandleWebSocket upgrades the connection and registers it with the hub.
// The read side is drained only to notice disconnects; this stream is
// one-way.
func (os *OutcomeStreamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := os.upgrader.Upgrade(w, r, nil)
	if err != nil {
		os.logger.Printf("⚠️ Outcome upgrade failed: %v", err)
		return
	}

	os.register <- conn

	go func() {
		defer func() {
			os.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Stats reports hub occupancy for the health endpoint.
func (os *OutcomeStreamer) Stats() map[string]interface{} {
	os.mu.RLock()
	defer os.mu.RUnlock()
	return map[string]interface{}{
		"connected_clients": len(os.clients),
	}
}
