package sdk

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBase = 2 * time.Second
	reconnectMax  = 30 * time.Second
)

// StreamOutcomes subscribes to the kiosk's outcome websocket and calls
// handler for every event until ctx is cancelled. Dropped connections are
// redialed with capped backoff, so a display can ride out kiosk restarts.
//
//	err := client.StreamOutcomes(ctx, func(ev sdk.Event) {
//	    if ev.Type == "attendance.committed" {
//	        refreshBoard(ev)
//	    }
//	})
func (c *Client) StreamOutcomes(ctx context.Context, handler func(Event)) error {
	wsURL := toWebsocketURL(c.config.BaseURL) + "/api/v1/events/ws"
	logger := log.New(log.Writer(), "[SDK] ", log.LstdFlags)

	backoff := reconnectBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			logger.Printf("⚠️ Outcome stream dial failed: %v (retry in %s)", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		backoff = reconnectBase
		logger.Printf("📡 Outcome stream connected: %s", wsURL)

		err = c.readEvents(ctx, conn, handler)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Printf("📡 Outcome stream dropped: %v", err)
	}
}

// readEvents pumps events until the connection breaks or ctx ends.
func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn, handler func(Event)) error {
	// A closer goroutine unblocks ReadJSON when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		handler(ev)
	}
}

// toWebsocketURL flips the scheme: http -> ws, https -> wss.
func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
