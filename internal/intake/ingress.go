package intake

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a control message
	maxMsgSize = 64 * 1024        // Detections are small JSON frames
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

// buildCheckOrigin returns a CheckOrigin function based on the deployment
// environment. In production, browser origins are validated against
// KIOSK_ALLOWED_ORIGINS; the detector sidecar sends no Origin header and
// always passes.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("KIOSK_ENV")
	allowedRaw := os.Getenv("KIOSK_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		slog.Info("[Intake] Origin allowlist active", "count", len(allowed))
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			slog.Info("[Intake] Rejected detector connection", "origin", origin)
			return false
		}
	}

	if env == "production" && allowedRaw == "" {
		slog.Info("[Intake] ⚠️  KIOSK_ALLOWED_ORIGINS not set in production — allowing all origins (INSECURE)")
	}
	return func(r *http.Request) bool {
		return true
	}
}

// DetectionIngress accepts the detector sidecar's websocket and feeds the
// engine mailbox. The mailbox stays open across detector reconnects; only
// shutdown closes it.
type DetectionIngress struct {
	mailbox *Mailbox
	logger  *log.Logger
}

func NewDetectionIngress(mailbox *Mailbox) *DetectionIngress {
	return &DetectionIngress{
		mailbox: mailbox,
		logger:  log.New(log.Writer(), "[Intake] ", log.LstdFlags),
	}
}

func (di *DetectionIngress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		di.logger.Printf("⚠️ Detector upgrade failed: %v", err)
		return
	}
	di.logger.Printf("📡 Detector connected from %s", r.RemoteAddr)
	di.readPump(conn)
}

func (di *DetectionIngress) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go di.pingLoop(conn, stop)

	for {
		var d Detection
		if err := conn.ReadJSON(&d); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				di.logger.Printf("⚠️ Detector stream error: %v", err)
			} else {
				di.logger.Printf("📡 Detector disconnected")
			}
			return
		}
		di.mailbox.Post(d)
	}
}

func (di *DetectionIngress) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
