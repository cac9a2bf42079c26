package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const sseHeartbeat = 25 * time.Second

// GET /api/v1/events/stream?types=attendance.committed,group.commit_result
//
// Server-Sent Events feed of the outcome bus. Without ?types the client
// gets everything. Heartbeat comments keep idle proxies from cutting the
// connection.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	sub := s.cfg.Bus.Subscribe(types...)
	defer s.cfg.Bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected station=%s\n\n", s.cfg.StationID)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, open := <-sub:
			if !open {
				return
			}
			frame, err := event.SSEFormat()
			if err != nil {
				continue
			}
			w.Write(frame)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
