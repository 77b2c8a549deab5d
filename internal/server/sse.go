// ABOUTME: SSE stream of session events for EventSource clients.
// ABOUTME: Heartbeat comments keep idle streams alive through proxies.

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// heartbeatInterval is how often an SSE comment is written on a quiet stream.
const heartbeatInterval = 30 * time.Second

// handleEvents handles GET /api/conversations/{id}/events. Each event goes
// out as an `event:`/`data:` frame pair named after its type; the stream ends
// when the client disconnects or the hub shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID, err := s.conv.Subscribe(r.Context(), id)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}
	defer s.conv.Unsubscribe(id, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSE(w, "connected", map[string]string{"session_id": id})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			s.writeSSE(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// writeSSE writes one SSE frame: event: <name>\ndata: <json>\n\n.
func (s *Server) writeSSE(w io.Writer, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
