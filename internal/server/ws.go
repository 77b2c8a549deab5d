// ABOUTME: WebSocket mirror of the session event stream plus a small client command protocol.
// ABOUTME: Clients may send ping, user_message, and status_request frames.

package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/2389/troupe-gateway/internal/conversation"
)

// wsCommand is one client-to-server frame.
type wsCommand struct {
	Type    string `json:"type"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content,omitempty"`
}

// wsStatusFrame is the reply to a status_request command.
type wsStatusFrame struct {
	Type string `json:"type"`
	conversation.Status
}

// handleWebSocket handles GET /ws/conversations/{id}. Session events are
// pushed as JSON text frames; the read loop services client commands on the
// same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Reject unknown sessions before the upgrade so clients see a plain 404.
	if _, err := s.conv.Status(id); err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, subID, err := s.conv.Subscribe(ctx, id)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer s.conv.Unsubscribe(id, subID)

	if err := s.writeWS(ctx, conn, map[string]string{"type": "connection", "status": "connected"}); err != nil {
		return
	}

	// Push loop: session events -> client. Event frames already carry a
	// "type" field, so they share the frame protocol with command replies.
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := s.writeWS(ctx, conn, ev); err != nil {
					return
				}
			}
		}
	}()

	s.wsReadLoop(ctx, conn, id)
}

// wsReadLoop services client command frames until the connection drops.
func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("websocket closed by client", "session_id", sessionID)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.wsError(ctx, conn, "invalid JSON frame")
			continue
		}

		switch cmd.Type {
		case "ping":
			if err := s.writeWS(ctx, conn, map[string]string{"type": "pong"}); err != nil {
				return
			}

		case "user_message":
			if cmd.Content == "" {
				s.wsError(ctx, conn, "content is required")
				continue
			}
			// The broadcast loop delivers the resulting message event; no
			// direct acknowledgement.
			if _, err := s.conv.InjectMessage(sessionID, cmd.Sender, cmd.Content); err != nil {
				s.wsError(ctx, conn, err.Error())
			}

		case "status_request":
			status, err := s.conv.Status(sessionID)
			if err != nil {
				s.wsError(ctx, conn, err.Error())
				continue
			}
			if err := s.writeWS(ctx, conn, wsStatusFrame{Type: "status", Status: status}); err != nil {
				return
			}

		default:
			s.wsError(ctx, conn, "unknown message type")
		}
	}
}

// writeWS marshals v and sends it as one text frame.
func (s *Server) writeWS(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// wsError reports a command failure to the client without closing the stream.
func (s *Server) wsError(ctx context.Context, conn *websocket.Conn, message string) {
	if err := s.writeWS(ctx, conn, map[string]string{"type": "error", "message": message}); err != nil {
		s.logger.Debug("failed to send websocket error", "error", err)
	}
}
