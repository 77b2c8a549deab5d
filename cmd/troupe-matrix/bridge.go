// ABOUTME: Matrix bridge core for troupe-matrix
// ABOUTME: Routes room commands to the gateway and mirrors session events back

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// commandTimeout bounds the gateway REST calls behind room commands.
const commandTimeout = 15 * time.Second

// roomSession tracks one room's running conversation and its event stream.
type roomSession struct {
	sessionID string
	cancel    context.CancelFunc

	// forwarded remembers senders this bridge injected into the session, so
	// their turns are not mirrored back into the room they came from.
	forwarded map[string]bool
}

// Bridge connects Matrix rooms to troupe-gateway conversations.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	gateway *GatewayClient
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[id.RoomID]*roomSession

	// startedAt filters out timeline events replayed by the initial sync.
	startedAt int64

	// ctx is the parent context for command and stream goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a new Matrix bridge.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	// Credentials are filled in by Login
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		config:   cfg,
		matrix:   client,
		gateway:  NewGatewayClient(cfg.Gateway.URL),
		logger:   logger,
		sessions: make(map[id.RoomID]*roomSession),
	}, nil
}

// Login authenticates with the homeserver using password login and stores the
// resulting credentials on the client.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: "troupe-matrix",
		StoreCredentials:         true,
	})
	if err != nil {
		return err
	}

	b.logger.Info("logged in to matrix",
		"user_id", resp.UserID.String(),
		"device_id", resp.DeviceID.String(),
	)
	return nil
}

// UserID returns the bridge's Matrix user ID after login.
func (b *Bridge) UserID() string {
	return b.matrix.UserID.String()
}

// Run starts the bridge and blocks until context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.UserID(),
		"gateway", b.config.Gateway.URL,
	)

	// Store context for command and stream goroutines
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	b.startedAt = time.Now().UnixMilli()

	// Register event handler for messages
	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	// Start syncing
	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running", "command_prefix", b.config.Bridge.CommandPrefix)

	// Wait for context cancellation or sync error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.stopAllStreams()
		b.cancel()
		return nil
	case err := <-syncErr:
		b.stopAllStreams()
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == b.matrix.UserID {
		return
	}

	// Ignore timeline history replayed by the initial sync
	if evt.Timestamp < b.startedAt {
		return
	}

	// Get message content
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	// Only handle text messages
	if content.MsgType != event.MsgText {
		return
	}

	// Check allowed rooms
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return
	}

	body := strings.TrimSpace(content.Body)
	prefix := b.config.Bridge.CommandPrefix

	if body == prefix || strings.HasPrefix(body, prefix+" ") {
		args := strings.Fields(strings.TrimPrefix(body, prefix))
		// Handle in a goroutine to not block sync
		go b.runCommand(b.ctx, evt.RoomID, args)
		return
	}

	// Plain messages go into the room's conversation, if one is running
	if b.lookupSession(evt.RoomID) != nil {
		go b.forwardMessage(b.ctx, evt.RoomID, evt.Sender, body)
	}
}

// runCommand dispatches one parsed bridge command.
func (b *Bridge) runCommand(ctx context.Context, roomID id.RoomID, args []string) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if len(args) == 0 {
		b.sendMessage(roomID, b.usage())
		return
	}

	switch args[0] {
	case "start":
		b.cmdStart(ctx, roomID, args[1:])
	case "stop":
		b.cmdStop(ctx, roomID)
	case "status":
		b.cmdStatus(ctx, roomID)
	default:
		b.sendMessage(roomID, b.usage())
	}
}

func (b *Bridge) usage() string {
	p := b.config.Bridge.CommandPrefix
	return fmt.Sprintf("Commands: %s start <personas...> | %s stop | %s status", p, p, p)
}

// cmdStart launches a conversation and begins mirroring its events.
func (b *Bridge) cmdStart(ctx context.Context, roomID id.RoomID, personas []string) {
	if len(personas) < 2 {
		b.sendMessage(roomID, "Need at least two personas, e.g. "+b.config.Bridge.CommandPrefix+" start philosopher comedian")
		return
	}

	if rs := b.lookupSession(roomID); rs != nil {
		b.sendMessage(roomID, "A conversation is already running here. Stop it first with "+b.config.Bridge.CommandPrefix+" stop")
		return
	}

	status, err := b.gateway.StartConversation(ctx, personas, "")
	if err != nil {
		b.logger.Error("failed to start conversation", "room", roomID.String(), "error", err)
		b.sendMessage(roomID, fmt.Sprintf("Could not start: %v", err))
		return
	}

	streamCtx, cancel := context.WithCancel(b.ctx)
	b.mu.Lock()
	b.sessions[roomID] = &roomSession{
		sessionID: status.SessionID,
		cancel:    cancel,
		forwarded: make(map[string]bool),
	}
	b.mu.Unlock()

	go b.streamSession(streamCtx, roomID, status.SessionID)

	b.logger.Info("conversation started",
		"room", roomID.String(),
		"session_id", status.SessionID,
		"participants", strings.Join(status.Participants, ","),
	)
	b.sendMessage(roomID, "Conversation started with "+strings.Join(status.Participants, ", "))
}

// cmdStop ends the room's conversation.
func (b *Bridge) cmdStop(ctx context.Context, roomID id.RoomID) {
	rs := b.clearSession(roomID)
	if rs == nil {
		b.sendMessage(roomID, "No active conversation in this room.")
		return
	}
	rs.cancel()

	status, err := b.gateway.StopConversation(ctx, rs.sessionID)
	if err != nil {
		b.logger.Error("failed to stop conversation", "session_id", rs.sessionID, "error", err)
		b.sendMessage(roomID, fmt.Sprintf("Could not stop cleanly: %v", err))
		return
	}

	b.sendMessage(roomID, fmt.Sprintf("Conversation stopped after %d turns.", status.Turns))
}

// cmdStatus reports the room's conversation state.
func (b *Bridge) cmdStatus(ctx context.Context, roomID id.RoomID) {
	rs := b.lookupSession(roomID)
	if rs == nil {
		b.sendMessage(roomID, "No active conversation in this room.")
		return
	}

	status, err := b.gateway.Status(ctx, rs.sessionID)
	if err != nil {
		b.sendMessage(roomID, fmt.Sprintf("Status unavailable: %v", err))
		return
	}

	line := fmt.Sprintf("%s | speakers: %s | turns: %d",
		status.State, strings.Join(status.Participants, ", "), status.Turns)
	if status.Topic != "" {
		line += " | topic: " + status.Topic
	}
	b.sendMessage(roomID, line)
}

// forwardMessage injects a room message into the running conversation.
func (b *Bridge) forwardMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, body string) {
	rs := b.lookupSession(roomID)
	if rs == nil || body == "" {
		return
	}

	name := localpart(sender)
	b.mu.Lock()
	rs.forwarded[name] = true
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := b.gateway.SendUserMessage(ctx, rs.sessionID, name, body); err != nil {
		b.logger.Error("failed to forward message", "session_id", rs.sessionID, "error", err)
	}
}

// streamSession follows one session's SSE feed and mirrors it into the room.
func (b *Bridge) streamSession(ctx context.Context, roomID id.RoomID, sessionID string) {
	logger := b.logger.With("room", roomID.String(), "session_id", sessionID)

	err := b.gateway.StreamEvents(ctx, sessionID, func(ev StreamEvent) {
		var payload EventPayload
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			logger.Debug("unparseable stream event", "type", ev.Type, "error", err)
			return
		}

		switch ev.Type {
		case EventMessage:
			if payload.Turn == nil {
				return
			}
			// Turns this bridge injected are already visible in the room.
			if b.isForwarded(roomID, payload.Turn.Speaker) {
				return
			}
			name := payload.SpeakerName
			if name == "" {
				name = payload.Turn.Speaker
			}
			if b.config.Bridge.TypingIndicator {
				b.setTyping(roomID, false)
			}
			b.sendMessage(roomID, name+": "+payload.Turn.Content)

		case EventTyping:
			if b.config.Bridge.TypingIndicator {
				b.setTyping(roomID, true)
			}

		case EventError:
			logger.Warn("session error event", "speaker", payload.Speaker, "message", payload.Message)

		case EventStatusChange:
			if payload.State == "stopped" {
				line := "Conversation ended."
				if payload.Reason != "" {
					line = "Conversation ended: " + payload.Reason
				}
				b.sendMessage(roomID, line)
				b.clearSession(roomID)
			}
		}
	})

	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, false)
	}

	// A cancelled context means stop or shutdown; anything else is a lost feed.
	if err != nil && ctx.Err() == nil {
		logger.Error("event stream failed", "error", err)
		if b.clearSession(roomID) != nil {
			b.sendMessage(roomID, "Lost the gateway event stream; conversation detached.")
		}
		return
	}

	logger.Info("event stream closed")
}

// lookupSession returns the room's session record, if any.
func (b *Bridge) lookupSession(roomID id.RoomID) *roomSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[roomID]
}

// clearSession removes and returns the room's session record.
func (b *Bridge) clearSession(roomID id.RoomID) *roomSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := b.sessions[roomID]
	delete(b.sessions, roomID)
	return rs
}

// isForwarded reports whether the bridge injected this speaker into the
// room's session.
func (b *Bridge) isForwarded(roomID id.RoomID, speaker string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := b.sessions[roomID]
	return rs != nil && rs.forwarded[speaker]
}

// stopAllStreams cancels every active event stream.
func (b *Bridge) stopAllStreams() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, rs := range b.sessions {
		rs.cancel()
		delete(b.sessions, roomID)
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}

	for _, allowed := range b.config.Bridge.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// setTyping sends typing indicator to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Use a timeout context to avoid hanging during shutdown or network issues
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	_, err := b.matrix.UserTyping(ctx, roomID, typing, timeout)
	if err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMessage sends a text message to a room.
func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	// Use a longer timeout for sending messages (they can be large)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := b.matrix.SendText(ctx, roomID, text)
	if err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// localpart extracts the local username from a Matrix user ID.
func localpart(userID id.UserID) string {
	name := strings.TrimPrefix(userID.String(), "@")
	if i := strings.IndexByte(name, ':'); i > 0 {
		name = name[:i]
	}
	return name
}
