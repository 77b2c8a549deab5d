// ABOUTME: Typed events fanned out to live listeners of a session.
// ABOUTME: Four event kinds: message, typing, error, and status-change.

package conversation

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what a session event carries.
type EventType string

const (
	// EventMessage announces a completed turn. Turn is set.
	EventMessage EventType = "message"

	// EventTyping announces that a speaker is about to generate. Speaker and
	// SpeakerName are set.
	EventTyping EventType = "typing"

	// EventError reports a failed turn. The session keeps going unless a
	// status-change follows.
	EventError EventType = "error"

	// EventStatusChange reports a run-state transition. State is set; Reason
	// is set when the change is terminal.
	EventStatusChange EventType = "status-change"
)

// Event is one item on a session's broadcast stream. Events for the same
// session reach every listener in publish order.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Turn carries the completed turn for message events.
	Turn *Turn `json:"turn,omitempty"`

	// Speaker and SpeakerName identify the upcoming speaker for typing events.
	Speaker     string `json:"speaker,omitempty"`
	SpeakerName string `json:"speaker_name,omitempty"`

	// AvatarColor is the speaker's accent color, when known.
	AvatarColor string `json:"avatar_color,omitempty"`

	// Message is the human-readable detail for error events.
	Message string `json:"message,omitempty"`

	// State and Reason describe status-change events.
	State  RunState `json:"state,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// newEvent stamps a fresh event for a session.
func newEvent(sessionID string, kind EventType) *Event {
	return &Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      kind,
		Timestamp: time.Now().UTC(),
	}
}
