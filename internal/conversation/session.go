// ABOUTME: Conversation session state: run-state machine and bounded turn history.
// ABOUTME: Ring buffer keeps the newest turns; sequence numbers survive eviction.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTransition is returned when a run-state change is not allowed
// from the current state.
var ErrInvalidTransition = errors.New("invalid run-state transition")

// RunState is the lifecycle state of a session.
type RunState string

const (
	StateIdle     RunState = "idle"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
	StateStopped  RunState = "stopped"
)

// defaultHistoryCapacity bounds the in-memory ring buffer per session.
const defaultHistoryCapacity = 50

// appendHookTimeout bounds how long the OnAppend notification may run.
const appendHookTimeout = 5 * time.Second

// Turn is one utterance in a session. Immutable once appended.
type Turn struct {
	Seq       int       `json:"seq"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Provider  string    `json:"provider,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds one conversation: its participants, run state, and a bounded
// ring buffer of turns. All methods are safe for concurrent use.
type Session struct {
	ID           string
	Participants []string
	Topic        string
	CreatedAt    time.Time

	// OnAppend, when set, is notified after each append. It runs on its own
	// goroutine with a bounded context and never blocks the caller.
	OnAppend func(ctx context.Context, sessionID string, turn Turn)

	mu           sync.RWMutex
	state        RunState
	turns        []Turn // ring buffer, capacity fixed at construction
	head         int    // index of the oldest turn
	count        int
	nextSeq      int
	lastSpeaker  string
	lastActivity time.Time
}

// newSession creates an Idle session. The Service is the sole caller.
func newSession(id string, participants []string, topic string, capacity int) *Session {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Participants: append([]string(nil), participants...),
		Topic:        topic,
		CreatedAt:    now,
		state:        StateIdle,
		turns:        make([]Turn, capacity),
		nextSeq:      1,
		lastActivity: now,
	}
}

// Append records a new turn, assigning the next sequence number and a
// timestamp. The oldest turn is evicted once the buffer is full. Returns the
// completed turn.
func (s *Session) Append(speaker, content, providerID string, latency time.Duration) Turn {
	s.mu.Lock()
	turn := Turn{
		Seq:       s.nextSeq,
		Speaker:   speaker,
		Content:   content,
		Provider:  providerID,
		LatencyMS: latency.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	s.nextSeq++
	s.push(turn)
	s.lastSpeaker = speaker
	s.lastActivity = turn.Timestamp
	hook := s.OnAppend
	s.mu.Unlock()

	if hook != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), appendHookTimeout)
			defer cancel()
			hook(ctx, s.ID, turn)
		}()
	}
	return turn
}

// restore reloads previously persisted turns, preserving their sequence
// numbers, and advances the sequence counter past them. Used when resuming a
// session from storage.
func (s *Session) restore(turns []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		s.push(t)
		if t.Seq >= s.nextSeq {
			s.nextSeq = t.Seq + 1
		}
		s.lastSpeaker = t.Speaker
		if t.Timestamp.After(s.lastActivity) {
			s.lastActivity = t.Timestamp
		}
	}
}

// push appends to the ring buffer. Caller holds the lock.
func (s *Session) push(t Turn) {
	size := len(s.turns)
	if s.count < size {
		s.turns[(s.head+s.count)%size] = t
		s.count++
		return
	}
	s.turns[s.head] = t
	s.head = (s.head + 1) % size
}

// History returns up to limit of the newest turns in chronological order.
// limit <= 0 returns everything retained.
func (s *Session) History(limit int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Turn, 0, n)
	start := s.count - n
	for i := start; i < s.count; i++ {
		out = append(out, s.turns[(s.head+i)%len(s.turns)])
	}
	return out
}

// LastSpeaker returns the speaker of the most recent turn, or "" if none.
func (s *Session) LastSpeaker() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSpeaker
}

// TurnCount returns the total number of turns ever appended, including any
// evicted from the ring buffer.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// LastActivity returns the timestamp of the most recent append, or the
// creation time if nothing has been appended.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// State returns the current run state.
func (s *Session) State() RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// markRunning moves Idle to Running.
func (s *Session) markRunning() error {
	return s.transition(StateRunning, StateIdle)
}

// beginStop moves Running to Stopping.
func (s *Session) beginStop() error {
	return s.transition(StateStopping, StateRunning)
}

// markStopped moves Stopping to Stopped.
func (s *Session) markStopped() error {
	return s.transition(StateStopped, StateStopping)
}

// reset moves Stopped back to Idle so the session can be resumed.
func (s *Session) reset() error {
	return s.transition(StateIdle, StateStopped)
}

// transition applies a state change if the current state is one of from.
func (s *Session) transition(to RunState, from ...RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}
