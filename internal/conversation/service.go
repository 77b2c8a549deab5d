// ABOUTME: Service is the orchestrator for conversation sessions: lifecycle, persistence, events.
// ABOUTME: Sole constructor of Sessions; a session id maps to at most one scheduler loop.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/provider"
)

// Sentinel errors for session lifecycle operations.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyRunning      = errors.New("session already running")
	ErrInvalidParticipants = errors.New("invalid participants")
)

// moderatorSpeaker is the synthetic speaker of opening lines and other
// non-persona turns.
const moderatorSpeaker = "moderator"

// persistTimeout bounds store writes made outside a request context.
const persistTimeout = 5 * time.Second

// Store is what the orchestrator needs from persistence. All writes are
// eventual: failures are logged, never fatal to a running session.
type Store interface {
	CreateSession(ctx context.Context, sessionID string, participants []string, topic string) error
	LoadSession(ctx context.Context, sessionID string) (SessionRecord, error)
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	SaveTurn(ctx context.Context, sessionID string, turn Turn) error
	SaveStatus(ctx context.Context, sessionID string, state RunState, reason string) error
}

// SessionRecord is the stored identity of a session, used when resuming.
type SessionRecord struct {
	ID           string
	Participants []string
	Topic        string
	Status       RunState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Metrics receives orchestration counters. Implementations must be cheap and
// non-blocking.
type Metrics interface {
	RecordTurn(sessionID string)
	SessionStarted()
	SessionStopped()
	RecordDroppedEvent()
}

type noopMetrics struct{}

func (noopMetrics) RecordTurn(string)   {}
func (noopMetrics) SessionStarted()     {}
func (noopMetrics) SessionStopped()     {}
func (noopMetrics) RecordDroppedEvent() {}

// Config bounds the sessions this Service creates.
type Config struct {
	// HistoryCapacity is the ring buffer size per session. 0 means 50.
	HistoryCapacity int
	// HistoryWindow caps the turns handed to a provider. 0 means 12.
	HistoryWindow int
	// MinDelay and MaxDelay clamp the total per-turn delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// TurnLimit stops a session after this many turns. 0 means unlimited.
	TurnLimit int
	// FailureLimit stops a session after this many consecutive failed turns.
	// 0 means 3.
	FailureLimit int
}

func (c Config) schedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		HistoryWindow: c.HistoryWindow,
		MinDelay:      c.MinDelay,
		MaxDelay:      c.MaxDelay,
		TurnLimit:     c.TurnLimit,
		FailureLimit:  c.FailureLimit,
	}.withDefaults()
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	SessionID    string    `json:"session_id"`
	State        RunState  `json:"state"`
	Participants []string  `json:"participants"`
	Topic        string    `json:"topic,omitempty"`
	LastSpeaker  string    `json:"last_speaker,omitempty"`
	Turns        int       `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Service orchestrates conversation sessions. It owns every Session it
// creates and runs at most one scheduler loop per session.
type Service struct {
	registry *persona.Registry
	gateway  Generator
	hub      *Broadcaster
	store    Store // nil disables persistence
	cfg      Config
	metrics  Metrics
	logger   *slog.Logger

	// SelectSpeaker overrides the default weighted speaker selection.
	// Set before starting any session.
	SelectSpeaker SelectSpeakerFunc

	// Rand, when set, seeds each session's random source so tests can pin
	// starter and pacing choices. Guarded by randMu.
	Rand   *rand.Rand
	randMu sync.Mutex

	mu         sync.RWMutex
	sessions   map[string]*Session
	schedulers map[string]*scheduler
}

// New creates a Service. hub may be nil to have the Service own a private
// broadcaster; store may be nil to disable persistence; metrics may be nil.
func New(registry *persona.Registry, gw Generator, hub *Broadcaster, st Store, cfg Config, m Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = noopMetrics{}
	}
	if hub == nil {
		hub = NewBroadcaster(logger)
	}
	hub.OnDrop = m.RecordDroppedEvent

	return &Service{
		registry:   registry,
		gateway:    gw,
		hub:        hub,
		store:      st,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With("component", "conversation"),
		sessions:   make(map[string]*Session),
		schedulers: make(map[string]*scheduler),
	}
}

// Start creates a session and launches its loop. An empty sessionID generates
// one. The loop runs until stopped, a limit is hit, or ctx ends, so callers
// pass a long-lived context, not a request context. Starting a session that
// is already running returns ErrAlreadyRunning; a stopped session restarts
// with its history intact.
func (s *Service) Start(ctx context.Context, sessionID string, participants []string, topic string) (*Session, error) {
	if err := s.validateParticipants(participants); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		switch sess.State() {
		case StateRunning, StateStopping:
			s.mu.Unlock()
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyRunning)
		case StateStopped:
			if err := sess.reset(); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
	} else {
		sess = newSession(sessionID, participants, topic, s.cfg.HistoryCapacity)
		sess.OnAppend = s.persistTurn
		s.sessions[sessionID] = sess
		s.persistCreate(ctx, sess)
	}

	if err := sess.markRunning(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sc := s.newScheduler(sess)
	s.schedulers[sessionID] = sc
	// Started under the lock so a concurrent Stop always finds a cancellable
	// loop.
	sc.start(ctx)
	s.mu.Unlock()

	s.logger.Info("session started",
		"session_id", sessionID,
		"participants", participants,
		"topic", topic)
	return sess, nil
}

// Resume restarts a stopped session, reloading its history from the store
// when the session is not already in memory.
func (s *Service) Resume(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if !ok {
		if s.store == nil {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		rec, err := s.store.LoadSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		turns, err := s.store.LoadHistory(ctx, sessionID, s.cfg.HistoryCapacity)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", sessionID, err)
		}

		sess = newSession(rec.ID, rec.Participants, rec.Topic, s.cfg.HistoryCapacity)
		sess.OnAppend = s.persistTurn
		sess.restore(turns)

		s.mu.Lock()
		if existing, raced := s.sessions[sessionID]; raced {
			sess = existing
		} else {
			s.sessions[sessionID] = sess
		}
		s.mu.Unlock()
		s.logger.Info("session restored from store",
			"session_id", sessionID,
			"turns", len(turns))
	}

	s.mu.Lock()
	switch sess.State() {
	case StateRunning, StateStopping:
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyRunning)
	case StateStopped:
		if err := sess.reset(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	if err := sess.markRunning(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sc := s.newScheduler(sess)
	s.schedulers[sessionID] = sc
	sc.start(ctx)
	s.mu.Unlock()

	s.logger.Info("session resumed", "session_id", sessionID)
	return sess, nil
}

// Stop halts a session's loop, cancelling any in-flight generation, and
// returns once the loop has fully finished. Stopping a session that is not
// running is a no-op; an unknown session returns ErrSessionNotFound.
func (s *Service) Stop(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	sc := s.schedulers[sessionID]
	// Ignored when the loop is already stopping on its own; stop stays
	// idempotent either way.
	_ = sess.beginStop()
	s.mu.Unlock()

	if sc != nil {
		sc.stop()
	}
	return nil
}

// Status returns a snapshot of a session.
func (s *Service) Status(sessionID string) (Status, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return snapshot(sess), nil
}

// List returns snapshots of all known sessions, newest first.
func (s *Service) List() []Status {
	s.mu.RLock()
	out := make([]Status, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, snapshot(sess))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// History returns up to limit of a session's retained turns.
func (s *Service) History(sessionID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return sess.History(limit), nil
}

// Subscribe attaches a listener to a session's event stream. The subscription
// ends with ctx.
func (s *Service) Subscribe(ctx context.Context, sessionID string) (<-chan *Event, string, error) {
	s.mu.RLock()
	_, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	ch, subID := s.hub.Subscribe(ctx, sessionID)
	return ch, subID, nil
}

// Unsubscribe detaches a listener before its context ends.
func (s *Service) Unsubscribe(sessionID, subID string) {
	s.hub.Unsubscribe(sessionID, subID)
}

// InjectMessage appends a caller-authored turn to a session and broadcasts
// it. The loop sees it as regular history on the next turn.
func (s *Service) InjectMessage(sessionID, sender, content string) (Turn, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Turn{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if sender == "" {
		sender = "user"
	}

	turn := sess.Append(sender, content, "", 0)
	ev := newEvent(sessionID, EventMessage)
	ev.Turn = &turn
	ev.Speaker = sender
	ev.SpeakerName = sender
	s.hub.Publish(sessionID, ev)
	return turn, nil
}

// GenerateOnce performs a single synchronous generation for a persona,
// bypassing any session loop but using the full gateway path.
func (s *Service) GenerateOnce(ctx context.Context, personaName string, messages []provider.Message) (provider.Result, error) {
	p, err := s.registry.Get(personaName)
	if err != nil {
		return provider.Result{}, fmt.Errorf("persona %q: %w", personaName, err)
	}
	return s.gateway.Generate(ctx, p, messages)
}

// Topics scores topic categories over a session's recent turns.
func (s *Service) Topics(sessionID string) ([]TopicScore, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return AnalyzeTopics(sess.History(0)), nil
}

// Close stops every running session and shuts down the broadcaster.
func (s *Service) Close() {
	s.mu.Lock()
	running := make([]*scheduler, 0, len(s.schedulers))
	for id, sc := range s.schedulers {
		if s.sessions[id].State() == StateRunning || s.sessions[id].State() == StateStopping {
			_ = s.sessions[id].beginStop()
			running = append(running, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range running {
		sc.stop()
	}
	s.hub.Close()
	s.logger.Info("conversation service closed")
}

// newScheduler wires a loop for sess from the Service's collaborators.
// Caller holds s.mu.
func (s *Service) newScheduler(sess *Session) *scheduler {
	return &scheduler{
		session:       sess,
		registry:      s.registry,
		gateway:       s.gateway,
		hub:           s.hub,
		cfg:           s.cfg.schedulerConfig(),
		metrics:       s.metrics,
		logger:        s.logger.With("component", "scheduler", "session_id", sess.ID),
		rng:           s.newRand(),
		selectSpeaker: s.speakerSelector(),
		onStatus: func(state RunState, reason string) {
			s.persistStatus(sess.ID, state, reason)
		},
		done: make(chan struct{}),
	}
}

func (s *Service) speakerSelector() SelectSpeakerFunc {
	if s.SelectSpeaker != nil {
		return s.SelectSpeaker
	}
	return weightedSpeaker
}

// newRand derives an independent random source per scheduler. Loops must not
// share one: rand.Rand is not goroutine-safe.
func (s *Service) newRand() *rand.Rand {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	if s.Rand != nil {
		return rand.New(rand.NewPCG(s.Rand.Uint64(), s.Rand.Uint64()))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (s *Service) validateParticipants(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: at least one participant required", ErrInvalidParticipants)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalidParticipants, name)
		}
		seen[name] = true
		if _, err := s.registry.Get(name); err != nil {
			return fmt.Errorf("%w: unknown persona %q", ErrInvalidParticipants, name)
		}
	}
	return nil
}

// persistCreate records the session row. Best-effort: a storage failure
// leaves the session running in memory.
func (s *Service) persistCreate(ctx context.Context, sess *Session) {
	if s.store == nil {
		return
	}
	if err := s.store.CreateSession(ctx, sess.ID, sess.Participants, sess.Topic); err != nil {
		s.logger.Warn("failed to persist session",
			"session_id", sess.ID,
			"error", err)
	}
}

// persistTurn is the OnAppend hook: it runs on its own goroutine with a
// bounded context, never the scheduler's.
func (s *Service) persistTurn(ctx context.Context, sessionID string, turn Turn) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveTurn(ctx, sessionID, turn); err != nil {
		s.logger.Warn("failed to persist turn",
			"session_id", sessionID,
			"seq", turn.Seq,
			"error", err)
	}
}

func (s *Service) persistStatus(sessionID string, state RunState, reason string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.SaveStatus(ctx, sessionID, state, reason); err != nil {
		s.logger.Warn("failed to persist status",
			"session_id", sessionID,
			"state", state,
			"error", err)
	}
}

func snapshot(sess *Session) Status {
	return Status{
		SessionID:    sess.ID,
		State:        sess.State(),
		Participants: append([]string(nil), sess.Participants...),
		Topic:        sess.Topic,
		LastSpeaker:  sess.LastSpeaker(),
		Turns:        sess.TurnCount(),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity(),
	}
}
