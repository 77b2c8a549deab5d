// ABOUTME: Per-session turn loop: speaker selection, pacing, generation, event publishing.
// ABOUTME: One scheduler goroutine per running session; stop cancels in-flight work promptly.

package conversation

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/provider"
)

// Terminal status-change reasons published when a loop stops itself.
const (
	ReasonProviderExhaustion = "provider exhaustion"
	ReasonTurnLimit          = "turn limit reached"
)

// Inter-turn pause range, sampled per turn on top of the speaker's thinking
// delay.
const (
	interTurnMin = 1 * time.Second
	interTurnMax = 3 * time.Second
)

// thinkDelays are the per-persona thinking delay ranges: the philosopher
// ponders, the comedian fires back.
var thinkDelays = map[string][2]time.Duration{
	"philosopher": {3 * time.Second, 8 * time.Second},
	"comedian":    {1 * time.Second, 4 * time.Second},
	"scientist":   {2 * time.Second, 6 * time.Second},
}

var defaultThinkDelay = [2]time.Duration{2 * time.Second, 5 * time.Second}

// speakerWeights bias turn-taking. Personas not listed weigh 1.0.
var speakerWeights = map[string]float64{
	"philosopher": 0.3,
	"comedian":    0.4,
	"scientist":   0.3,
}

// Generator is the slice of the provider gateway the scheduler depends on.
type Generator interface {
	Generate(ctx context.Context, p persona.Persona, messages []provider.Message) (provider.Result, error)
}

// SelectSpeakerFunc picks the next speaker from the eligible persona names.
// The previous speaker has already been excluded.
type SelectSpeakerFunc func(eligible []string, rng *rand.Rand) string

// SchedulerConfig bounds pacing and failure handling for one session loop.
type SchedulerConfig struct {
	// HistoryWindow caps the turns handed to a provider. 0 means 12.
	HistoryWindow int
	// MinDelay and MaxDelay clamp the total per-turn delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// TurnLimit stops the session after this many turns. 0 means unlimited.
	TurnLimit int
	// FailureLimit stops the session after this many consecutive failed
	// turns. 0 means 3.
	FailureLimit int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.MinDelay <= 0 {
		c.MinDelay = 1 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = 3
	}
	return c
}

// scheduler drives one session. Constructed and owned by the Service; exactly
// one runs per Running session, which also enforces the single in-flight
// generation per session.
type scheduler struct {
	session       *Session
	registry      *persona.Registry
	gateway       Generator
	hub           *Broadcaster
	cfg           SchedulerConfig
	metrics       Metrics
	logger        *slog.Logger
	rng           *rand.Rand
	selectSpeaker SelectSpeakerFunc

	// onStatus, when set, is told about every published status change so the
	// Service can persist it.
	onStatus func(state RunState, reason string)

	cancel context.CancelFunc
	done   chan struct{}
}

// start launches the loop goroutine. The session must already be Running.
func (sc *scheduler) start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel
	go sc.run(loopCtx)
}

// stop cancels the loop, including any in-flight generation, and waits for it
// to finish. Safe to call more than once.
func (sc *scheduler) stop() {
	sc.cancel()
	<-sc.done
}

func (sc *scheduler) run(ctx context.Context) {
	defer close(sc.done)
	defer sc.cancel()

	sc.metrics.SessionStarted()
	defer sc.metrics.SessionStopped()

	sc.publishStatus(StateRunning, "")
	sc.logger.Info("session loop started",
		"participants", sc.session.Participants,
		"turn_limit", sc.cfg.TurnLimit)

	// A brand-new session opens with a moderator line for the cast to react to.
	if sc.session.TurnCount() == 0 {
		opening := starterFor(sc.session.Participants, sc.session.Topic, sc.rng)
		turn := sc.session.Append(moderatorSpeaker, opening, "", 0)
		ev := newEvent(sc.session.ID, EventMessage)
		ev.Turn = &turn
		ev.Speaker = moderatorSpeaker
		ev.SpeakerName = "Moderator"
		sc.hub.Publish(sc.session.ID, ev)
	}

	reason := ""
	failures := 0
	generated := 0

loop:
	for {
		if ctx.Err() != nil {
			break
		}
		// The limit counts turns this loop generated; moderator and injected
		// user turns don't spend the budget.
		if sc.cfg.TurnLimit > 0 && generated >= sc.cfg.TurnLimit {
			reason = ReasonTurnLimit
			break
		}

		speaker := sc.pickSpeaker()
		p, err := sc.registry.Get(speaker)
		if err != nil {
			// Participant vanished from the registry mid-session.
			sc.publishError(speaker, "", err)
			failures++
			if failures >= sc.cfg.FailureLimit {
				reason = ReasonProviderExhaustion
				break
			}
			if !sc.wait(ctx, sc.cfg.MinDelay) {
				break
			}
			continue
		}

		sc.publishTyping(p)

		think, pause := sc.turnDelays(speaker)
		if !sc.wait(ctx, think) {
			break
		}

		window := windowFor(speaker, sc.session.History(0), sc.cfg.HistoryWindow)
		result, err := sc.gateway.Generate(ctx, p, sc.buildMessages(p, window))
		switch {
		case ctx.Err() != nil:
			// Stop requested while generating; not a provider fault.
			break loop
		case err != nil:
			failures++
			sc.publishError(p.Name, p.DisplayName, err)
			sc.logger.Warn("turn failed",
				"speaker", p.Name,
				"consecutive_failures", failures,
				"error", err)
			if failures >= sc.cfg.FailureLimit {
				reason = ReasonProviderExhaustion
				break loop
			}
		default:
			failures = 0
			generated++
			turn := sc.session.Append(p.Name, result.Text, result.Provider, result.Latency)
			sc.metrics.RecordTurn(sc.session.ID)
			sc.publishMessage(p, turn)
		}

		if !sc.wait(ctx, pause) {
			break
		}
	}

	sc.finish(reason)
}

// finish moves the session to Stopped and publishes the terminal
// status-change. Reason is empty for a requested stop.
func (sc *scheduler) finish(reason string) {
	// Stop() already moved Running to Stopping; a loop-initiated exit does
	// it here.
	_ = sc.session.beginStop()
	if err := sc.session.markStopped(); err != nil {
		sc.logger.Error("session did not reach stopped", "error", err)
	}
	sc.publishStatus(StateStopped, reason)
	sc.logger.Info("session loop finished",
		"reason", reason,
		"turns", sc.session.TurnCount())
}

// pickSpeaker returns the next speaker, never the previous one while at least
// one other participant is eligible.
func (sc *scheduler) pickSpeaker() string {
	participants := sc.session.Participants
	last := sc.session.LastSpeaker()

	eligible := make([]string, 0, len(participants))
	for _, name := range participants {
		if name != last {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		eligible = participants
	}
	return sc.selectSpeaker(eligible, sc.rng)
}

// weightedSpeaker is the default SelectSpeakerFunc: weighted random over the
// eligible set using speakerWeights.
func weightedSpeaker(eligible []string, rng *rand.Rand) string {
	if len(eligible) == 0 {
		return ""
	}
	total := 0.0
	for _, name := range eligible {
		total += weightOf(name)
	}
	r := rng.Float64() * total
	acc := 0.0
	for _, name := range eligible {
		acc += weightOf(name)
		if r <= acc {
			return name
		}
	}
	return eligible[rng.IntN(len(eligible))]
}

func weightOf(name string) float64 {
	if w, ok := speakerWeights[name]; ok {
		return w
	}
	return 1.0
}

// turnDelays samples the speaker's thinking delay and the inter-turn pause,
// clamping their sum to the configured bounds. The pause absorbs the clamp so
// the thinking delay keeps its persona character when there is room.
func (sc *scheduler) turnDelays(speaker string) (think, pause time.Duration) {
	r, ok := thinkDelays[speaker]
	if !ok {
		r = defaultThinkDelay
	}
	think = randomBetween(r[0], r[1], sc.rng)
	pause = randomBetween(interTurnMin, interTurnMax, sc.rng)

	total := think + pause
	if total < sc.cfg.MinDelay {
		total = sc.cfg.MinDelay
	}
	if total > sc.cfg.MaxDelay {
		total = sc.cfg.MaxDelay
	}
	if think > total {
		think = total
	}
	return think, total - think
}

func randomBetween(lo, hi time.Duration, rng *rand.Rand) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int64N(int64(hi-lo)))
}

// wait sleeps for d or until ctx ends. Returns false when interrupted.
func (sc *scheduler) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// buildMessages renders the system prompt and maps windowed turns onto chat
// roles: the speaker's own turns become assistant messages, everyone else's
// become user messages prefixed with the speaker name.
func (sc *scheduler) buildMessages(p persona.Persona, window []Turn) []provider.Message {
	system := sc.registry.RenderSystemPrompt(p)
	if sc.session.Topic != "" {
		system += "\n\nThe conversation topic is: " + sc.session.Topic + "."
	}

	messages := make([]provider.Message, 0, len(window)+1)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	for _, t := range window {
		if t.Speaker == p.Name {
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: t.Content})
		} else {
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: t.Speaker + ": " + t.Content})
		}
	}
	return messages
}

func (sc *scheduler) publishTyping(p persona.Persona) {
	ev := newEvent(sc.session.ID, EventTyping)
	ev.Speaker = p.Name
	ev.SpeakerName = p.DisplayName
	ev.AvatarColor = p.AvatarColor
	ev.Message = p.DisplayName + " is typing..."
	sc.hub.Publish(sc.session.ID, ev)
}

func (sc *scheduler) publishMessage(p persona.Persona, turn Turn) {
	ev := newEvent(sc.session.ID, EventMessage)
	ev.Turn = &turn
	ev.Speaker = p.Name
	ev.SpeakerName = p.DisplayName
	ev.AvatarColor = p.AvatarColor
	sc.hub.Publish(sc.session.ID, ev)
}

func (sc *scheduler) publishError(speaker, displayName string, err error) {
	ev := newEvent(sc.session.ID, EventError)
	ev.Speaker = speaker
	ev.SpeakerName = displayName
	ev.Message = err.Error()
	sc.hub.Publish(sc.session.ID, ev)
}

func (sc *scheduler) publishStatus(state RunState, reason string) {
	ev := newEvent(sc.session.ID, EventStatusChange)
	ev.State = state
	ev.Reason = reason
	sc.hub.Publish(sc.session.ID, ev)
	if sc.onStatus != nil {
		sc.onStatus(state, reason)
	}
}
