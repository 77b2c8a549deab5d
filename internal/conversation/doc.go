// Package conversation orchestrates multi-persona sessions.
//
// # Overview
//
// The conversation package sits between the HTTP/WebSocket handlers and the
// provider gateway. It owns session lifecycle, turn scheduling, history
// windowing, and event fan-out.
//
// # Service
//
// The Service is the orchestrator and the only constructor of Sessions:
//
//	svc := conversation.New(registry, gateway, hub, store, cfg, metrics, logger)
//
// Key operations:
//
//   - Start(ctx, id, participants, topic): create a session and launch its loop
//   - Stop(id): halt the loop, cancelling in-flight generation
//   - Resume(ctx, id): restart a stopped session, reloading history from the store
//   - Subscribe(ctx, id): attach a listener to the session's event stream
//   - InjectMessage(id, sender, content): add a user turn to a live session
//   - GenerateOnce(ctx, persona, messages): one-shot generation outside any loop
//
// # Sessions and Turns
//
// A Session tracks its participants, run state, and a bounded ring buffer of
// Turns. Run state moves Idle -> Running -> Stopping -> Stopped (and Stopped
// -> Idle on resume); anything else is ErrInvalidTransition. Turn sequence
// numbers are monotonic per session and survive ring eviction.
//
// # The Loop
//
// One scheduler goroutine runs per Running session:
//
//  1. Pick the next speaker: weighted random, never the previous speaker
//     while someone else is eligible.
//  2. Publish a typing event and wait out the persona's thinking delay.
//  3. Generate against a persona-shaped window of the history.
//  4. Append the turn and publish a message event, or publish an error event
//     on failure.
//  5. Pause briefly, then go again.
//
// Three consecutive failed turns stop the session with a terminal
// status-change (reason "provider exhaustion"); an optional turn limit stops
// it with "turn limit reached". Stop cancels in-flight generation via
// context.
//
// # Event Broadcasting
//
// The Broadcaster fans events out per session:
//
//	ch, subID := hub.Subscribe(ctx, sessionID)
//
// Event types: message, typing, error, status-change. Subscribers get events
// in publish order on a buffered channel; a subscriber that stops draining
// loses events rather than blocking the loop.
//
// # Persistence
//
// Storage is a collaborator behind the Store interface. Turns are persisted
// from an append hook on the session, off the scheduler goroutine; failures
// are logged and never stop a conversation.
package conversation
