// Package server exposes the orchestrator over HTTP.
//
// # Overview
//
// The server package holds every HTTP handler: REST routes for personas,
// providers, and conversations; a Server-Sent Events stream; and a WebSocket
// endpoint mirroring the same events with a small client command protocol.
// It registers routes on a caller-owned mux so the composition root can mount
// additional surfaces (metrics, web console) beside the API.
//
// # Routes
//
//   - GET  /health, GET /health/ready - liveness and readiness
//   - GET  /api/personas - list personas
//   - PUT  /api/personas/{name}, DELETE /api/personas/{name} - edit (auth)
//   - GET  /api/providers - provider health snapshot
//   - POST /api/providers/{id}/probe - on-demand health probe (auth)
//   - POST /api/conversations - create and start a session
//   - GET  /api/conversations, GET /api/conversations/{id}
//   - POST /api/conversations/{id}/stop - halt the loop (auth)
//   - POST /api/conversations/{id}/message - inject a listener turn
//   - GET  /api/conversations/{id}/topics - topic scores and shift suggestion
//   - POST /api/generate - one-shot generation outside any session
//   - GET  /api/conversations/{id}/events - SSE stream
//   - GET  /ws/conversations/{id} - WebSocket stream
//
// # Event Streams
//
// SSE frames are named after the event type:
//
//	event: message
//	data: {"id":"...","session_id":"...","type":"message","turn":{...}}
//
//	event: typing
//	data: {"id":"...","type":"typing","speaker":"philosopher",...}
//
// with `: heartbeat` comments on quiet streams. The WebSocket endpoint sends
// the same event objects as JSON text frames and accepts client commands:
//
//	{"type":"ping"}                       -> {"type":"pong"}
//	{"type":"user_message","content":..}  -> message event on the stream
//	{"type":"status_request"}             -> {"type":"status",...}
//
// On connect the server sends {"type":"connection","status":"connected"}.
//
// # Auth
//
// Mutating routes (persona edits, probes, stop) pass through the middleware
// given in Deps.Auth; everything else is public. With auth disabled the
// middleware is a passthrough.
package server
