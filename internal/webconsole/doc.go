// Package webconsole provides the read-only web interface for browsing
// conversations.
//
// # Overview
//
// The console serves two pages on the main mux:
//
//   - GET /console: conversation list, newest activity first
//   - GET /console/sessions/{id}: full transcript of one conversation
//
// Both pages read from the SQLite store rather than live session state, so
// stopped and archived conversations stay browsable after their loops exit.
//
// # Rendering
//
// Turn content is Markdown and is converted with goldmark before templating.
// Goldmark's default renderer omits raw HTML, which keeps model output from
// injecting markup into the page. Each speaker is resolved against the
// persona registry for its display name and avatar color; non-persona
// speakers (moderator, user) fall back to fixed accents.
//
// Templates are embedded in the binary with go:embed. There are no accounts
// and no write operations; access control is whatever the listener provides.
package webconsole
