// ABOUTME: HTTP API exposing orchestrator operations over REST, SSE, and WebSocket.
// ABOUTME: Owns route registration; auth middleware wraps only the mutating routes.

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/troupe-gateway/internal/auth"
	"github.com/2389/troupe-gateway/internal/conversation"
	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/provider"
)

// readyCheckTimeout bounds the store ping in the readiness handler.
const readyCheckTimeout = 2 * time.Second

// PersonaStore persists persona edits made through the API. The registry is
// authoritative at runtime; the store keeps edits across restarts.
type PersonaStore interface {
	SavePersona(ctx context.Context, p persona.Persona) error
	DeletePersona(ctx context.Context, name string) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the API surface. Conversation, Registry,
// and Providers are required; the rest may be nil.
type Deps struct {
	Conversation *conversation.Service
	Registry     *persona.Registry
	Providers    *provider.Gateway
	Personas     PersonaStore
	Store        Pinger

	// Auth wraps the mutating routes. Defaults to auth.Passthrough().
	Auth func(http.Handler) http.Handler

	// SessionCtx is the parent context for session loops started through the
	// API; request contexts end too early for them. Defaults to
	// context.Background().
	SessionCtx context.Context

	Logger *slog.Logger
}

// Server carries the handler state for the HTTP API.
type Server struct {
	conv     *conversation.Service
	registry *persona.Registry
	gateway  *provider.Gateway
	personas PersonaStore
	pinger   Pinger
	auth     func(http.Handler) http.Handler
	baseCtx  context.Context
	logger   *slog.Logger
}

// New builds a Server from its dependencies.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authMW := deps.Auth
	if authMW == nil {
		authMW = auth.Passthrough()
	}
	baseCtx := deps.SessionCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Server{
		conv:     deps.Conversation,
		registry: deps.Registry,
		gateway:  deps.Providers,
		personas: deps.Personas,
		pinger:   deps.Store,
		auth:     authMW,
		baseCtx:  baseCtx,
		logger:   logger.With("component", "api"),
	}
}

// RegisterRoutes mounts every API route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	mux.HandleFunc("GET /api/personas", s.handleListPersonas)
	mux.Handle("PUT /api/personas/{name}", s.auth(http.HandlerFunc(s.handlePutPersona)))
	mux.Handle("DELETE /api/personas/{name}", s.auth(http.HandlerFunc(s.handleDeletePersona)))

	mux.HandleFunc("GET /api/providers", s.handleListProviders)
	mux.Handle("POST /api/providers/{id}/probe", s.auth(http.HandlerFunc(s.handleProbeProvider)))

	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.Handle("POST /api/conversations/{id}/stop", s.auth(http.HandlerFunc(s.handleStopConversation)))
	mux.HandleFunc("POST /api/conversations/{id}/message", s.handleInjectMessage)
	mux.HandleFunc("GET /api/conversations/{id}/topics", s.handleTopics)

	mux.HandleFunc("POST /api/generate", s.handleGenerate)

	mux.HandleFunc("GET /api/conversations/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /ws/conversations/{id}", s.handleWebSocket)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the store answers and at least one provider
// can be auto-selected.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness check: store unreachable", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "store unreachable",
			})
			return
		}
	}

	if !s.gateway.AnySelectable() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "no selectable provider",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"providers": len(s.gateway.Providers()),
	})
}

// writeJSON writes v as the JSON response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
