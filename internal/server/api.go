// ABOUTME: REST handlers for personas, providers, conversations, and one-shot generation.
// ABOUTME: Service errors map onto HTTP statuses via their sentinel chains.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/2389/troupe-gateway/internal/conversation"
	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/provider"
)

// PersonaListResponse is the JSON response for GET /api/personas.
type PersonaListResponse struct {
	Personas []persona.Persona `json:"personas"`
}

// ProviderListResponse is the JSON response for GET /api/providers.
type ProviderListResponse struct {
	Providers []provider.HealthInfo `json:"providers"`
}

// ProbeResponse is the JSON response for POST /api/providers/{id}/probe.
type ProbeResponse struct {
	Provider string `json:"provider"`
	Healthy  bool   `json:"healthy"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	Participants []string `json:"participants"`
	Topic        string   `json:"topic,omitempty"`
}

// ConversationListResponse is the JSON response for GET /api/conversations.
type ConversationListResponse struct {
	Conversations []conversation.Status `json:"conversations"`
}

// ConversationDetailResponse is the JSON response for GET /api/conversations/{id}.
type ConversationDetailResponse struct {
	conversation.Status
	RecentTurns []conversation.Turn `json:"recent_turns"`
}

// InjectMessageRequest is the JSON request body for POST /api/conversations/{id}/message.
type InjectMessageRequest struct {
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
}

// TopicsResponse is the JSON response for GET /api/conversations/{id}/topics.
type TopicsResponse struct {
	Topics         []conversation.TopicScore `json:"topics"`
	SuggestedShift string                    `json:"suggested_shift,omitempty"`
}

// GenerateRequest is the JSON request body for POST /api/generate.
type GenerateRequest struct {
	Persona  string             `json:"persona"`
	Messages []provider.Message `json:"messages"`
}

// httpStatusFor maps a service error onto an HTTP status code.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound),
		errors.Is(err, persona.ErrNotFound),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrInvalidParticipants),
		errors.Is(err, persona.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleListPersonas handles GET /api/personas.
func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, PersonaListResponse{Personas: s.registry.List()})
}

// handlePutPersona handles PUT /api/personas/{name}. The path segment is the
// authoritative name; the body carries the remaining fields.
func (s *Server) handlePutPersona(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var p persona.Persona
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.Name = name

	if err := s.registry.Upsert(p); err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	stored, err := s.registry.Get(name)
	if err != nil {
		s.logger.Error("persona vanished after upsert", "persona", name, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if s.personas != nil {
		if err := s.personas.SavePersona(r.Context(), stored); err != nil {
			s.logger.Error("failed to persist persona", "persona", name, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, stored)
}

// handleDeletePersona handles DELETE /api/personas/{name}. The registry is
// the gatekeeper; a store row that is already gone is not an error.
func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.registry.Delete(name); err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	if s.personas != nil {
		if err := s.personas.DeletePersona(r.Context(), name); err != nil {
			s.logger.Warn("failed to delete persisted persona", "persona", name, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListProviders handles GET /api/providers.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ProviderListResponse{Providers: s.gateway.Snapshot()})
}

// handleProbeProvider handles POST /api/providers/{id}/probe. The probe
// outcome is folded into the provider's health state.
func (s *Server) handleProbeProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !slices.Contains(s.gateway.Providers(), id) {
		s.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", id))
		return
	}

	healthy := s.gateway.HealthCheck(r.Context(), id)
	s.writeJSON(w, http.StatusOK, ProbeResponse{Provider: id, Healthy: healthy})
}

// handleCreateConversation handles POST /api/conversations: creates the
// session and launches its loop.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Participants) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "participants are required")
		return
	}

	// Session loops outlive this request, so they hang off the server's base
	// context rather than r.Context().
	sess, err := s.conv.Start(s.baseCtx, "", req.Participants, req.Topic)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	status, err := s.conv.Status(sess.ID)
	if err != nil {
		s.logger.Error("session vanished after start", "session_id", sess.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusCreated, status)
}

// handleListConversations handles GET /api/conversations, newest first.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ConversationListResponse{Conversations: s.conv.List()})
}

// handleGetConversation handles GET /api/conversations/{id}. Returns the
// session status plus its most recent turns, capped by ?limit=N.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, err := s.conv.Status(id)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 200 {
			limit = 200
		}
	}

	turns, err := s.conv.History(id, limit)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, ConversationDetailResponse{
		Status:      status,
		RecentTurns: turns,
	})
}

// handleStopConversation handles POST /api/conversations/{id}/stop. Blocks
// until the loop has fully wound down, then returns the final status.
func (s *Server) handleStopConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.conv.Stop(id); err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	status, err := s.conv.Status(id)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleInjectMessage handles POST /api/conversations/{id}/message: appends a
// listener turn that upcoming speakers will see.
func (s *Server) handleInjectMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req InjectMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	turn, err := s.conv.InjectMessage(id, req.Sender, req.Content)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, turn)
}

// handleTopics handles GET /api/conversations/{id}/topics: scores the recent
// turns and suggests a shift when one topic dominates mid-conversation.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	scores, err := s.conv.Topics(id)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	status, err := s.conv.Status(id)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, TopicsResponse{
		Topics:         scores,
		SuggestedShift: conversation.SuggestShift(scores, status.Participants, status.Turns),
	})
}

// handleGenerate handles POST /api/generate: a one-shot generation through
// the full gateway path, outside any session loop.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Persona == "" {
		s.sendJSONError(w, http.StatusBadRequest, "persona is required")
		return
	}

	result, err := s.conv.GenerateOnce(r.Context(), req.Persona, req.Messages)
	if err != nil {
		s.sendJSONError(w, httpStatusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
