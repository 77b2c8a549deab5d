// ABOUTME: Read-only HTML console for browsing conversations and transcripts.
// ABOUTME: Renders turn content as Markdown with persona colors as accents.

package webconsole

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/troupe-gateway/internal/conversation"
	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/store"
)

const (
	// sessionListLimit bounds the session list page.
	sessionListLimit = 100

	// transcriptTurnLimit bounds how much history a transcript page loads.
	transcriptTurnLimit = 500
)

// Store is the slice of the persistence layer the console reads from.
type Store interface {
	ListSessions(ctx context.Context, limit int) ([]conversation.SessionRecord, error)
	LoadSession(ctx context.Context, sessionID string) (conversation.SessionRecord, error)
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]conversation.Turn, error)
}

// Console serves the read-only web pages. It has no accounts or sessions;
// anyone who can reach the listener can browse.
type Console struct {
	store    Store
	registry *persona.Registry
	logger   *slog.Logger
}

// New creates a Console backed by the given store and persona registry.
func New(st Store, registry *persona.Registry) *Console {
	return &Console{
		store:    st,
		registry: registry,
		logger:   slog.Default().With("component", "console"),
	}
}

// RegisterRoutes registers the console pages on the given mux.
func (c *Console) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /console", c.handleSessions)
	mux.HandleFunc("GET /console/", c.handleSessions)
	mux.HandleFunc("GET /console/sessions/{id}", c.handleTranscript)
}

// sessionItem is one row on the session list page.
type sessionItem struct {
	ID           string
	Topic        string
	Participants string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type sessionListData struct {
	Title    string
	Sessions []sessionItem
}

// turnView is one rendered turn on the transcript page.
type turnView struct {
	Speaker     string
	DisplayName string
	Color       string
	Provider    string
	Content     template.HTML
	Timestamp   time.Time
}

type transcriptData struct {
	Title   string
	Session sessionItem
	Turns   []turnView
}

// Speakers that are not personas still get a stable accent.
var speakerColors = map[string]string{
	"moderator": "#64748b",
	"user":      "#e2b714",
}

const defaultSpeakerColor = "#94a3b8"

// handleSessions renders the conversation list page.
func (c *Console) handleSessions(w http.ResponseWriter, r *http.Request) {
	records, err := c.store.ListSessions(r.Context(), sessionListLimit)
	if err != nil {
		c.logger.Error("failed to list sessions", "error", err)
		http.Error(w, "Failed to load conversations", http.StatusInternalServerError)
		return
	}

	data := sessionListData{Title: "Conversations"}
	for _, rec := range records {
		data.Sessions = append(data.Sessions, sessionListItem(rec))
	}

	tmpl := template.Must(template.ParseFS(templateFS,
		"templates/base.html",
		"templates/sessions.html",
	))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		c.logger.Error("failed to render session list", "error", err)
	}
}

// handleTranscript renders a single conversation with its turns.
func (c *Console) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := c.store.LoadSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		c.logger.Error("failed to load session", "error", err, "session_id", id)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}

	turns, err := c.store.LoadHistory(r.Context(), id, transcriptTurnLimit)
	if err != nil {
		c.logger.Error("failed to load history", "error", err, "session_id", id)
		http.Error(w, "Failed to load transcript", http.StatusInternalServerError)
		return
	}

	data := transcriptData{
		Title:   pageTitle(rec),
		Session: sessionListItem(rec),
	}
	for _, turn := range turns {
		data.Turns = append(data.Turns, c.turnView(turn))
	}

	tmpl := template.Must(template.ParseFS(templateFS,
		"templates/base.html",
		"templates/transcript.html",
	))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		c.logger.Error("failed to render transcript", "error", err, "session_id", id)
	}
}

// turnView resolves the speaker's display name and color and renders the
// content Markdown.
func (c *Console) turnView(turn conversation.Turn) turnView {
	display := turn.Speaker
	color := defaultSpeakerColor

	if p, err := c.registry.Get(turn.Speaker); err == nil {
		if p.DisplayName != "" {
			display = p.DisplayName
		}
		if p.AvatarColor != "" {
			color = p.AvatarColor
		}
	} else if accent, ok := speakerColors[turn.Speaker]; ok {
		color = accent
	}

	return turnView{
		Speaker:     turn.Speaker,
		DisplayName: display,
		Color:       color,
		Provider:    turn.Provider,
		Content:     c.renderMarkdown(turn.Content),
		Timestamp:   turn.Timestamp,
	}
}

// renderMarkdown converts turn content to HTML. Goldmark's default renderer
// drops raw HTML, so model output can't inject markup.
func (c *Console) renderMarkdown(content string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		c.logger.Error("failed to convert markdown", "error", err)
		return template.HTML("<p>" + template.HTMLEscapeString(content) + "</p>")
	}
	return template.HTML(buf.String())
}

func sessionListItem(rec conversation.SessionRecord) sessionItem {
	return sessionItem{
		ID:           rec.ID,
		Topic:        rec.Topic,
		Participants: strings.Join(rec.Participants, ", "),
		Status:       string(rec.Status),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func pageTitle(rec conversation.SessionRecord) string {
	if rec.Topic != "" {
		return rec.Topic
	}
	return "Conversation"
}
