// ABOUTME: Tests for the read-only console pages against a real SQLite store.
// ABOUTME: Asserts rendered HTML carries transcripts, Markdown, and persona accents.

package webconsole

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/troupe-gateway/internal/conversation"
	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/store"
)

func newConsoleEnv(t *testing.T) (*httptest.Server, *store.SQLiteStore, *persona.Registry) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := persona.NewRegistry(nil)
	for _, p := range persona.Defaults() {
		require.NoError(t, registry.Upsert(p))
	}

	mux := http.NewServeMux()
	New(st, registry).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts, st, registry
}

func getPage(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func seedConversation(t *testing.T, st *store.SQLiteStore, id, topic string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, id, []string{"philosopher", "comedian"}, topic))
	require.NoError(t, st.SaveStatus(ctx, id, conversation.StateRunning, ""))
}

func TestSessionListPage(t *testing.T) {
	ts, st, _ := newConsoleEnv(t)
	seedConversation(t, st, "sess-list-1", "the ethics of puns")

	resp, body := getPage(t, ts.URL+"/console")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "the ethics of puns")
	assert.Contains(t, body, "/console/sessions/sess-list-1")
	assert.Contains(t, body, "philosopher, comedian")
	assert.Contains(t, body, "running")
}

func TestSessionListPage_TrailingSlash(t *testing.T) {
	ts, st, _ := newConsoleEnv(t)
	seedConversation(t, st, "sess-slash", "")

	resp, body := getPage(t, ts.URL+"/console/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "sess-slash")
	assert.Contains(t, body, "untitled")
}

func TestSessionListPage_Empty(t *testing.T) {
	ts, _, _ := newConsoleEnv(t)

	resp, body := getPage(t, ts.URL+"/console")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "No conversations yet")
}

func TestTranscriptPage(t *testing.T) {
	ts, st, registry := newConsoleEnv(t)
	seedConversation(t, st, "sess-tr-1", "markdown in the wild")

	ctx := context.Background()
	turns := []conversation.Turn{
		{Seq: 1, Speaker: "moderator", Content: "Welcome, everyone.", Timestamp: time.Now()},
		{Seq: 2, Speaker: "philosopher", Content: "A **bold** claim deserves *scrutiny*.", Provider: "openai", LatencyMS: 420, Timestamp: time.Now()},
	}
	for _, turn := range turns {
		require.NoError(t, st.SaveTurn(ctx, "sess-tr-1", turn))
	}

	resp, body := getPage(t, ts.URL+"/console/sessions/sess-tr-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "markdown in the wild")

	// Goldmark output, not the raw source.
	assert.Contains(t, body, "<strong>bold</strong>")
	assert.Contains(t, body, "<em>scrutiny</em>")
	assert.NotContains(t, body, "**bold**")

	// The philosopher renders under its display name and avatar color.
	p, err := registry.Get("philosopher")
	require.NoError(t, err)
	assert.Contains(t, body, p.DisplayName)
	assert.Contains(t, body, p.AvatarColor)

	assert.Contains(t, body, "via openai")
}

func TestTranscriptPage_RawHTMLStripped(t *testing.T) {
	ts, st, _ := newConsoleEnv(t)
	seedConversation(t, st, "sess-xss", "")

	turn := conversation.Turn{
		Seq:       1,
		Speaker:   "comedian",
		Content:   "<script>alert('ha')</script> just kidding",
		Timestamp: time.Now(),
	}
	require.NoError(t, st.SaveTurn(context.Background(), "sess-xss", turn))

	resp, body := getPage(t, ts.URL+"/console/sessions/sess-xss")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "<script>alert")
	assert.Contains(t, body, "just kidding")
}

func TestTranscriptPage_UnknownSpeakerFallback(t *testing.T) {
	ts, st, _ := newConsoleEnv(t)
	seedConversation(t, st, "sess-fallback", "")

	turn := conversation.Turn{
		Seq:       1,
		Speaker:   "mystery-guest",
		Content:   "who am I?",
		Timestamp: time.Now(),
	}
	require.NoError(t, st.SaveTurn(context.Background(), "sess-fallback", turn))

	resp, body := getPage(t, ts.URL+"/console/sessions/sess-fallback")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "mystery-guest")
	assert.Contains(t, body, defaultSpeakerColor)
}

func TestTranscriptPage_NotFound(t *testing.T) {
	ts, _, _ := newConsoleEnv(t)

	resp, _ := getPage(t, ts.URL+"/console/sessions/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
