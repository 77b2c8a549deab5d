// ABOUTME: Tests for the composition root: wiring, seeding, serving, shutdown.
// ABOUTME: Boots real gateways on ephemeral ports with the demo provider.

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/troupe-gateway/internal/auth"
	"github.com/2389/troupe-gateway/internal/config"
	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/store"
)

// testConfig creates a minimal config on an available port with the demo
// provider and a throwaway database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: port},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "gateway.db")},
		Cache:    config.CacheConfig{Backend: "memory", TTL: time.Hour, MaxEntries: 128},
		Providers: config.ProvidersConfig{
			Order:            []string{"demo"},
			AttemptTimeout:   5 * time.Second,
			FailureThreshold: 3,
			OverrideAttempts: 2,
		},
		Conversation: config.ConversationConfig{
			HistoryCapacity: 50,
			HistoryWindow:   12,
			MinDelay:        time.Millisecond,
			MaxDelay:        2 * time.Millisecond,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.providers)
	assert.NotNil(t, gw.conversation)
	assert.NotNil(t, gw.httpServer)

	// An empty store gets the built-in personas, registry and store alike.
	assert.Equal(t, len(persona.Defaults()), gw.registry.Len())
	stored, err := gw.store.LoadPersonas(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, len(persona.Defaults()))
}

func TestSeedPersonas_PreservesStoredPersonas(t *testing.T) {
	cfg := testConfig(t)

	// A store that already holds a persona must not be re-seeded.
	pre, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	custom := persona.Persona{
		Name:         "oracle",
		DisplayName:  "The Oracle",
		SystemPrompt: "You are {name}, keeper of riddles.",
		Temperature:  0.8,
		TargetLength: 60,
	}
	require.NoError(t, pre.SavePersona(context.Background(), custom))
	require.NoError(t, pre.Close())

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Equal(t, 1, gw.registry.Len())
	got, err := gw.registry.Get("oracle")
	require.NoError(t, err)
	assert.Equal(t, "The Oracle", got.DisplayName)

	_, err = gw.registry.Get("philosopher")
	assert.ErrorIs(t, err, persona.ErrNotFound)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	base := "http://" + cfg.Server.Addr()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "gateway did not come up")

	// The API serves the seeded personas.
	resp, err := http.Get(base + "/api/personas")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "philosopher")

	// The console shares the mux.
	resp, err = http.Get(base + "/console")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// So does the metrics endpoint, on its private registry.
	resp, err = http.Get(base + cfg.Metrics.Path)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "troupe_active_sessions")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}
}

func TestGatewayMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayAuthEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{
		Enabled:       true,
		JWTSecret:     strings.Repeat("s", 32),
		TokenDuration: time.Hour,
	}

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	putBody := `{"display_name":"Sage","system_prompt":"You are {name}.","temperature":0.5,"target_length":80}`

	req := httptest.NewRequest(http.MethodPut, "/api/personas/sage", strings.NewReader(putBody))
	rec := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate("operator", time.Hour)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPut, "/api/personas/sage", strings.NewReader(putBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Read routes stay public.
	rec = httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayConversationRoundTrip(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	base := "http://" + cfg.Server.Addr()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "gateway did not become ready")

	// Start a conversation over the demo provider and watch it persist turns.
	resp, err := http.Post(base+"/api/conversations", "application/json",
		strings.NewReader(`{"participants":["philosopher","scientist"],"topic":"entropy"}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var status struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	require.NotEmpty(t, status.SessionID)

	require.Eventually(t, func() bool {
		turns, err := gw.store.LoadHistory(context.Background(), status.SessionID, 0)
		return err == nil && len(turns) >= 2
	}, 5*time.Second, 10*time.Millisecond, "no turns were persisted")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}

	// Shutdown flushed a terminal state for the running session.
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer st.Close()
	rec, err := st.LoadSession(context.Background(), status.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", string(rec.Status))
}
