// ABOUTME: Tests for the SSE event stream endpoint.
// ABOUTME: Reads live frames from a running session through httptest.

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/troupe-gateway/internal/conversation"
)

// sseFrame is one parsed event/data pair.
type sseFrame struct {
	event string
	data  string
}

// readSSEFrames consumes the stream until stop returns true or the reader
// ends, skipping comment lines.
func readSSEFrames(t *testing.T, sc *bufio.Scanner, stop func(sseFrame) bool) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var current sseFrame
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.event != "":
			frames = append(frames, current)
			if stop(current) {
				return frames
			}
			current = sseFrame{}
		}
	}
	return frames
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, nil)
	status := env.startTrio(t, "streaming")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/conversations/"+status.SessionID+"/events", nil)
	require.NoError(t, err)
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	frames := readSSEFrames(t, bufio.NewScanner(resp.Body), func(f sseFrame) bool {
		return f.event == "message"
	})
	require.NotEmpty(t, frames, "stream ended without frames")

	assert.Equal(t, "connected", frames[0].event)
	assert.Contains(t, frames[0].data, status.SessionID)

	last := frames[len(frames)-1]
	require.Equal(t, "message", last.event, "stream ended before a message event")

	var ev conversation.Event
	require.NoError(t, json.Unmarshal([]byte(last.data), &ev))
	assert.Equal(t, conversation.EventMessage, ev.Type)
	assert.Equal(t, status.SessionID, ev.SessionID)
	require.NotNil(t, ev.Turn)
	assert.NotEmpty(t, ev.Turn.Content)
}

func TestEventsStreamSeesInjectedMessages(t *testing.T) {
	env := newTestEnv(t, quietStub())
	status := env.startTrio(t, "")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/conversations/"+status.SessionID+"/events", nil)
	require.NoError(t, err)
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Inject once the subscription is live. Do returns after the connected
	// frame flushed, so the subscription already exists.
	go func() {
		time.Sleep(50 * time.Millisecond)
		body := strings.NewReader(`{"content":"a voice from outside"}`)
		injectResp, err := http.Post(env.ts.URL+"/api/conversations/"+status.SessionID+"/message", "application/json", body)
		if err == nil {
			injectResp.Body.Close()
		}
	}()

	frames := readSSEFrames(t, bufio.NewScanner(resp.Body), func(f sseFrame) bool {
		return f.event == "message" && strings.Contains(f.data, "a voice from outside")
	})
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	var ev conversation.Event
	require.NoError(t, json.Unmarshal([]byte(last.data), &ev))
	require.NotNil(t, ev.Turn)
	assert.Equal(t, "user", ev.Turn.Speaker)
	assert.Equal(t, "a voice from outside", ev.Turn.Content)
}

func TestEventsUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.doJSON(t, http.MethodGet, "/api/conversations/ghost/events", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
