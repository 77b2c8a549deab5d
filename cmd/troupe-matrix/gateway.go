// ABOUTME: Gateway API client for the troupe-matrix bridge
// ABOUTME: Starts conversations and streams their SSE event feed

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event types on the gateway's SSE stream.
const (
	EventConnected    = "connected"
	EventMessage      = "message"
	EventTyping       = "typing"
	EventError        = "error"
	EventStatusChange = "status-change"
)

// StreamEvent is one parsed Server-Sent Event.
type StreamEvent struct {
	Type string
	Data string
}

// EventPayload is the JSON body shared by all stream events; fields are set
// depending on the event type.
type EventPayload struct {
	SessionID   string       `json:"session_id"`
	Speaker     string       `json:"speaker,omitempty"`
	SpeakerName string       `json:"speaker_name,omitempty"`
	Message     string       `json:"message,omitempty"`
	State       string       `json:"state,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Turn        *TurnPayload `json:"turn,omitempty"`
}

// TurnPayload is the completed turn carried by message events.
type TurnPayload struct {
	Seq      int    `json:"seq"`
	Speaker  string `json:"speaker"`
	Content  string `json:"content"`
	Provider string `json:"provider,omitempty"`
}

// ConversationStatus mirrors the gateway's session status JSON.
type ConversationStatus struct {
	SessionID    string   `json:"session_id"`
	State        string   `json:"state"`
	Participants []string `json:"participants"`
	Topic        string   `json:"topic,omitempty"`
	LastSpeaker  string   `json:"last_speaker,omitempty"`
	Turns        int      `json:"turns"`
}

type startRequest struct {
	Participants []string `json:"participants"`
	Topic        string   `json:"topic,omitempty"`
}

type injectRequest struct {
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GatewayClient communicates with the troupe-gateway HTTP API.
type GatewayClient struct {
	baseURL string
	client  *http.Client
}

// NewGatewayClient creates a new gateway client.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// StartConversation creates and starts a session for the given personas.
func (g *GatewayClient) StartConversation(ctx context.Context, participants []string, topic string) (ConversationStatus, error) {
	var status ConversationStatus
	err := g.postJSON(ctx, "/api/conversations",
		startRequest{Participants: participants, Topic: topic}, http.StatusCreated, &status)
	return status, err
}

// StopConversation stops a running session and returns its final status.
func (g *GatewayClient) StopConversation(ctx context.Context, sessionID string) (ConversationStatus, error) {
	var status ConversationStatus
	err := g.postJSON(ctx, "/api/conversations/"+sessionID+"/stop", nil, http.StatusOK, &status)
	return status, err
}

// Status fetches the current status of a session.
func (g *GatewayClient) Status(ctx context.Context, sessionID string) (ConversationStatus, error) {
	var status ConversationStatus

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/api/conversations/"+sessionID, nil)
	if err != nil {
		return status, fmt.Errorf("creating request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return status, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status, g.handleErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decoding response: %w", err)
	}
	return status, nil
}

// SendUserMessage injects a listener message into a running session.
func (g *GatewayClient) SendUserMessage(ctx context.Context, sessionID, sender, content string) error {
	return g.postJSON(ctx, "/api/conversations/"+sessionID+"/message",
		injectRequest{Sender: sender, Content: content}, http.StatusCreated, nil)
}

// postJSON sends one JSON POST and decodes the response into out when the
// status matches; anything else becomes an error.
func (g *GatewayClient) postJSON(ctx context.Context, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return g.handleErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// handleErrorResponse extracts the error message from non-OK responses.
func (g *GatewayClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
	}

	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
}

// StreamEvents follows a session's SSE feed, invoking onEvent for each
// complete frame. It blocks until the stream ends or ctx is cancelled.
func (g *GatewayClient) StreamEvents(ctx context.Context, sessionID string, onEvent func(StreamEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/api/conversations/"+sessionID+"/events", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.handleErrorResponse(resp)
	}

	return g.parseSSEStream(ctx, resp.Body, onEvent)
}

// parseSSEStream reads SSE frames from the response body. Comment lines
// (heartbeats) are skipped.
func (g *GatewayClient) parseSSEStream(ctx context.Context, body io.Reader, onEvent func(StreamEvent)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 && onEvent != nil {
				onEvent(StreamEvent{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				})
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}

	return ctx.Err()
}
