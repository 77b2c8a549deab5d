// ABOUTME: Client for a local Ollama server.
// ABOUTME: Uses the completion endpoint with a flattened conversation prompt.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

// NewOllama creates an Ollama client. An empty baseURL selects the standard
// local port.
func NewOllama(baseURL, defaultModel string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if defaultModel == "" {
		defaultModel = "llama2"
	}
	return &OllamaClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{},
	}
}

// Name returns the provider id.
func (c *OllamaClient) Name() string { return "ollama" }

// ollamaRequest is the /api/generate request body.
type ollamaRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

// ollamaResponse is the subset of the response body we read.
type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Send performs one generation. Ollama's completion endpoint takes a single
// prompt string, so the chat history is flattened with role prefixes.
func (c *OllamaClient) Send(ctx context.Context, model string, messages []Message, params GenParams) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	system, rest := splitSystem(messages)

	reqBody := ollamaRequest{
		Model:  model,
		Prompt: flattenPrompt(system, rest),
		Stream: false,
	}
	reqBody.Options.Temperature = params.Temperature
	reqBody.Options.NumPredict = params.MaxTokens

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", wrapTransportError(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", httpStatusError(c.Name(), resp)
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("ollama: decoding response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama: api error: %s", parsed.Error)
	}

	text := strings.TrimSpace(parsed.Response)
	if text == "" {
		return "", fmt.Errorf("ollama: response contained empty text")
	}
	return text, nil
}

// ollamaTags is the /api/tags body listing installed models.
type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the locally installed models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapTransportError(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(c.Name(), resp)
	}

	var parsed ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ollama: decoding tags: %w", err)
	}

	models := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Ping probes the server by listing installed models.
func (c *OllamaClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}
