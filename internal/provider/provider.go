// ABOUTME: Core types for external text-generation providers.
// ABOUTME: Defines the Client capability interface implemented by each backend.

package provider

import (
	"context"
	"strings"
	"time"
)

// Message roles used in chat histories.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a chat history sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenParams are the generation parameters for one request.
type GenParams struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Result is a completed generation.
type Result struct {
	Text     string        `json:"text"`
	Provider string        `json:"provider"`
	Latency  time.Duration `json:"latency"`
	Cached   bool          `json:"cached"`
}

// Client is the capability interface for one external provider. Implementations
// are resolved once at startup and registered with the Gateway; there is no
// runtime reflection or dynamic dispatch beyond this interface.
type Client interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// Send performs one generation. An empty model selects the client's
	// configured default. Implementations must honor ctx cancellation.
	Send(ctx context.Context, model string, messages []Message, params GenParams) (string, error)

	// ListModels returns the models the provider currently offers.
	ListModels(ctx context.Context) ([]string, error)

	// Ping is a lightweight health probe.
	Ping(ctx context.Context) error
}

// splitSystem separates a leading system message from the rest of the history.
// Providers whose APIs carry the system prompt out-of-band use this.
func splitSystem(messages []Message) (string, []Message) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

// flattenPrompt renders a chat history as a single prompt string for
// completion-style APIs, ending with an assistant cue.
func flattenPrompt(system string, messages []Message) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("System: ")
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nAssistant:")
	return b.String()
}
