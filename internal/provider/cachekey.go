// ABOUTME: Deterministic cache key derivation for generation requests.
// ABOUTME: Same persona, model, history, and params always hash to the same key.

package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// keyPayload is the canonical form hashed into a cache key. Struct field
// order fixes the JSON ordering, so no map sorting is needed.
type keyPayload struct {
	Persona  string    `json:"persona"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Params   GenParams `json:"params"`
}

// cacheKey derives the cache key for a request. Message content is
// whitespace-trimmed so irrelevant formatting differences still hit.
// The key format is "response:<persona>:<16 hex chars>".
func cacheKey(personaName, model string, messages []Message, params GenParams) string {
	normalized := make([]Message, len(messages))
	for i, m := range messages {
		normalized[i] = Message{
			Role:    m.Role,
			Content: strings.TrimSpace(m.Content),
		}
	}

	payload := keyPayload{
		Persona:  personaName,
		Model:    model,
		Messages: normalized,
		Params:   params,
	}

	data, _ := json.Marshal(payload)

	sum := sha256.Sum256(data)
	return "response:" + personaName + ":" + hex.EncodeToString(sum[:])[:16]
}
