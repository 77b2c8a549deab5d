// ABOUTME: Read-mostly registry of personas keyed by name.
// ABOUTME: Hands out copies so scheduler loops never share mutable state.

package persona

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry coordinates persona lookup for all scheduler loops. Reads vastly
// outnumber writes, so it uses a single RWMutex over a map of stored copies.
type Registry struct {
	personas map[string]*Persona
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		personas: make(map[string]*Persona),
		logger:   logger.With("component", "persona_registry"),
	}
}

// Get returns a copy of the named persona.
// Returns ErrNotFound if no persona has that name.
func (r *Registry) Get(name string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p.Clone(), nil
}

// List returns copies of all personas sorted by name.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Upsert validates the persona and stores a copy, replacing any existing
// persona with the same name. Returns a validation error wrapping
// ErrInvalidConfig on rejection.
func (r *Registry) Upsert(p Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}

	stored := p.Clone()
	stored.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	_, existed := r.personas[stored.Name]
	r.personas[stored.Name] = &stored
	total := len(r.personas)
	r.mu.Unlock()

	if existed {
		r.logger.Info("persona updated", "name", stored.Name, "total", total)
	} else {
		r.logger.Info("persona registered", "name", stored.Name, "total", total)
	}
	return nil
}

// Delete removes the named persona. Returns ErrNotFound if absent.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.personas[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.personas, name)
	r.logger.Info("persona deleted", "name", name, "total", len(r.personas))
	return nil
}

// Len returns the number of registered personas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.personas)
}

// RenderSystemPrompt expands the persona's prompt template deterministically.
// {name} expands to the display name and {traits} to the comma-joined trait
// list; a template without a {traits} placeholder gets the trait list
// appended. Same persona in, same prompt out, so cache keys stay stable.
func (r *Registry) RenderSystemPrompt(p Persona) string {
	prompt := strings.ReplaceAll(p.SystemPrompt, "{name}", p.DisplayName)

	traits := strings.Join(p.Traits, ", ")
	if strings.Contains(prompt, "{traits}") {
		return strings.ReplaceAll(prompt, "{traits}", traits)
	}
	if traits == "" {
		return prompt
	}
	return prompt + "\n\nCharacter traits: " + traits + "."
}
