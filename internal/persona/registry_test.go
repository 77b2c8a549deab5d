// ABOUTME: Tests for the persona registry.
// ABOUTME: Covers validation, copy-on-read, rendering, and concurrent access.

package persona

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePersona(name string) Persona {
	return Persona{
		Name:         name,
		DisplayName:  "The " + name,
		SystemPrompt: "You are {name}. {traits}",
		Traits:       []string{"curious", "direct"},
		AvatarColor:  "#336699",
		Temperature:  0.7,
		TargetLength: 100,
	}
}

func TestRegistry_UpsertAndGet(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Upsert(makePersona("sage")))

	got, err := r.Get("sage")
	require.NoError(t, err)
	assert.Equal(t, "sage", got.Name)
	assert.Equal(t, "The sage", got.DisplayName)
	assert.False(t, got.UpdatedAt.IsZero(), "UpdatedAt should be set on upsert")
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Upsert(makePersona("sage")))

	first, err := r.Get("sage")
	require.NoError(t, err)
	first.Traits[0] = "mutated"
	first.DisplayName = "changed"

	second, err := r.Get("sage")
	require.NoError(t, err)
	assert.Equal(t, "curious", second.Traits[0], "registry state must not be shared with callers")
	assert.Equal(t, "The sage", second.DisplayName)
}

func TestRegistry_ListSortedByName(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"zeno", "ada", "mira"} {
		require.NoError(t, r.Upsert(makePersona(name)))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "ada", list[0].Name)
	assert.Equal(t, "mira", list[1].Name)
	assert.Equal(t, "zeno", list[2].Name)
}

func TestRegistry_UpsertReplaces(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Upsert(makePersona("sage")))

	updated := makePersona("sage")
	updated.Temperature = 1.2
	require.NoError(t, r.Upsert(updated))

	got, err := r.Get("sage")
	require.NoError(t, err)
	assert.Equal(t, 1.2, got.Temperature)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Delete(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Upsert(makePersona("sage")))

	require.NoError(t, r.Delete("sage"))
	_, err := r.Get("sage")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = r.Delete("sage")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistry_UpsertValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Persona)
	}{
		{"uppercase name", func(p *Persona) { p.Name = "Sage" }},
		{"empty name", func(p *Persona) { p.Name = "" }},
		{"name with spaces", func(p *Persona) { p.Name = "the sage" }},
		{"empty display name", func(p *Persona) { p.DisplayName = "" }},
		{"empty system prompt", func(p *Persona) { p.SystemPrompt = "" }},
		{"temperature too high", func(p *Persona) { p.Temperature = 2.5 }},
		{"negative temperature", func(p *Persona) { p.Temperature = -0.1 }},
		{"zero target length", func(p *Persona) { p.TargetLength = 0 }},
		{"negative max tokens", func(p *Persona) { p.MaxTokens = -1 }},
		{"bad avatar color", func(p *Persona) { p.AvatarColor = "blue" }},
		{"empty trait tag", func(p *Persona) { p.Traits = []string{"witty", ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			p := makePersona("sage")
			tt.mutate(&p)

			err := r.Upsert(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "error should wrap ErrInvalidConfig, got %v", err)
			assert.Equal(t, 0, r.Len(), "rejected persona must not be stored")
		})
	}
}

func TestRenderSystemPrompt_Placeholders(t *testing.T) {
	r := NewRegistry(nil)
	p := makePersona("sage")

	rendered := r.RenderSystemPrompt(p)
	assert.Equal(t, "You are The sage. curious, direct", rendered)
}

func TestRenderSystemPrompt_AppendsTraits(t *testing.T) {
	r := NewRegistry(nil)
	p := makePersona("sage")
	p.SystemPrompt = "You are a helpful guide."

	rendered := r.RenderSystemPrompt(p)
	assert.Equal(t, "You are a helpful guide.\n\nCharacter traits: curious, direct.", rendered)
}

func TestRenderSystemPrompt_NoTraits(t *testing.T) {
	r := NewRegistry(nil)
	p := makePersona("sage")
	p.SystemPrompt = "You are a helpful guide."
	p.Traits = nil

	rendered := r.RenderSystemPrompt(p)
	assert.Equal(t, "You are a helpful guide.", rendered)
}

func TestRenderSystemPrompt_Deterministic(t *testing.T) {
	r := NewRegistry(nil)
	p := makePersona("sage")

	first := r.RenderSystemPrompt(p)
	for range 10 {
		assert.Equal(t, first, r.RenderSystemPrompt(p))
	}
}

func TestPersona_TokenBudget(t *testing.T) {
	tests := []struct {
		targetLength int
		maxTokens    int
		want         int
	}{
		{80, 0, 160},
		{150, 0, 300},
		{1000, 0, 1500}, // capped
		{100, 512, 512}, // explicit override wins
	}

	for _, tt := range tests {
		p := Persona{TargetLength: tt.targetLength, MaxTokens: tt.maxTokens}
		assert.Equal(t, tt.want, p.TokenBudget(), "target=%d max=%d", tt.targetLength, tt.maxTokens)
	}
}

func TestDefaults_AllValid(t *testing.T) {
	defaults := Defaults()
	require.Len(t, defaults, 3)

	seen := make(map[string]bool)
	for _, p := range defaults {
		require.NoError(t, p.Validate(), "default persona %q must validate", p.Name)
		assert.False(t, seen[p.Name], "duplicate default persona %q", p.Name)
		seen[p.Name] = true
	}
	assert.True(t, seen["philosopher"])
	assert.True(t, seen["comedian"])
	assert.True(t, seen["scientist"])
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Upsert(makePersona("sage")))

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			p := makePersona(fmt.Sprintf("writer-%d", i))
			assert.NoError(t, r.Upsert(p))
		})
		wg.Go(func() {
			_, err := r.Get("sage")
			assert.NoError(t, err)
			_ = r.List()
		})
	}
	wg.Wait()

	assert.Equal(t, 11, r.Len())
}
