// ABOUTME: Tests for persona row persistence.
// ABOUTME: Covers save/load roundtrips, upsert semantics, and deletion.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/troupe-gateway/internal/persona"
)

func TestSaveAndLoadPersonas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range persona.Defaults() {
		require.NoError(t, s.SavePersona(ctx, p))
	}

	loaded, err := s.LoadPersonas(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, len(persona.Defaults()))

	// Rows come back sorted by name.
	for i := 1; i < len(loaded); i++ {
		assert.Less(t, loaded[i-1].Name, loaded[i].Name)
	}

	byName := map[string]persona.Persona{}
	for _, p := range loaded {
		byName[p.Name] = p
	}
	phil, ok := byName["philosopher"]
	require.True(t, ok)
	assert.Equal(t, "The Philosopher", phil.DisplayName)
	assert.Equal(t, []string{"thoughtful", "abstract", "wise", "questioning"}, phil.Traits)
	assert.InDelta(t, 0.7, phil.Temperature, 1e-9)
	assert.Equal(t, 150, phil.TargetLength)
	assert.False(t, phil.UpdatedAt.IsZero())
}

func TestSavePersona_UpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := persona.Defaults()[0]
	require.NoError(t, s.SavePersona(ctx, p))

	p.DisplayName = "The Reworked Philosopher"
	p.Traits = []string{"revised"}
	p.Temperature = 1.1
	p.UpdatedAt = time.Now()
	require.NoError(t, s.SavePersona(ctx, p))

	loaded, err := s.LoadPersonas(ctx)
	require.NoError(t, err)

	var found *persona.Persona
	count := 0
	for i := range loaded {
		if loaded[i].Name == p.Name {
			found = &loaded[i]
			count++
		}
	}
	require.Equal(t, 1, count, "upsert must not duplicate rows")
	assert.Equal(t, "The Reworked Philosopher", found.DisplayName)
	assert.Equal(t, []string{"revised"}, found.Traits)
	assert.InDelta(t, 1.1, found.Temperature, 1e-9)
}

func TestDeletePersona(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePersona(ctx, persona.Defaults()[0]))
	require.NoError(t, s.DeletePersona(ctx, persona.Defaults()[0].Name))

	loaded, err := s.LoadPersonas(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	assert.ErrorIs(t, s.DeletePersona(ctx, "ghost"), ErrNotFound)
}

func TestLoadPersonas_Empty(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.LoadPersonas(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
