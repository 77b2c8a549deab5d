// ABOUTME: Persona row persistence backing the in-memory registry.
// ABOUTME: Traits are stored as a JSON array; writes are upserts keyed by name.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/troupe-gateway/internal/persona"
)

// SavePersona upserts a persona row keyed by name.
func (s *SQLiteStore) SavePersona(ctx context.Context, p persona.Persona) error {
	traits, err := json.Marshal(p.Traits)
	if err != nil {
		return fmt.Errorf("encoding traits: %w", err)
	}

	query := `
		INSERT INTO personas (
			name, display_name, system_prompt, traits, avatar_color,
			temperature, target_length, max_tokens, provider, model, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name  = excluded.display_name,
			system_prompt = excluded.system_prompt,
			traits        = excluded.traits,
			avatar_color  = excluded.avatar_color,
			temperature   = excluded.temperature,
			target_length = excluded.target_length,
			max_tokens    = excluded.max_tokens,
			provider      = excluded.provider,
			model         = excluded.model,
			updated_at    = excluded.updated_at
	`

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		p.Name,
		p.DisplayName,
		p.SystemPrompt,
		string(traits),
		p.AvatarColor,
		p.Temperature,
		p.TargetLength,
		p.MaxTokens,
		p.Provider,
		p.Model,
		updatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting persona: %w", err)
	}

	s.logger.Debug("saved persona", "name", p.Name)
	return nil
}

// LoadPersonas retrieves every stored persona ordered by name.
func (s *SQLiteStore) LoadPersonas(ctx context.Context) ([]persona.Persona, error) {
	query := `
		SELECT name, display_name, system_prompt, traits, avatar_color,
		       temperature, target_length, max_tokens, provider, model, updated_at
		FROM personas
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying personas: %w", err)
	}
	defer rows.Close()

	var personas []persona.Persona
	for rows.Next() {
		var p persona.Persona
		var traitsJSON, updatedAtStr string

		if err := rows.Scan(
			&p.Name,
			&p.DisplayName,
			&p.SystemPrompt,
			&traitsJSON,
			&p.AvatarColor,
			&p.Temperature,
			&p.TargetLength,
			&p.MaxTokens,
			&p.Provider,
			&p.Model,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning persona row: %w", err)
		}

		if err := json.Unmarshal([]byte(traitsJSON), &p.Traits); err != nil {
			return nil, fmt.Errorf("decoding traits for %s: %w", p.Name, err)
		}

		p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		personas = append(personas, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating persona rows: %w", err)
	}

	return personas, nil
}

// DeletePersona removes a persona row.
// Returns ErrNotFound if no persona has that name.
func (s *SQLiteStore) DeletePersona(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting persona: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted persona", "name", name)
	return nil
}
