// ABOUTME: Message row persistence for conversation turns.
// ABOUTME: Each turn is unique per (conversation, seq); history reads return chronological order.

package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/2389/troupe-gateway/internal/conversation"
)

// SaveTurn appends a turn to a conversation and bumps the conversation's
// updated_at. Saving a seq that already exists for the conversation, or
// saving to an unknown conversation, returns an error.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sessionID string, turn conversation.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO messages (conversation_id, seq, speaker, content, provider, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		sessionID,
		turn.Seq,
		turn.Speaker,
		turn.Content,
		turn.Provider,
		turn.LatencyMS,
		turn.Timestamp.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	touch := `UPDATE conversations SET updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, touch,
		time.Now().UTC().Format(time.RFC3339),
		sessionID,
	); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("saved turn", "conversation_id", sessionID, "seq", turn.Seq, "speaker", turn.Speaker)
	return nil
}

// LoadHistory retrieves a conversation's turns in chronological order. A
// positive limit returns only the most recent turns; 0 or negative returns
// everything.
func (s *SQLiteStore) LoadHistory(ctx context.Context, sessionID string, limit int) ([]conversation.Turn, error) {
	query := `
		SELECT seq, speaker, content, provider, latency_ms, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var turn conversation.Turn
		var createdAtStr string

		if err := rows.Scan(
			&turn.Seq,
			&turn.Speaker,
			&turn.Content,
			&turn.Provider,
			&turn.LatencyMS,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		turn.Timestamp, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	// Newest-first from the query; callers want chronological.
	slices.Reverse(turns)
	return turns, nil
}
