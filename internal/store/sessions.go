// ABOUTME: Conversation row persistence: create, load, list, and status updates.
// ABOUTME: Participants are stored as a JSON array in a text column.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/troupe-gateway/internal/conversation"
)

// CreateSession inserts a conversation row in the idle state. Returns
// ErrDuplicateSession if the id is already taken.
func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID string, participants []string, topic string) error {
	encoded, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO conversations (id, topic, participants, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		sessionID,
		topic,
		string(encoded),
		string(conversation.StateIdle),
		now,
		now,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", sessionID, "participants", participants)
	return nil
}

// LoadSession retrieves one conversation row.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (conversation.SessionRecord, error) {
	query := `
		SELECT id, topic, participants, status, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var rec conversation.SessionRecord
	var participantsJSON, status, createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.ID,
		&rec.Topic,
		&participantsJSON,
		&status,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return conversation.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return conversation.SessionRecord{}, fmt.Errorf("querying conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(participantsJSON), &rec.Participants); err != nil {
		return conversation.SessionRecord{}, fmt.Errorf("decoding participants: %w", err)
	}
	rec.Status = conversation.RunState(status)

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return conversation.SessionRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return conversation.SessionRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}

	return rec, nil
}

// ListSessions retrieves conversations ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]conversation.SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, topic, participants, status, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var records []conversation.SessionRecord
	for rows.Next() {
		var rec conversation.SessionRecord
		var participantsJSON, status, createdAtStr, updatedAtStr string

		if err := rows.Scan(
			&rec.ID,
			&rec.Topic,
			&participantsJSON,
			&status,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		if err := json.Unmarshal([]byte(participantsJSON), &rec.Participants); err != nil {
			return nil, fmt.Errorf("decoding participants: %w", err)
		}
		rec.Status = conversation.RunState(status)

		rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return records, nil
}

// SaveStatus records a conversation's run state and, for terminal changes,
// the reason. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SaveStatus(ctx context.Context, sessionID string, state conversation.RunState, reason string) error {
	query := `
		UPDATE conversations
		SET status = ?, status_reason = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(state),
		nullString(reason),
		time.Now().UTC().Format(time.RFC3339),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("saved conversation status", "id", sessionID, "status", state, "reason", reason)
	return nil
}
