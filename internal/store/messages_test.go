// ABOUTME: Tests for turn persistence: ordering, limits, and constraint enforcement.
// ABOUTME: Uses a real temp-file database per test.

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/troupe-gateway/internal/conversation"
)

func seedTurns(t *testing.T, s *SQLiteStore, sessionID string, n int) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i := 1; i <= n; i++ {
		err := s.SaveTurn(context.Background(), sessionID, conversation.Turn{
			Seq:       i,
			Speaker:   "philosopher",
			Content:   fmt.Sprintf("thought %d", i),
			Provider:  "demo",
			LatencyMS: int64(10 * i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestSaveTurnAndLoadHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", []string{"philosopher"}, ""))
	seedTurns(t, s, "sess-1", 3)

	turns, err := s.LoadHistory(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Seq, "history is chronological")
		assert.Equal(t, "philosopher", turn.Speaker)
		assert.Equal(t, fmt.Sprintf("thought %d", i+1), turn.Content)
		assert.Equal(t, "demo", turn.Provider)
		assert.Equal(t, int64(10*(i+1)), turn.LatencyMS)
		assert.False(t, turn.Timestamp.IsZero())
	}
}

func TestLoadHistory_LimitReturnsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", []string{"philosopher"}, ""))
	seedTurns(t, s, "sess-1", 5)

	turns, err := s.LoadHistory(ctx, "sess-1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 4, turns[0].Seq)
	assert.Equal(t, 5, turns[1].Seq)
}

func TestLoadHistory_Empty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", []string{"philosopher"}, ""))

	turns, err := s.LoadHistory(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSaveTurn_DuplicateSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", []string{"philosopher"}, ""))
	seedTurns(t, s, "sess-1", 1)

	err := s.SaveTurn(ctx, "sess-1", conversation.Turn{
		Seq:       1,
		Speaker:   "comedian",
		Content:   "rewriting history",
		Timestamp: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, isConstraintViolation(err), "duplicate seq is a constraint violation: %v", err)
}

func TestSaveTurn_UnknownConversationRejected(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveTurn(context.Background(), "ghost", conversation.Turn{
		Seq:       1,
		Speaker:   "philosopher",
		Content:   "into the void",
		Timestamp: time.Now().UTC(),
	})
	require.Error(t, err, "foreign keys are enforced")
}

func TestSaveTurn_TouchesConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", []string{"philosopher"}, ""))

	// Age the conversation, then confirm a new turn freshens it.
	stale := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	_, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, stale, "sess-1")
	require.NoError(t, err)

	seedTurns(t, s, "sess-1", 1)

	rec, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), rec.UpdatedAt, 5*time.Second)
}
