// ABOUTME: Tests for topic scoring and shift suggestions.
// ABOUTME: Pins the substring matching quirk and the mid-conversation gate.

package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turnsWithContent(contents ...string) []Turn {
	turns := make([]Turn, len(contents))
	for i, c := range contents {
		turns[i] = Turn{Seq: i + 1, Speaker: "philosopher", Content: c}
	}
	return turns
}

func scoreFor(scores []TopicScore, topic string) float64 {
	for _, s := range scores {
		if s.Topic == topic {
			return s.Score
		}
	}
	return -1
}

func TestAnalyzeTopics_EmptyHistory(t *testing.T) {
	scores := AnalyzeTopics(nil)
	require.Len(t, scores, 6, "every category is always scored")
	for _, s := range scores {
		assert.Zero(t, s.Score)
	}
}

func TestAnalyzeTopics_ScoresKeywordFraction(t *testing.T) {
	// Exactly four of philosophy's eight keywords.
	turns := turnsWithContent("the meaning of existence is a question of truth and purpose")
	scores := AnalyzeTopics(turns)

	assert.Equal(t, "philosophy", scores[0].Topic)
	assert.InDelta(t, 0.5, scores[0].Score, 1e-9)
}

func TestAnalyzeTopics_MatchesSubstrings(t *testing.T) {
	// "rain" contains "ai": matching is plain substring search, so incidental
	// hits count.
	turns := turnsWithContent("we got caught in the rain on the walk home")
	scores := AnalyzeTopics(turns)

	assert.InDelta(t, 1.0/7.0, scoreFor(scores, "technology"), 1e-9)
}

func TestAnalyzeTopics_OnlyRecentTurnsCount(t *testing.T) {
	var turns []Turn
	for range 5 {
		turns = append(turns, turnsWithContent("consciousness existence morality ethics truth")...)
	}
	for i := range 10 {
		turns = append(turns, turnsWithContent(fmt.Sprintf("pleasant weather today, day %d", i))...)
	}

	scores := AnalyzeTopics(turns)
	assert.Zero(t, scoreFor(scores, "philosophy"), "early turns fall outside the window")
}

func TestAnalyzeTopics_SortedByScoreThenName(t *testing.T) {
	turns := turnsWithContent("research evidence data quantum gravity physics evolution biology study",
		"the meaning of existence")
	scores := AnalyzeTopics(turns)

	require.Len(t, scores, 6)
	assert.Equal(t, "science", scores[0].Topic)
	for i := 1; i < len(scores); i++ {
		if scores[i-1].Score == scores[i].Score {
			assert.Less(t, scores[i-1].Topic, scores[i].Topic)
		} else {
			assert.Greater(t, scores[i-1].Score, scores[i].Score)
		}
	}
}

func TestSuggestShift_OnlyMidConversation(t *testing.T) {
	scores := []TopicScore{{Topic: "philosophy", Score: 0.9}}

	assert.Empty(t, SuggestShift(scores, nil, 5), "too early")
	assert.Empty(t, SuggestShift(scores, nil, 16), "too late")
	assert.NotEmpty(t, SuggestShift(scores, nil, 6))
	assert.NotEmpty(t, SuggestShift(scores, nil, 15))
}

func TestSuggestShift_RequiresDominantTopic(t *testing.T) {
	assert.Empty(t, SuggestShift([]TopicScore{{Topic: "philosophy", Score: 0.6}}, nil, 10),
		"0.6 is the threshold, not past it")
	assert.NotEmpty(t, SuggestShift([]TopicScore{{Topic: "philosophy", Score: 0.61}}, nil, 10))
	assert.Empty(t, SuggestShift(nil, nil, 10))
}

func TestSuggestShift_BiasesTowardParticipants(t *testing.T) {
	scores := []TopicScore{{Topic: "philosophy", Score: 0.8}}

	assert.Equal(t, "science", SuggestShift(scores, []string{"scientist"}, 10))
	assert.Equal(t, "humor", SuggestShift(scores, []string{"comedian"}, 10))
	// Without a bias the first listed complement wins.
	assert.Equal(t, "science", SuggestShift(scores, nil, 10))
}

func TestComplementsFor_PrependsMissingSpecialtyAndCaps(t *testing.T) {
	// The comedian's specialty is absent from technology's complements, so it
	// jumps the queue; the list is capped at two.
	assert.Equal(t, []string{"humor", "philosophy"},
		complementsFor("technology", []string{"comedian"}))

	// Specialties already present keep their place.
	assert.Equal(t, []string{"science", "creativity"},
		complementsFor("philosophy", []string{"scientist"}))

	assert.Len(t, complementsFor("science", nil), 2)
}
