// ABOUTME: Keyword-based topic scoring over recent turns, plus topic-shift suggestions.
// ABOUTME: Scores are the fraction of a category's keywords present, capped at 1.0.

package conversation

import (
	"sort"
	"strings"
)

// topicWindow is how many recent turns topic analysis looks at.
const topicWindow = 10

// topicOrder fixes the category ordering for stable output.
var topicOrder = []string{
	"philosophy", "science", "technology", "creativity", "humor", "society",
}

var topicKeywords = map[string][]string{
	"philosophy": {"meaning", "existence", "consciousness", "free will", "morality", "ethics", "truth", "purpose"},
	"science":    {"research", "evidence", "data", "study", "quantum", "gravity", "evolution", "biology", "physics"},
	"technology": {"ai", "machine learning", "algorithm", "automation", "innovation", "future", "progress"},
	"creativity": {"art", "music", "inspiration", "imagination", "design", "innovation", "expression"},
	"humor":      {"joke", "funny", "laugh", "comedy", "absurd", "ridiculous", "entertain", "amuse"},
	"society":    {"humanity", "culture", "relationship", "society", "civilization", "future humans"},
}

// complementaryTopics suggests where a conversation can go next from a
// dominant topic.
var complementaryTopics = map[string][]string{
	"philosophy": {"science", "creativity", "technology"},
	"science":    {"philosophy", "technology", "humor"},
	"technology": {"philosophy", "science", "society"},
	"creativity": {"philosophy", "humor", "technology"},
	"humor":      {"science", "society", "creativity"},
	"society":    {"philosophy", "technology", "science"},
}

// TopicScore pairs a topic category with its relevance to recent turns.
type TopicScore struct {
	Topic string  `json:"topic"`
	Score float64 `json:"score"`
}

// AnalyzeTopics scores every category against the last ten turns. All
// categories are returned, sorted by descending score then name.
func AnalyzeTopics(turns []Turn) []TopicScore {
	if len(turns) > topicWindow {
		turns = turns[len(turns)-topicWindow:]
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.Content)
	}
	combined := strings.ToLower(b.String())

	scores := make([]TopicScore, 0, len(topicOrder))
	for _, topic := range topicOrder {
		keywords := topicKeywords[topic]
		hits := 0
		for _, k := range keywords {
			if strings.Contains(combined, k) {
				hits++
			}
		}
		score := float64(hits) / float64(len(keywords))
		if score > 1.0 {
			score = 1.0
		}
		scores = append(scores, TopicScore{Topic: topic, Score: score})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Topic < scores[j].Topic
	})
	return scores
}

// SuggestShift proposes a complementary topic once one category dominates
// (score above 0.6) in the middle stretch of a conversation. Returns "" when
// no shift is warranted.
func SuggestShift(scores []TopicScore, participants []string, turnCount int) string {
	if turnCount < 6 || turnCount > 15 {
		return ""
	}
	if len(scores) == 0 || scores[0].Score <= 0.6 {
		return ""
	}
	complements := complementsFor(scores[0].Topic, participants)
	if len(complements) == 0 {
		return ""
	}
	return complements[0]
}

// complementsFor returns up to two follow-on topics, biased toward the
// specialties of whoever is participating.
func complementsFor(topic string, participants []string) []string {
	out := append([]string(nil), complementaryTopics[topic]...)

	prepend := func(t string) {
		for _, existing := range out {
			if existing == t {
				return
			}
		}
		out = append([]string{t}, out...)
	}
	for _, p := range participants {
		switch p {
		case "philosopher":
			prepend("philosophy")
		case "scientist":
			prepend("science")
		case "comedian":
			prepend("humor")
		}
	}

	if len(out) > 2 {
		out = out[:2]
	}
	return out
}
