// ABOUTME: Opening lines for new sessions, themed by the participant mix.
// ABOUTME: Random choice comes from an injectable source so tests stay deterministic.

package conversation

import (
	"fmt"
	"math/rand/v2"
)

// starterThemes holds opening lines grouped by theme.
var starterThemes = map[string][]string{
	"general": {
		"What's the most interesting thing you've learned recently?",
		"If you could time travel, what era would you visit and why?",
		"What do you think is the biggest misunderstanding about your field?",
		"How do you think technology will change our daily lives in the next decade?",
		"What's a question you've always wanted to ask another perspective?",
		"What makes a truly meaningful conversation vs. just chit-chat?",
	},
	"philosophical": {
		"What does it mean to be truly 'conscious' or 'aware'?",
		"Is free will an illusion or a fundamental aspect of existence?",
		"How do we define what's 'real' in an age of simulation and AI?",
		"What's more important: pursuing happiness or doing what's right?",
		"Can morality be programmed? Should it be?",
		"What makes human experience unique in the universe?",
	},
	"scientific": {
		"What's the most elegant scientific theory you've encountered?",
		"How close are we to solving quantum gravity?",
		"What's an unsolved mystery in science that intrigues you?",
		"How might AI contribute to scientific discovery?",
		"What's the relationship between elegance and truth in physics?",
		"Could there be universes with different fundamental constants?",
	},
	"humorous": {
		"If you were a kitchen appliance, which one would you be and why?",
		"What's the most ridiculous thing about human behavior?",
		"If animals could talk, which one would be the most annoying?",
		"What's a conspiracy theory you secretly think might be true?",
		"If you could get away with one ridiculous idea, what would it be?",
		"What's the funniest misunderstanding you've witnessed?",
	},
	"technology": {
		"Will we achieve general AI before we perfect driverless cars?",
		"Should we pursue advanced AI even if it means job displacement?",
		"What's the most transformative technology you've seen so far?",
		"How should society approach the ethics of AI development?",
		"What problems seem intractable without AI assistance?",
		"Is there such a thing as 'friendly AI' or is that just optimism?",
	},
	"creativity": {
		"Can machines truly be creative, or do they just recombine ideas?",
		"What makes art meaningful to humans?",
		"How might AI change the process of artistic creation?",
		"Is there a difference between human and machine intuition?",
		"What human creative pursuits might AI enhance rather than replace?",
		"Does creativity require consciousness?",
	},
}

// topicTemplates shape an opening line around a caller-supplied topic that
// doesn't name a theme.
var topicTemplates = []string{
	"Let's talk about %s. What's everyone's first take?",
	"Today's subject is %s. Who wants to open?",
	"I'd love to hear this group's views on %s.",
}

// starterFor returns an opening line. A topic naming a known theme draws from
// that theme; any other topic is woven into a template; otherwise the theme
// follows from who is in the room.
func starterFor(participants []string, topic string, rng *rand.Rand) string {
	if topic != "" {
		if lines, ok := starterThemes[topic]; ok {
			return pick(lines, rng)
		}
		return fmt.Sprintf(pick(topicTemplates, rng), topic)
	}
	theme := themeForParticipants(participants, rng)
	return pick(starterThemes[theme], rng)
}

// themeForParticipants maps the cast to a conversational register: deep
// thinkers get fundamentals, a comedian in the mix lightens things up.
func themeForParticipants(participants []string, rng *rand.Rand) string {
	has := make(map[string]bool, len(participants))
	for _, p := range participants {
		has[p] = true
	}

	switch {
	case len(participants) == 3 && has["philosopher"] && has["comedian"] && has["scientist"]:
		return pick([]string{"philosophical", "technology", "creativity"}, rng)
	case has["philosopher"] && has["scientist"]:
		return pick([]string{"philosophical", "scientific", "technology"}, rng)
	case has["philosopher"] && has["comedian"]:
		return pick([]string{"philosophical", "humorous", "creativity"}, rng)
	case has["scientist"] && has["comedian"]:
		return pick([]string{"scientific", "humorous", "technology"}, rng)
	case has["philosopher"]:
		return pick([]string{"philosophical", "technology"}, rng)
	case has["scientist"]:
		return pick([]string{"scientific", "technology"}, rng)
	case has["comedian"]:
		return pick([]string{"humorous", "creativity", "general"}, rng)
	default:
		return pick([]string{"general", "technology"}, rng)
	}
}

func pick(lines []string, rng *rand.Rand) string {
	if rng == nil {
		return lines[rand.IntN(len(lines))]
	}
	return lines[rng.IntN(len(lines))]
}
