// ABOUTME: Persona-shaped history windows: each persona sees a different slice of the session.
// ABOUTME: Deterministic for a given history; no turn appears twice.

package conversation

import (
	"strings"
	"unicode"
)

// defaultWindowSize caps the turns handed to a provider when the config does
// not say otherwise.
const defaultWindowSize = 12

// philosophicalKeywords marks turns worth keeping in the philosopher's window.
var philosophicalKeywords = []string{
	"meaning", "existence", "conscious", "free will", "morality", "ethics",
	"reality", "truth", "purpose", "human nature", "mind", "soul",
}

// funnySetupIndicators decide whether the opening turn stays in the
// comedian's window.
var funnySetupIndicators = []string{
	"joke", "funny", "laugh", "ridiculous", "absurd", "weird",
	"prefer", "instead", "rather", "kitchen appliance",
}

// factualIndicators mark turns the scientist wants to revisit.
var factualIndicators = []string{
	"research", "study", "evidence", "data", "fact", "prove",
	"scientifically", "according to", "study shows", "facts show",
}

// windowFor returns the slice of history a persona should see, shaped by how
// that persona pays attention: the philosopher keeps thematically relevant
// turns, the comedian stays recent, the scientist tracks factual claims.
func windowFor(personaName string, turns []Turn, max int) []Turn {
	if max <= 0 {
		max = defaultWindowSize
	}
	switch personaName {
	case "philosopher":
		return philosopherWindow(turns, max)
	case "comedian":
		return comedianWindow(turns, min(8, max))
	case "scientist":
		return scientistWindow(turns, min(10, max))
	default:
		return defaultWindow(turns, min(10, max))
	}
}

// defaultWindow keeps the opening turn plus the most recent ones.
func defaultWindow(turns []Turn, max int) []Turn {
	if len(turns) <= max {
		return copyTurns(turns)
	}
	out := make([]Turn, 0, max)
	out = append(out, turns[0])
	out = append(out, turns[len(turns)-(max-1):]...)
	return out
}

// philosopherWindow keeps the opener, up to three older turns touching
// philosophical themes, and the last six turns.
func philosopherWindow(turns []Turn, max int) []Turn {
	if len(turns) <= 5 {
		return copyTurns(turns)
	}

	picked := []Turn{turns[0]}

	// Middle turns only; the recent tail is added wholesale below.
	var relevant []Turn
	for _, t := range turns[1 : len(turns)-4] {
		if containsAny(t.Content, philosophicalKeywords) {
			relevant = append(relevant, t)
		}
	}
	if len(relevant) > 3 {
		relevant = relevant[len(relevant)-3:]
	}
	picked = append(picked, relevant...)
	picked = append(picked, turns[len(turns)-6:]...)

	return dedupeAndCap(picked, max)
}

// comedianWindow keeps the last eight turns, plus the opener when it set up
// something to riff on.
func comedianWindow(turns []Turn, max int) []Turn {
	if len(turns) < 3 {
		return copyTurns(turns)
	}
	recent := turns
	if len(recent) > max {
		recent = recent[len(recent)-max:]
	}
	out := make([]Turn, 0, len(recent)+1)
	if containsAny(turns[0].Content, funnySetupIndicators) {
		out = append(out, turns[0])
	}
	out = append(out, recent...)
	return dedupeAndCap(out, max+1)
}

// scientistWindow keeps the opener, up to three turns with factual claims,
// and the last four turns.
func scientistWindow(turns []Turn, max int) []Turn {
	if len(turns) <= 3 {
		return copyTurns(turns)
	}

	picked := []Turn{turns[0]}

	var factual []Turn
	for _, t := range turns[1:] {
		if hasFactualClaim(t.Content) {
			factual = append(factual, t)
		}
	}
	if len(factual) > 3 {
		factual = factual[len(factual)-3:]
	}
	picked = append(picked, factual...)
	picked = append(picked, turns[len(turns)-4:]...)

	return dedupeAndCap(picked, max)
}

// hasFactualClaim reports whether content cites evidence or contains a number.
func hasFactualClaim(content string) bool {
	if containsAny(content, factualIndicators) {
		return true
	}
	for _, r := range content {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// containsAny reports whether the lowercased content contains any keyword.
func containsAny(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// dedupeAndCap removes repeated turns (same sequence number), preserving
// first-occurrence order, then truncates to max.
func dedupeAndCap(turns []Turn, max int) []Turn {
	seen := make(map[int]bool, len(turns))
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if seen[t.Seq] {
			continue
		}
		seen[t.Seq] = true
		out = append(out, t)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func copyTurns(turns []Turn) []Turn {
	return append([]Turn(nil), turns...)
}
