package analysis

import "strings"

// Urgency is the discrete urgency level of a message.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

var positiveWords = wordSet(
	"great", "good", "awesome", "excellent", "perfect", "nice", "thanks",
	"thank", "love", "works", "fixed", "solved", "happy", "cool", "amazing",
)

var negativeWords = wordSet(
	"bad", "broken", "error", "bug", "fail", "failed", "failing", "problem",
	"wrong", "crash", "crashed", "horrible", "terrible", "hate", "stuck",
	"annoying", "slow",
)

var negationWords = wordSet("not", "no", "never", "don't", "dont", "can't", "cant", "won't", "wont", "isn't", "isnt")

var intensifierWords = wordSet("very", "really", "so", "extremely", "super", "totally", "completely")

var highUrgencyWords = wordSet("urgent", "urgently", "asap", "immediately", "now", "emergency", "critical", "outage")

var mediumUrgencyWords = wordSet("soon", "important", "need", "needs", "quickly", "today", "blocked", "help")

// ScoreSentiment produces a sentiment score in [-1, 1] from lexical cues:
// sentiment words, negation within the two preceding tokens, intensifiers,
// and exclamation emphasis.
func ScoreSentiment(text string) float64 {
	tokens := tokenize(text)
	var raw float64
	for i, tok := range tokens {
		var unit float64
		if _, ok := positiveWords[tok]; ok {
			unit = 1
		} else if _, ok := negativeWords[tok]; ok {
			unit = -1
		} else {
			continue
		}
		for j := max(0, i-2); j < i; j++ {
			if _, ok := negationWords[tokens[j]]; ok {
				unit = -unit
				break
			}
		}
		if i > 0 {
			if _, ok := intensifierWords[tokens[i-1]]; ok {
				unit *= 1.5
			}
		}
		raw += unit
	}

	score := raw * 0.4
	if bangs := strings.Count(text, "!"); bangs > 0 {
		emphasis := 0.1 * float64(min(bangs, 3))
		switch {
		case score > 0:
			score += emphasis
		case score < 0:
			score -= emphasis
		}
	}
	return clamp(score, -1, 1)
}

// ScoreUrgency maps lexical urgency cues to a discrete level. Repeated
// exclamation bumps the level by one.
func ScoreUrgency(text string) Urgency {
	tokens := tokenize(text)
	level := UrgencyLow
	for _, tok := range tokens {
		if _, ok := highUrgencyWords[tok]; ok {
			return UrgencyHigh
		}
		if _, ok := mediumUrgencyWords[tok]; ok {
			level = UrgencyMedium
		}
	}
	if strings.Count(text, "!") >= 2 {
		if level == UrgencyMedium {
			return UrgencyHigh
		}
		return UrgencyMedium
	}
	return level
}

// urgencyValue maps a level onto [0,1] for trend smoothing.
func urgencyValue(u Urgency) float64 {
	switch u {
	case UrgencyHigh:
		return 1
	case UrgencyMedium:
		return 0.5
	default:
		return 0
	}
}

// smooth blends a new reading into the prior trend; alpha is the weight of
// the new reading.
func smooth(prior, reading, alpha float64) float64 {
	return alpha*reading + (1-alpha)*prior
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch r {
		case '\'', '-', '/':
			return false
		}
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
