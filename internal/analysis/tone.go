package analysis

// Tone is the recommended response tone.
type Tone string

const (
	ToneNeutral    Tone = "neutral"
	ToneEmpathetic Tone = "empathetic"
	ToneConcise    Tone = "concise"
	TonePlayful    Tone = "playful"
)

// ParseTone validates a stored preference string.
func ParseTone(s string) (Tone, bool) {
	switch Tone(s) {
	case ToneNeutral, ToneEmpathetic, ToneConcise, TonePlayful:
		return Tone(s), true
	default:
		return "", false
	}
}

// RecommendTone picks a response tone from the current urgency, the smoothed
// sentiment trend, and the user's declared preference. Pure and
// deterministic: urgency overrides everything, a negative trend calls for
// empathy, then the user preference, then a clearly positive trend.
func RecommendTone(urgency Urgency, sentimentTrend float64, preferred Tone) Tone {
	if urgency == UrgencyHigh {
		return ToneConcise
	}
	if sentimentTrend <= -0.25 {
		return ToneEmpathetic
	}
	if preferred != "" && preferred != ToneNeutral {
		return preferred
	}
	if sentimentTrend >= 0.5 {
		return TonePlayful
	}
	return ToneNeutral
}
