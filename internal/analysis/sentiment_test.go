package analysis

import (
	"math"
	"testing"
)

func TestScoreSentimentLexicalCues(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"this is great", 0.4},
		{"not good", -0.4},
		{"the build is broken", -0.4},
		{"really broken!", -0.7},
		{"okay", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := ScoreSentiment(tc.text); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ScoreSentiment(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestScoreSentimentClamps(t *testing.T) {
	if got := ScoreSentiment("great great great great"); got != 1 {
		t.Fatalf("ScoreSentiment() = %v, want clamped 1", got)
	}
	if got := ScoreSentiment("terrible horrible broken crash"); got != -1 {
		t.Fatalf("ScoreSentiment() = %v, want clamped -1", got)
	}
}

func TestScoreSentimentNegationWindow(t *testing.T) {
	// Negation flips only within the two preceding tokens.
	if got := ScoreSentiment("not so good"); got >= 0 {
		t.Fatalf("ScoreSentiment(not so good) = %v, want negative", got)
	}
	if got := ScoreSentiment("no one knows if this is good"); got <= 0 {
		t.Fatalf("ScoreSentiment() = %v, want positive (negation out of range)", got)
	}
}

func TestScoreUrgencyLevels(t *testing.T) {
	cases := []struct {
		text string
		want Urgency
	}{
		{"urgent: the api is down", UrgencyHigh},
		{"we have an outage", UrgencyHigh},
		{"need this today", UrgencyMedium},
		{"hello there", UrgencyLow},
		{"do it!!", UrgencyMedium},
		{"need this soon!!", UrgencyHigh},
		{"", UrgencyLow},
	}
	for _, tc := range cases {
		if got := ScoreUrgency(tc.text); got != tc.want {
			t.Fatalf("ScoreUrgency(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestSmooth(t *testing.T) {
	if got := smooth(0, 1, 0.3); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("smooth(0,1,0.3) = %v, want 0.3", got)
	}
	if got := smooth(0.5, 0.5, 0.3); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("smooth fixed point = %v, want 0.5", got)
	}
}

func TestUrgencyValueMapping(t *testing.T) {
	if urgencyValue(UrgencyLow) != 0 || urgencyValue(UrgencyMedium) != 0.5 || urgencyValue(UrgencyHigh) != 1 {
		t.Fatalf("urgencyValue mapping broken")
	}
}
