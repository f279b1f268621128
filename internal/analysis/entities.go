package analysis

import (
	"regexp"
	"sort"
	"strings"
)

var (
	nameRe    = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	commandRe = regexp.MustCompile(`/[a-zA-Z][\w-]*`)
)

// knownTerms is the dictionary of technology and tool-domain terms the bot
// recognizes as entities.
var knownTerms = wordSet(
	"go", "golang", "python", "javascript", "typescript", "react", "rust",
	"slack", "redis", "postgres", "postgresql", "sqlite", "docker",
	"kubernetes", "api", "bot", "server", "database", "deploy", "grafana",
	"prometheus", "github", "repo", "repository", "weather", "forecast",
	"arxiv", "paper",
)

// capitalized words that are almost never person names.
var nameStopwords = wordSet(
	"i", "the", "a", "an", "ok", "okay", "hi", "hello", "hey", "thanks",
	"can", "could", "what", "when", "where", "why", "how", "is", "it",
	"please", "monday", "tuesday", "wednesday", "thursday", "friday",
	"saturday", "sunday",
)

// ExtractEntities pulls person names, known technology/tool terms, and
// slash-command tokens from the text. The result is a set deduplicated by
// normalized (lowercased) form, sorted for determinism.
func ExtractEntities(text string) []string {
	set := make(map[string]struct{})

	for _, name := range nameRe.FindAllString(text, -1) {
		norm := strings.ToLower(name)
		if _, skip := nameStopwords[norm]; skip {
			continue
		}
		set[norm] = struct{}{}
	}
	for _, tok := range tokenize(text) {
		if _, ok := knownTerms[tok]; ok {
			set[tok] = struct{}{}
		}
	}
	for _, cmd := range commandRe.FindAllString(text, -1) {
		set[strings.ToLower(cmd)] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// topicKeywords drives the rolling topic label on the active context.
var topicKeywords = map[string][]string{
	"technical": {"error", "bug", "code", "deploy", "server", "api", "crash", "build", "test"},
	"planning":  {"project", "task", "plan", "schedule", "deadline", "calendar", "todo"},
	"support":   {"help", "how", "problem", "issue", "stuck", "question"},
	"research":  {"weather", "paper", "arxiv", "search", "look up", "find out"},
	"social":    {"hi", "hello", "hey", "thanks", "thank you", "bye"},
}

// DetectTopic returns the topic whose keywords best match the text, or
// "general" when nothing matches. Ties resolve alphabetically so the label
// is deterministic.
func DetectTopic(text string) string {
	lower := strings.ToLower(text)
	best, bestCount := "general", 0

	topics := make([]string, 0, len(topicKeywords))
	for t := range topicKeywords {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	for _, topic := range topics {
		count := 0
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = topic, count
		}
	}
	return best
}
