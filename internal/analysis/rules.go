package analysis

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Intent is the closed set of message intent categories.
type Intent string

const (
	IntentQuestion Intent = "question"
	IntentCommand  Intent = "command"
	IntentSocial   Intent = "social"
	IntentResearch Intent = "research-request"
	IntentStatus   Intent = "status-update"
	IntentUnknown  Intent = "unknown"
)

// Rule maps keywords and glob patterns to an intent label. Higher priority
// means more specific; the highest matching priority wins, declaration order
// breaks ties.
type Rule struct {
	Label    Intent   `yaml:"label"`
	Priority int      `yaml:"priority"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`

	globs []glob.Glob
}

// RuleTable is an ordered intent rule set, data-driven so deployments can
// extend classification without code changes.
type RuleTable struct {
	rules []Rule
}

func NewRuleTable(rules []Rule) (*RuleTable, error) {
	compiled := make([]Rule, len(rules))
	copy(compiled, rules)
	for i := range compiled {
		compiled[i].globs = make([]glob.Glob, 0, len(compiled[i].Patterns))
		for _, p := range compiled[i].Patterns {
			g, err := glob.Compile(strings.ToLower(p))
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q for %s: %w", p, compiled[i].Label, err)
			}
			compiled[i].globs = append(compiled[i].globs, g)
		}
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return &RuleTable{rules: compiled}, nil
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rule table from a YAML file.
func LoadRules(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no rules", path)
	}
	return NewRuleTable(f.Rules)
}

// DefaultRules is the built-in intent table used when no rules file is
// configured.
func DefaultRules() *RuleTable {
	t, err := NewRuleTable([]Rule{
		{
			Label:    IntentResearch,
			Priority: 40,
			Keywords: []string{"weather", "forecast", "look up", "search for", "arxiv", "paper on", "find out"},
			Patterns: []string{"can you check *", "what does * say about *"},
		},
		{
			Label:    IntentCommand,
			Priority: 35,
			Keywords: []string{"deploy", "restart", "run the", "execute", "shut down"},
			Patterns: []string{"/*"},
		},
		{
			Label:    IntentStatus,
			Priority: 25,
			Keywords: []string{"done with", "finished", "completed", "still working", "in progress", "fyi"},
			Patterns: []string{"update:*", "status:*"},
		},
		{
			Label:    IntentQuestion,
			Priority: 20,
			Keywords: []string{"?", "how do", "how can", "what is", "what's", "why", "when", "where", "could you", "can you"},
		},
		{
			Label:    IntentSocial,
			Priority: 10,
			Keywords: []string{"hi", "hello", "hey", "thanks", "thank you", "bye", "good morning", "good night"},
		},
	})
	if err != nil {
		// Built-in patterns are static; a compile failure is a programming error.
		panic(err)
	}
	return t
}

// Match classifies the text, returning IntentUnknown when no rule applies.
func (t *RuleTable) Match(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return IntentUnknown
	}
	for _, r := range t.rules {
		if r.matches(lower) {
			return r.Label
		}
	}
	return IntentUnknown
}

func (r Rule) matches(lower string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	for _, g := range r.globs {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

// Len reports how many rules the table holds.
func (t *RuleTable) Len() int { return len(t.rules) }
