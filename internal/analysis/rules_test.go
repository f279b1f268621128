package analysis

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRulesClassification(t *testing.T) {
	table := DefaultRules()
	cases := []struct {
		text string
		want Intent
	}{
		{"can you check the weather in Rome?", IntentResearch},
		{"look up that arxiv paper for me", IntentResearch},
		{"/deploy production", IntentCommand},
		{"restart the api server", IntentCommand},
		{"update: still working on the migration", IntentStatus},
		{"how do I reset my password?", IntentQuestion},
		{"hi there", IntentSocial},
		{"zzz qqq", IntentUnknown},
		{"", IntentUnknown},
	}
	for _, tc := range cases {
		if got := table.Match(tc.text); got != tc.want {
			t.Fatalf("Match(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestRulePriorityWins(t *testing.T) {
	table := DefaultRules()
	// Matches both the question keywords and the research pattern; the higher
	// priority research rule must win.
	if got := table.Match("can you check the weather?"); got != IntentResearch {
		t.Fatalf("Match() = %q, want %q", got, IntentResearch)
	}
}

func TestNewRuleTableRejectsBadPattern(t *testing.T) {
	_, err := NewRuleTable([]Rule{{Label: IntentCommand, Patterns: []string{"[unclosed"}}})
	if err == nil {
		t.Fatalf("NewRuleTable() error = nil, want compile error")
	}
}

func TestLoadRulesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `rules:
  - label: command
    priority: 50
    keywords: ["reboot"]
  - label: social
    priority: 5
    keywords: ["ciao"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	table, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}
	if got := table.Match("please reboot the box"); got != IntentCommand {
		t.Fatalf("Match() = %q, want %q", got, IntentCommand)
	}
	if got := table.Match("ciao!"); got != IntentSocial {
		t.Fatalf("Match() = %q, want %q", got, IntentSocial)
	}
}

func TestLoadRulesRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatalf("LoadRules() error = nil, want empty-rules error")
	}
}
