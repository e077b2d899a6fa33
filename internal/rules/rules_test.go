package rules

import (
	"testing"

	"github.com/swayscope/swayscope/internal/config"
)

func buildEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	eng, err := Build(cfg)
	if err != nil {
		t.Fatalf("build rules: %v", err)
	}
	return eng
}

func TestClassifyFirstMatchWinsByPriority(t *testing.T) {
	eng := buildEngine(t, &config.Config{
		Projects: []config.Project{{Name: "dev"}},
		Rules: []config.RuleConfig{
			{Class: "Ghostty", Match: "exact", Project: "dev", Priority: 1},
			{Class: ".*", Match: "regex", Project: "global", Priority: 99},
		},
	})
	if got := eng.Classify(Subject{Class: "Ghostty"}); got != "dev" {
		t.Fatalf("Ghostty classified as %q, want dev", got)
	}
	if got := eng.Classify(Subject{Class: "Firefox"}); got != Global {
		t.Fatalf("Firefox classified as %q, want global", got)
	}
}

func TestClassifyTieBrokenByDeclarationOrder(t *testing.T) {
	eng := buildEngine(t, &config.Config{
		Projects: []config.Project{{Name: "first"}, {Name: "second"}},
		Rules: []config.RuleConfig{
			{Class: "Code", Match: "exact", Project: "first", Priority: 5},
			{Class: "Code", Match: "exact", Project: "second", Priority: 5},
		},
	})
	if got := eng.Classify(Subject{Class: "Code"}); got != "first" {
		t.Fatalf("classified as %q, want first (earliest declaration)", got)
	}
}

func TestClassifyGlobMatching(t *testing.T) {
	eng := buildEngine(t, &config.Config{
		Projects: []config.Project{{Name: "term"}},
		Rules: []config.RuleConfig{
			{Class: "org.*", Match: "glob", Project: "term", Priority: 1},
		},
	})
	if got := eng.Classify(Subject{Class: "org.kde.konsole"}); got != "term" {
		t.Fatalf("classified as %q, want term", got)
	}
	if got := eng.Classify(Subject{Class: "konsole"}); got != Global {
		t.Fatalf("classified as %q, want global", got)
	}
}

func TestClassifyTitleAndInstance(t *testing.T) {
	eng := buildEngine(t, &config.Config{
		Projects: []config.Project{{Name: "mail"}},
		Rules: []config.RuleConfig{
			{Class: "Firefox", Title: `.*Gmail.*`, Match: "regex", Project: "mail", Priority: 1},
		},
	})
	if got := eng.Classify(Subject{Class: "Firefox", Title: "Inbox - Gmail"}); got != "mail" {
		t.Fatalf("classified as %q, want mail", got)
	}
	if got := eng.Classify(Subject{Class: "Firefox", Title: "news"}); got != Global {
		t.Fatalf("classified as %q, want global", got)
	}
}

func TestProjectClassListsActAsFallbackRules(t *testing.T) {
	eng := buildEngine(t, &config.Config{
		Projects: []config.Project{{Name: "dev", Classes: []string{"Emacs"}}},
		Rules: []config.RuleConfig{
			{Class: "Emacs", Match: "exact", Project: "global", Priority: 1},
		},
	})
	// The explicit rule outranks the implicit project class list.
	if got := eng.Classify(Subject{Class: "Emacs"}); got != Global {
		t.Fatalf("classified as %q, want global", got)
	}

	eng = buildEngine(t, &config.Config{
		Projects: []config.Project{{Name: "dev", Classes: []string{"Emacs"}}},
	})
	if got := eng.Classify(Subject{Class: "Emacs"}); got != "dev" {
		t.Fatalf("classified as %q, want dev", got)
	}
}

func TestBuildRejectsBadRegex(t *testing.T) {
	_, err := Build(&config.Config{
		Rules: []config.RuleConfig{{Class: "(", Match: "regex", Project: "global"}},
	})
	if err == nil {
		t.Fatal("expected regex compile error")
	}
}
