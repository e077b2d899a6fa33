package rules

import (
	"fmt"
	"path"
	"regexp"
	"sort"

	"github.com/swayscope/swayscope/internal/config"
)

// Global is the assignment for windows no rule claims; global windows stay
// visible across all projects.
const Global = "global"

// Subject is the window identity a rule matches against.
type Subject struct {
	Class    string
	Instance string
	Title    string
}

type matcher func(Subject) bool

type compiledRule struct {
	match    matcher
	project  string
	priority int
	order    int
}

// Engine evaluates classification rules in priority order, first match wins.
type Engine struct {
	rules []compiledRule
}

// Build compiles the configured rules into an engine. Rules are sorted by
// priority, ties broken by declaration order.
func Build(cfg *config.Config) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(cfg.Rules))
	for i, rc := range cfg.Rules {
		m, err := compileMatcher(rc)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		compiled = append(compiled, compiledRule{
			match:    m,
			project:  rc.Project,
			priority: rc.Priority,
			order:    i,
		})
	}
	// Project-scoped class lists act as implicit exact rules behind the
	// explicit ones.
	for _, p := range cfg.Projects {
		for _, class := range p.Classes {
			project := p.Name
			want := class
			compiled = append(compiled, compiledRule{
				match:    func(s Subject) bool { return s.Class == want },
				project:  project,
				priority: 1 << 16,
				order:    len(compiled),
			})
		}
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].priority != compiled[j].priority {
			return compiled[i].priority < compiled[j].priority
		}
		return compiled[i].order < compiled[j].order
	})
	return &Engine{rules: compiled}, nil
}

// Classify returns the project for the subject, or Global when no rule
// matches.
func (e *Engine) Classify(s Subject) string {
	for _, r := range e.rules {
		if r.match(s) {
			return r.project
		}
	}
	return Global
}

// Len reports the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

func compileMatcher(rc config.RuleConfig) (matcher, error) {
	switch rc.Match {
	case "exact":
		return func(s Subject) bool {
			return fieldMatch(rc.Class, s.Class, eq) &&
				fieldMatch(rc.Instance, s.Instance, eq) &&
				fieldMatch(rc.Title, s.Title, eq)
		}, nil
	case "glob":
		for _, pattern := range []string{rc.Class, rc.Instance, rc.Title} {
			if pattern == "" {
				continue
			}
			if _, err := path.Match(pattern, ""); err != nil {
				return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
			}
		}
		return func(s Subject) bool {
			return fieldMatch(rc.Class, s.Class, glob) &&
				fieldMatch(rc.Instance, s.Instance, glob) &&
				fieldMatch(rc.Title, s.Title, glob)
		}, nil
	case "regex":
		res := make(map[string]*regexp.Regexp, 3)
		for _, pattern := range []string{rc.Class, rc.Instance, rc.Title} {
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("bad regex %q: %w", pattern, err)
			}
			res[pattern] = re
		}
		return func(s Subject) bool {
			check := func(pattern, value string) bool {
				return res[pattern].MatchString(value)
			}
			return fieldMatch(rc.Class, s.Class, check) &&
				fieldMatch(rc.Instance, s.Instance, check) &&
				fieldMatch(rc.Title, s.Title, check)
		}, nil
	default:
		return nil, fmt.Errorf("unknown match kind %q", rc.Match)
	}
}

func fieldMatch(pattern, value string, f func(pattern, value string) bool) bool {
	if pattern == "" {
		return true
	}
	return f(pattern, value)
}

func eq(pattern, value string) bool { return pattern == value }

func glob(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
