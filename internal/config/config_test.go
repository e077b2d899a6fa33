package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
projects:
  - name: dev
    dir: /home/u/src/dev
rules:
  - class: Ghostty
    project: dev
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backoff.Base != time.Second || cfg.Backoff.Cap != 30*time.Second {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Backoff)
	}
	if cfg.Buffer.Capacity != 1000 {
		t.Fatalf("unexpected buffer capacity %d", cfg.Buffer.Capacity)
	}
	if cfg.Rules[0].Match != "exact" {
		t.Fatalf("expected default match kind exact, got %q", cfg.Rules[0].Match)
	}
	if cfg.Restore.CorrelationTimeout != 5*time.Second {
		t.Fatalf("unexpected correlation timeout %v", cfg.Restore.CorrelationTimeout)
	}
	if cfg.Validation.Interval != 5*time.Minute {
		t.Fatalf("unexpected validation interval %v", cfg.Validation.Interval)
	}
}

func TestValidationIntervalKeyParses(t *testing.T) {
	path := writeConfig(t, `
validate:
  interval: 90s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Validation.Interval != 90*time.Second {
		t.Fatalf("unexpected validation interval %v", cfg.Validation.Interval)
	}
}

func TestValidateRejectsDuplicateProjects(t *testing.T) {
	path := writeConfig(t, `
projects:
  - name: dev
  - name: dev
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected duplicate project error")
	}
}

func TestValidateRejectsBadSlug(t *testing.T) {
	path := writeConfig(t, `
projects:
  - name: "Not A Slug"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected slug error")
	}
}

func TestValidateRejectsUnknownRuleTarget(t *testing.T) {
	path := writeConfig(t, `
rules:
  - class: Firefox
    project: nosuch
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown project error")
	}
}

func TestValidateAllowsGlobalTarget(t *testing.T) {
	path := writeConfig(t, `
rules:
  - class: ".*"
    match: regex
    project: global
    priority: 99
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestValidateRejectsEmptyRule(t *testing.T) {
	path := writeConfig(t, `
rules:
  - project: global
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected empty rule error")
	}
}
