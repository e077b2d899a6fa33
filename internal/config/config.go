package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Config is the top-level configuration document.
type Config struct {
	StateDir   string        `yaml:"stateDir"`
	SocketPath string        `yaml:"socketPath"`
	WMSocket   string        `yaml:"wmSocket"`
	AllowUIDs  []uint32      `yaml:"allowUids"`
	Backoff    BackoffConfig `yaml:"backoff"`
	Buffer     BufferConfig  `yaml:"buffer"`
	Validation TimerConfig   `yaml:"validate"`
	Restore    RestoreConfig `yaml:"restore"`
	Projects   []Project     `yaml:"projects"`
	Rules      []RuleConfig  `yaml:"rules"`
}

// Project describes a named workspace context that windows classify into.
type Project struct {
	Name     string   `yaml:"name"`
	Dir      string   `yaml:"dir"`
	Classes  []string `yaml:"classes"`
	AutoSave bool     `yaml:"autoSave"`
}

// RuleConfig is one ordered classification rule. The first matching rule
// wins; lower priority values are evaluated first.
type RuleConfig struct {
	Class    string `yaml:"class"`
	Instance string `yaml:"instance"`
	Title    string `yaml:"title"`
	Match    string `yaml:"match"`
	Project  string `yaml:"project"`
	Priority int    `yaml:"priority"`
}

// BackoffConfig tunes the window manager reconnect loop.
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Cap  time.Duration `yaml:"cap"`
}

// BufferConfig bounds the persisted event buffer.
type BufferConfig struct {
	Capacity int           `yaml:"capacity"`
	MaxAge   time.Duration `yaml:"maxAge"`
	Persist  time.Duration `yaml:"persist"`
}

// TimerConfig configures a periodic maintenance task.
type TimerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RestoreConfig tunes layout restore correlation.
type RestoreConfig struct {
	CorrelationTimeout time.Duration `yaml:"correlationTimeout"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with defaults applied and no projects,
// used when no config file exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = defaultStateDir()
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = time.Second
	}
	if c.Backoff.Cap <= 0 {
		c.Backoff.Cap = 30 * time.Second
	}
	if c.Buffer.Capacity <= 0 {
		c.Buffer.Capacity = 1000
	}
	if c.Buffer.Persist <= 0 {
		c.Buffer.Persist = time.Minute
	}
	if c.Validation.Interval <= 0 {
		c.Validation.Interval = 5 * time.Minute
	}
	if c.Restore.CorrelationTimeout <= 0 {
		c.Restore.CorrelationTimeout = 5 * time.Second
	}
	for i := range c.Rules {
		if c.Rules[i].Match == "" {
			c.Rules[i].Match = "exact"
		}
	}
}

// Validate performs basic sanity checks.
func (c *Config) Validate() error {
	if c.Buffer.MaxAge < 0 {
		return fmt.Errorf("buffer.maxAge cannot be negative")
	}
	names := map[string]struct{}{}
	for _, p := range c.Projects {
		if !slugPattern.MatchString(p.Name) {
			return fmt.Errorf("project name %q must be a lowercase slug", p.Name)
		}
		if _, exists := names[p.Name]; exists {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		names[p.Name] = struct{}{}
	}
	for i, r := range c.Rules {
		if r.Class == "" && r.Instance == "" && r.Title == "" {
			return fmt.Errorf("rule %d must define class, instance, or title", i)
		}
		switch r.Match {
		case "exact", "glob", "regex":
		default:
			return fmt.Errorf("rule %d has unknown match kind %q", i, r.Match)
		}
		if r.Project == "" {
			return fmt.Errorf("rule %d must name a target project", i)
		}
		if r.Project == "global" {
			continue
		}
		if _, exists := names[r.Project]; !exists {
			return fmt.Errorf("rule %d references unknown project %q", i, r.Project)
		}
	}
	return nil
}

// ProjectByName returns the named project, or nil.
func (c *Config) ProjectByName(name string) *Project {
	for i := range c.Projects {
		if c.Projects[i].Name == name {
			return &c.Projects[i]
		}
	}
	return nil
}

// DefaultConfigPath returns the expected location of the config file.
func DefaultConfigPath() string {
	if env := os.Getenv("SWAYSCOPE_CONFIG"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "swayscope", "config.yaml")
}

func defaultStateDir() string {
	if env := os.Getenv("XDG_STATE_HOME"); env != "" {
		return filepath.Join(env, "swayscope")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "swayscope")
}
