package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// FileName is the project-level config file searched by LoadDefault.
const FileName = "reelfactory.yaml"

// Load reads and parses a configuration from the given YAML file path and
// applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault loads the first config found in ./reelfactory.yaml or
// ~/.reelfactory/config.yaml. Without either it returns the defaults and an
// empty path.
func LoadDefault() (*Config, string, error) {
	candidates := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".reelfactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadEnv loads variables from the given .env files (".env" when none are
// named) without overriding variables already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.SessionsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.SessionsDir = filepath.Join(home, ".reelfactory", "sessions")
		}
	}

	m := &cfg.Model
	if m.Provider == "" {
		m.Provider = "openai"
	}
	if m.Name == "" && m.Provider == "openai" {
		m.Name = "gpt-4o-mini"
	}
	if m.APIKeyEnv == "" {
		m.APIKeyEnv = "OPENAI_API_KEY"
	}
	if m.Temperature == 0 {
		m.Temperature = 0.7
	}

	r := &cfg.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = llm.DefaultRetryPolicy.MaxAttempts
	}
	if r.BaseDelay == "" {
		r.BaseDelay = llm.DefaultRetryPolicy.BaseDelay.String()
	}
	if r.MaxDelay == "" {
		r.MaxDelay = llm.DefaultRetryPolicy.MaxDelay.String()
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1
	}

	c := &cfg.Content
	if c.Audience == "" {
		c.Audience = "general audience"
	}
	if c.Style == "" {
		c.Style = "educational, friendly"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.Length == "" {
		c.Length = "short (60-90 seconds)"
	}
	if c.MinScenes == 0 {
		c.MinScenes = 3
	}
	if c.MaxScenes == 0 {
		c.MaxScenes = 8
	}
	if c.AspectRatio == "" {
		c.AspectRatio = "9:16"
	}

	d := &cfg.Defaults
	if d.Timeout == "" {
		d.Timeout = "2m"
	}
	if d.Workers == 0 {
		d.Workers = 4
	}
	if d.MaxRevisions == nil {
		one := 1
		d.MaxRevisions = &one
	}

	if cfg.Voice.Speed == 0 {
		cfg.Voice.Speed = 1.0
	}
	if cfg.Images.Provider == "" {
		cfg.Images.Provider = "pollinations"
	}
	if cfg.Images.Timeout == "" {
		cfg.Images.Timeout = "90s"
	}
	if cfg.Video.Encoder == "" {
		cfg.Video.Encoder = "ffmpeg"
	}
	if cfg.Video.FPS == 0 {
		cfg.Video.FPS = 30
	}
}

// StageSettings are the resolved settings of one stage.
type StageSettings struct {
	Timeout      time.Duration
	Workers      int
	MaxRevisions int
	Required     bool
}

// StageSettings merges the stage's overrides over the defaults. Durations
// that do not parse resolve to zero; Validate reports them.
func (c *Config) StageSettings(name string) StageSettings {
	s := StageSettings{
		Workers:  c.Defaults.Workers,
		Required: name != pipeline.StageVoice,
	}
	s.Timeout, _ = time.ParseDuration(c.Defaults.Timeout)
	if c.Defaults.MaxRevisions != nil {
		s.MaxRevisions = *c.Defaults.MaxRevisions
	}

	o, ok := c.Stages[name]
	if !ok {
		return s
	}
	if o.Timeout != "" {
		s.Timeout, _ = time.ParseDuration(o.Timeout)
	}
	if o.Workers > 0 {
		s.Workers = o.Workers
	}
	if o.MaxRevisions != nil {
		s.MaxRevisions = *o.MaxRevisions
	}
	if o.Required != nil {
		s.Required = *o.Required
	}
	return s
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() (llm.RetryPolicy, error) {
	base, err := time.ParseDuration(c.Retry.BaseDelay)
	if err != nil {
		return llm.RetryPolicy{}, fmt.Errorf("retry.base_delay: %w", err)
	}
	maxDelay, err := time.ParseDuration(c.Retry.MaxDelay)
	if err != nil {
		return llm.RetryPolicy{}, fmt.Errorf("retry.max_delay: %w", err)
	}
	return llm.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts, BaseDelay: base, MaxDelay: maxDelay}, nil
}

// APIKey reads the model API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.Model.APIKeyEnv)
}

// EventsDSN returns the event log DSN, defaulting to a SQLite file beside
// the sessions directory.
func (c *Config) EventsDSN() string {
	if c.EventsDB.DSN != "" {
		return c.EventsDB.DSN
	}
	return filepath.Join(filepath.Dir(c.SessionsDir), "events.db")
}
