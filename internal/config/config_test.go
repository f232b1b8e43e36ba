package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
sessions_dir: /tmp/reels
model:
  provider: openai
  name: gpt-4o
  temperature: 0.4
retry:
  max_attempts: 4
  base_delay: 500ms
  max_delay: 10s
rate_limit:
  requests_per_second: 2
content:
  audience: teenagers
  style: playful
  min_scenes: 4
  max_scenes: 6
  aspect_ratio: "16:9"
defaults:
  timeout: 90s
  workers: 3
stages:
  scenes:
    workers: 6
    max_revisions: 2
  voice:
    timeout: 30s
  assembly:
    timeout: 10m
voice:
  command: edge-tts
  voice: en-GB-RyanNeural
  speed: 1.2
images:
  provider: placeholder
video:
  encoder: manifest
  fps: 24
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "reelfactory.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.SessionsDir != "/tmp/reels" {
		t.Errorf("SessionsDir = %q", cfg.SessionsDir)
	}
	if cfg.Model.Name != "gpt-4o" {
		t.Errorf("Model.Name = %q, want gpt-4o", cfg.Model.Name)
	}
	if cfg.Content.MinScenes != 4 || cfg.Content.MaxScenes != 6 {
		t.Errorf("scene range = %d..%d, want 4..6", cfg.Content.MinScenes, cfg.Content.MaxScenes)
	}
	if cfg.Voice.Voice != "en-GB-RyanNeural" {
		t.Errorf("Voice.Voice = %q", cfg.Voice.Voice)
	}
	if cfg.Video.FPS != 24 {
		t.Errorf("Video.FPS = %d, want 24", cfg.Video.FPS)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for valid config:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeTestConfig(t, "model: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := writeTestConfig(t, "content:\n  audience: kids\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Model.Provider != "openai" || cfg.Model.Name != "gpt-4o-mini" {
		t.Errorf("model = %+v, want openai/gpt-4o-mini", cfg.Model)
	}
	if cfg.Model.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("APIKeyEnv = %q", cfg.Model.APIKeyEnv)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != "1s" || cfg.Retry.MaxDelay != "30s" {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Content.Audience != "kids" {
		t.Errorf("explicit audience overridden: %q", cfg.Content.Audience)
	}
	if cfg.Content.MinScenes != 3 || cfg.Content.MaxScenes != 8 {
		t.Errorf("scene range = %d..%d, want 3..8", cfg.Content.MinScenes, cfg.Content.MaxScenes)
	}
	if cfg.Content.AspectRatio != "9:16" {
		t.Errorf("AspectRatio = %q", cfg.Content.AspectRatio)
	}
	if cfg.Images.Provider != "pollinations" || cfg.Video.Encoder != "ffmpeg" {
		t.Errorf("images/video = %q/%q", cfg.Images.Provider, cfg.Video.Encoder)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("defaults should validate, got %v", errs)
	}
}

func TestDefaultValidates(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("Validate(Default()) = %v", errs)
	}
}

func TestRateLimitBurstDefault(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RateLimit.Burst != 1 {
		t.Errorf("Burst = %d, want 1", cfg.RateLimit.Burst)
	}
	if Default().RateLimit.Burst != 0 {
		t.Error("burst should stay zero when rate limiting is off")
	}
}

func TestStageSettings(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	tests := []struct {
		stage string
		want  StageSettings
	}{
		{"script", StageSettings{Timeout: 90 * time.Second, Workers: 3, MaxRevisions: 1, Required: true}},
		{"scenes", StageSettings{Timeout: 90 * time.Second, Workers: 6, MaxRevisions: 2, Required: true}},
		{"images", StageSettings{Timeout: 90 * time.Second, Workers: 3, MaxRevisions: 1, Required: true}},
		{"voice", StageSettings{Timeout: 30 * time.Second, Workers: 3, MaxRevisions: 1, Required: false}},
		{"assembly", StageSettings{Timeout: 10 * time.Minute, Workers: 3, MaxRevisions: 1, Required: true}},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			if got := cfg.StageSettings(tt.stage); got != tt.want {
				t.Errorf("StageSettings(%q) = %+v, want %+v", tt.stage, got, tt.want)
			}
		})
	}
}

func TestStageSettingsZeroRevisions(t *testing.T) {
	path := writeTestConfig(t, "defaults:\n  max_revisions: 0\nstages:\n  voice:\n    required: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	s := cfg.StageSettings("voice")
	if s.MaxRevisions != 0 {
		t.Errorf("MaxRevisions = %d, want 0 (explicit)", s.MaxRevisions)
	}
	if !s.Required {
		t.Error("voice should be required when configured so")
	}
}

func TestRetryPolicy(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	p, err := cfg.RetryPolicy()
	if err != nil {
		t.Fatalf("RetryPolicy() error: %v", err)
	}
	if p.MaxAttempts != 4 || p.BaseDelay != 500*time.Millisecond || p.MaxDelay != 10*time.Second {
		t.Errorf("policy = %+v", p)
	}

	cfg.Retry.MaxDelay = "soon"
	if _, err := cfg.RetryPolicy(); err == nil {
		t.Error("expected error for bad max_delay")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown provider", "model:\n  provider: claude\n", "model.provider"},
		{"temperature", "model:\n  temperature: 3\n", "model.temperature"},
		{"bad base delay", "retry:\n  base_delay: fast\n", "retry.base_delay"},
		{"base over max", "retry:\n  base_delay: 1m\n  max_delay: 1s\n", "retry.base_delay"},
		{"negative rate", "rate_limit:\n  requests_per_second: -1\n", "rate_limit.requests_per_second"},
		{"too few scenes", "content:\n  min_scenes: 2\n", "content"},
		{"too many scenes", "content:\n  max_scenes: 12\n", "content"},
		{"inverted range", "content:\n  min_scenes: 7\n  max_scenes: 5\n", "content"},
		{"aspect ratio", "content:\n  aspect_ratio: \"21:9\"\n", "content.aspect_ratio"},
		{"unknown stage", "stages:\n  music: {}\n", "stages.music"},
		{"bad stage timeout", "stages:\n  images:\n    timeout: later\n", "stages.images.timeout"},
		{"too many workers", "defaults:\n  workers: 100\n", "defaults.workers"},
		{"revisions", "stages:\n  scenes:\n    max_revisions: 9\n", "stages.scenes.max_revisions"},
		{"optional script", "stages:\n  script:\n    required: false\n", "stages.script.required"},
		{"optional scenes", "stages:\n  scenes:\n    required: false\n", "stages.scenes.required"},
		{"voice speed", "voice:\n  speed: 3\n", "voice.speed"},
		{"image provider", "images:\n  provider: dalle\n", "images.provider"},
		{"image timeout", "images:\n  timeout: x\n", "images.timeout"},
		{"encoder", "video:\n  encoder: gstreamer\n", "video.encoder"},
		{"fps", "video:\n  fps: 500\n", "video.fps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTestConfig(t, tt.yaml))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			errs := Validate(cfg)
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidateOptionalVoiceAllowed(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, "stages:\n  voice:\n    required: false\n  images:\n    required: false\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v", errs)
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "video.fps", Message: "must be between 1 and 120, got 0"}
	if !strings.HasPrefix(e.Error(), "video.fps: ") {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("REELFACTORY_TEST_KEY=from-file\nREELFACTORY_TEST_SET=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REELFACTORY_TEST_SET", "from-env")
	t.Setenv("REELFACTORY_TEST_KEY", "")
	os.Unsetenv("REELFACTORY_TEST_KEY")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv() error: %v", err)
	}
	if got := os.Getenv("REELFACTORY_TEST_KEY"); got != "from-file" {
		t.Errorf("REELFACTORY_TEST_KEY = %q, want from-file", got)
	}
	if got := os.Getenv("REELFACTORY_TEST_SET"); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}

	if err := LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKeyEnv = "REELFACTORY_TEST_API_KEY"
	t.Setenv("REELFACTORY_TEST_API_KEY", "sk-test")
	if cfg.APIKey() != "sk-test" {
		t.Errorf("APIKey() = %q", cfg.APIKey())
	}
}

func TestEventsDSN(t *testing.T) {
	cfg := Default()
	cfg.SessionsDir = "/data/reels/sessions"
	if got := cfg.EventsDSN(); got != "/data/reels/events.db" {
		t.Errorf("EventsDSN() = %q", got)
	}
	cfg.EventsDB.DSN = "postgres://localhost/reels"
	if got := cfg.EventsDSN(); got != "postgres://localhost/reels" {
		t.Errorf("EventsDSN() = %q", got)
	}
}
