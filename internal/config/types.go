package config

// Config is the top-level structure parsed from reelfactory.yaml.
type Config struct {
	SessionsDir  string           `yaml:"sessions_dir"`
	TemplatesDir string           `yaml:"templates_dir"`
	Model        Model            `yaml:"model"`
	Retry        Retry            `yaml:"retry"`
	RateLimit    RateLimit        `yaml:"rate_limit"`
	Content      Content          `yaml:"content"`
	Defaults     StageDefaults    `yaml:"defaults"`
	Stages       map[string]Stage `yaml:"stages"`
	Voice        Voice            `yaml:"voice"`
	Images       Images           `yaml:"images"`
	Video        Video            `yaml:"video"`
	EventsDB     EventsDB         `yaml:"events_db"`
}

// Model selects the generation backend.
type Model struct {
	Provider    string  `yaml:"provider"` // "openai" or "mock"
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
}

// Retry configures backoff for retryable call failures.
type Retry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
}

// RateLimit caps calls across all items of a run. Zero disables it.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Content steers what the script stage asks for.
type Content struct {
	Audience    string `yaml:"audience"`
	Style       string `yaml:"style"`
	Language    string `yaml:"language"`
	Length      string `yaml:"length"`
	Character   string `yaml:"character"`
	MinScenes   int    `yaml:"min_scenes"`
	MaxScenes   int    `yaml:"max_scenes"`
	AspectRatio string `yaml:"aspect_ratio"`
}

// StageDefaults applies to stages without their own settings.
type StageDefaults struct {
	Timeout      string `yaml:"timeout"`
	Workers      int    `yaml:"workers"`
	MaxRevisions *int   `yaml:"max_revisions"`
}

// Stage overrides the defaults for one stage.
type Stage struct {
	Timeout      string `yaml:"timeout"`
	Workers      int    `yaml:"workers"`
	MaxRevisions *int   `yaml:"max_revisions"`
	// Required stages fail the run when no item succeeds.
	Required *bool `yaml:"required"`
}

// Voice configures speech synthesis.
type Voice struct {
	// Command is "edge-tts", a .py script or any binary taking --text and
	// --output. Empty uses $TTS_COMMAND, then edge-tts if installed, then
	// silent audio.
	Command string  `yaml:"command"`
	Voice   string  `yaml:"voice"`
	Speed   float64 `yaml:"speed"`
}

// Images configures frame rendering.
type Images struct {
	Provider string `yaml:"provider"` // "pollinations" or "placeholder"
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// Video configures final assembly.
type Video struct {
	Encoder string `yaml:"encoder"` // "ffmpeg" or "manifest"
	FPS     int    `yaml:"fps"`
}

// EventsDB locates the run event log. A postgres:// DSN selects Postgres;
// anything else is a SQLite path. Empty uses the default SQLite file.
type EventsDB struct {
	DSN      string `yaml:"dsn"`
	Disabled bool   `yaml:"disabled"`
}
