package config

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	providers    = []string{"openai", "mock"}
	imageSources = []string{"pollinations", "placeholder"}
	encoders     = []string{"ffmpeg", "manifest"}
	aspectRatios = []string{"16:9", "9:16", "1:1", "4:5", "3:2", "2:3"}
)

// Validate checks a Config for structural and semantic errors. It returns
// every error found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !slices.Contains(providers, cfg.Model.Provider) {
		add("model.provider", "must be one of %v, got %q", providers, cfg.Model.Provider)
	}
	if cfg.Model.Provider == "openai" && cfg.Model.Name == "" {
		add("model.name", "is required for provider openai")
	}
	if t := cfg.Model.Temperature; t < 0 || t > 2 {
		add("model.temperature", "must be between 0 and 2, got %g", t)
	}

	if cfg.Retry.MaxAttempts < 1 {
		add("retry.max_attempts", "must be at least 1")
	}
	base, baseErr := time.ParseDuration(cfg.Retry.BaseDelay)
	if baseErr != nil {
		add("retry.base_delay", "invalid duration %q", cfg.Retry.BaseDelay)
	}
	maxDelay, maxErr := time.ParseDuration(cfg.Retry.MaxDelay)
	if maxErr != nil {
		add("retry.max_delay", "invalid duration %q", cfg.Retry.MaxDelay)
	}
	if baseErr == nil && maxErr == nil && base > maxDelay {
		add("retry.base_delay", "must not exceed max_delay")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		add("rate_limit.requests_per_second", "must not be negative")
	}

	c := cfg.Content
	if c.MinScenes < 3 || c.MaxScenes > 10 || c.MinScenes > c.MaxScenes {
		add("content", "scene range must lie within 3..10 with min_scenes <= max_scenes, got %d..%d", c.MinScenes, c.MaxScenes)
	}
	if !slices.Contains(aspectRatios, c.AspectRatio) {
		add("content.aspect_ratio", "must be one of %v, got %q", aspectRatios, c.AspectRatio)
	}

	validateStage("defaults", cfg.Defaults.Timeout, cfg.Defaults.Workers, cfg.Defaults.MaxRevisions, &errs)
	names := make([]string, 0, len(cfg.Stages))
	for name := range cfg.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := cfg.Stages[name]
		prefix := "stages." + name
		if !slices.Contains(pipeline.StageNames, name) {
			add(prefix, "unknown stage (known: %v)", pipeline.StageNames)
			continue
		}
		validateStage(prefix, s.Timeout, s.Workers, s.MaxRevisions, &errs)
		if s.Required != nil && !*s.Required && (name == pipeline.StageScript || name == pipeline.StageScenes) {
			add(prefix+".required", "the %s stage cannot be optional", name)
		}
	}

	if s := cfg.Voice.Speed; s < 0.5 || s > 2 {
		add("voice.speed", "must be between 0.5 and 2, got %g", s)
	}
	if !slices.Contains(imageSources, cfg.Images.Provider) {
		add("images.provider", "must be one of %v, got %q", imageSources, cfg.Images.Provider)
	}
	if _, err := time.ParseDuration(cfg.Images.Timeout); err != nil {
		add("images.timeout", "invalid duration %q", cfg.Images.Timeout)
	}
	if !slices.Contains(encoders, cfg.Video.Encoder) {
		add("video.encoder", "must be one of %v, got %q", encoders, cfg.Video.Encoder)
	}
	if cfg.Video.FPS < 1 || cfg.Video.FPS > 120 {
		add("video.fps", "must be between 1 and 120, got %d", cfg.Video.FPS)
	}

	return errs
}

func validateStage(prefix, timeout string, workers int, maxRevisions *int, errs *[]ValidationError) {
	if timeout != "" {
		if d, err := time.ParseDuration(timeout); err != nil || d < 0 {
			*errs = append(*errs, ValidationError{Field: prefix + ".timeout", Message: fmt.Sprintf("invalid duration %q", timeout)})
		}
	}
	if workers < 0 || workers > 64 {
		*errs = append(*errs, ValidationError{Field: prefix + ".workers", Message: fmt.Sprintf("must be between 0 and 64, got %d", workers)})
	}
	if maxRevisions != nil && (*maxRevisions < 0 || *maxRevisions > 5) {
		*errs = append(*errs, ValidationError{Field: prefix + ".max_revisions", Message: fmt.Sprintf("must be between 0 and 5, got %d", *maxRevisions)})
	}
}
