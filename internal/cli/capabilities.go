package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/lucasnoah/reelfactory/internal/config"
	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/media"
	"github.com/lucasnoah/reelfactory/internal/orchestrator"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

type capOpts struct {
	DryRun bool
	Topic  string
	// Scenes sizes the scripted model's script; 0 uses content.min_scenes.
	Scenes int
}

// buildCapabilities picks the model and media backends for a run. A dry
// run needs no network, API key or external tools.
func buildCapabilities(cfg *config.Config, opts capOpts, logger *slog.Logger) (orchestrator.Capabilities, error) {
	var caps orchestrator.Capabilities

	switch {
	case opts.DryRun || cfg.Model.Provider == "mock":
		n := opts.Scenes
		if n == 0 {
			n = cfg.Content.MinScenes
		}
		caps.Model = llm.NewScripted(opts.Topic, n)
	default:
		key := cfg.APIKey()
		if key == "" {
			return caps, fmt.Errorf("%s is not set (use --dry-run for an offline run)", cfg.Model.APIKeyEnv)
		}
		caps.Model = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:      key,
			BaseURL:     cfg.Model.BaseURL,
			Model:       cfg.Model.Name,
			Temperature: cfg.Model.Temperature,
		})
	}

	if opts.DryRun || cfg.Images.Provider == "placeholder" {
		caps.Images = media.PlaceholderRenderer{}
		caps.ImageExt = ".png"
	} else {
		timeout, err := time.ParseDuration(cfg.Images.Timeout)
		if err != nil {
			return caps, fmt.Errorf("images.timeout: %w", err)
		}
		caps.Images = media.NewHTTPRenderer(cfg.Images.BaseURL, cfg.Images.Model, &http.Client{Timeout: timeout})
		caps.ImageExt = ".jpg"
	}

	if command := ttsCommand(cfg, opts.DryRun); command != "" {
		caps.Speech = media.NewCommandSynthesizer(command, nil)
		caps.AudioExt = ".mp3"
	} else {
		if !opts.DryRun {
			logger.Warn("no TTS command found, narration will be silent", "hint", "install edge-tts or set voice.command")
		}
		caps.Speech = media.SilentSynthesizer{}
		caps.AudioExt = ".wav"
	}

	useFFmpeg := !opts.DryRun && cfg.Video.Encoder == "ffmpeg"
	if useFFmpeg {
		if _, err := lookPath("ffmpeg"); err != nil {
			logger.Warn("ffmpeg not found, writing a timeline manifest instead")
			useFFmpeg = false
		}
	}
	if useFFmpeg {
		w, h := media.AspectSize(cfg.Content.AspectRatio)
		caps.Video = media.NewFFmpegEncoder(cfg.Video.FPS, w, h, nil)
	} else {
		caps.Video = media.ManifestEncoder{}
	}
	caps.VideoExt = ".mp4"
	return caps, nil
}

// ttsCommand resolves the speech command: voice.command, then
// $TTS_COMMAND, then edge-tts when installed.
func ttsCommand(cfg *config.Config, dryRun bool) string {
	if dryRun {
		return ""
	}
	if cfg.Voice.Command != "" {
		return cfg.Voice.Command
	}
	if c := os.Getenv("TTS_COMMAND"); c != "" {
		return c
	}
	if _, err := lookPath("edge-tts"); err == nil {
		return "edge-tts"
	}
	return ""
}
