// Package media holds the non-LLM capabilities used by the later pipeline
// stages: speech synthesis, image rendering and video encoding.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// SpeechRequest is one narration clip to synthesize.
type SpeechRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float64
	OutFile  string
}

// Audio describes a synthesized clip.
type Audio struct {
	Path     string
	Duration time.Duration
	Engine   string
	Voice    string
}

// Synthesizer turns text into an audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*Audio, error)
}

// ImageRequest is one frame to render.
type ImageRequest struct {
	FrameID        string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Seed           int64
	Guidance       float64
	OutFile        string
}

// Image describes a rendered frame.
type Image struct {
	Path    string
	Model   string
	Steps   int
	Elapsed time.Duration
}

// ImageRenderer turns a prompt into an image file.
type ImageRenderer interface {
	Render(ctx context.Context, req ImageRequest) (*Image, error)
}

// Clip is one still shown for a duration.
type Clip struct {
	Image    string
	Duration time.Duration
}

// Timeline is everything the encoder combines into a video.
type Timeline struct {
	Clips []Clip
	Audio []string
}

// Duration is the summed clip duration.
func (t Timeline) Duration() time.Duration {
	var d time.Duration
	for _, c := range t.Clips {
		d += c.Duration
	}
	return d
}

// Video describes an encoded output.
type Video struct {
	Path     string
	Duration time.Duration
}

// Encoder combines a timeline into a video file.
type Encoder interface {
	Encode(ctx context.Context, tl Timeline, out string) (*Video, error)
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		if msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// AspectSize maps an aspect ratio to output pixels on a 1080 short edge.
func AspectSize(ratio string) (int, int) {
	switch ratio {
	case "9:16":
		return 1080, 1920
	case "1:1":
		return 1080, 1080
	case "4:5":
		return 1080, 1350
	case "3:2":
		return 1620, 1080
	case "2:3":
		return 1080, 1620
	default:
		return 1920, 1080
	}
}
