package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
	"github.com/lucasnoah/reelfactory/internal/schema"
)

// DefaultEdgeVoice is used when a requested voice is not an edge-tts voice.
const DefaultEdgeVoice = "en-US-GuyNeural"

// CommandSynthesizer runs a TTS command per clip. Command is "edge-tts",
// a Python script, or any binary accepting --text and --output.
type CommandSynthesizer struct {
	Command string
	runner  Runner
}

// NewCommandSynthesizer returns a synthesizer for command. A nil runner
// uses os/exec.
func NewCommandSynthesizer(command string, r Runner) *CommandSynthesizer {
	if r == nil {
		r = ExecRunner{}
	}
	return &CommandSynthesizer{Command: strings.TrimSpace(command), runner: r}
}

func (s *CommandSynthesizer) Synthesize(ctx context.Context, req SpeechRequest) (*Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, llm.NewError(llm.KindInvalid, "no text to synthesize")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutFile), 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}

	voice := req.Voice
	var name string
	var args []string
	switch {
	case s.Command == "edge-tts":
		if !strings.HasSuffix(voice, "Neural") {
			voice = DefaultEdgeVoice
		}
		name = "edge-tts"
		args = []string{"--voice", voice, "--rate", edgeRate(req.Speed), "--text", text, "--write-media", req.OutFile}
	case strings.HasSuffix(s.Command, ".py"):
		name = "python3"
		args = []string{s.Command, "--text", text, "--output", req.OutFile}
	default:
		name = s.Command
		args = []string{"--text", text, "--output", req.OutFile}
	}

	if _, err := s.runner.Run(ctx, name, args...); err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	if fi, err := os.Stat(req.OutFile); err != nil || fi.Size() == 0 {
		return nil, llm.NewError(llm.KindTransport, "tts produced no audio at %s", req.OutFile)
	}

	dur, err := probeDuration(ctx, s.runner, req.OutFile)
	if err != nil {
		dur = estimate(text, req.Speed)
	}
	engine := "command"
	if s.Command == "edge-tts" {
		engine = "edge"
	}
	return &Audio{Path: req.OutFile, Duration: dur, Engine: engine, Voice: voice}, nil
}

// edgeRate formats a speed multiplier as an edge-tts rate such as "+10%".
func edgeRate(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	pct := int((speed - 1) * 100)
	if pct >= 0 {
		return "+" + strconv.Itoa(pct) + "%"
	}
	return strconv.Itoa(pct) + "%"
}

// probeDuration asks ffprobe for a media file's length.
func probeDuration(ctx context.Context, r Runner, path string) (time.Duration, error) {
	out, err := r.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", out, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func estimate(text string, speed float64) time.Duration {
	if speed <= 0 {
		speed = 1
	}
	ms := float64(schema.EstimateSpeechMillis(text)) / speed
	return time.Duration(ms) * time.Millisecond
}

// SilentSynthesizer writes silent WAV clips as long as the text would take
// to speak. It needs no external tools.
type SilentSynthesizer struct{}

const silentSampleRate = 16000

func (SilentSynthesizer) Synthesize(ctx context.Context, req SpeechRequest) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dur := estimate(req.Text, req.Speed)
	samples := int(dur.Seconds() * silentSampleRate)
	dataLen := samples * 2

	buf := make([]byte, 44+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:], silentSampleRate)
	binary.LittleEndian.PutUint32(buf[28:], silentSampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))

	if err := pipeline.WriteAtomic(req.OutFile, buf); err != nil {
		return nil, fmt.Errorf("write silence: %w", err)
	}
	return &Audio{Path: req.OutFile, Duration: dur, Engine: "silent", Voice: "none"}, nil
}
