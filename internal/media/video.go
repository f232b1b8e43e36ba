package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// FFmpegEncoder assembles stills and narration into an H.264 video.
type FFmpegEncoder struct {
	FPS    int
	Width  int
	Height int
	runner Runner
}

// NewFFmpegEncoder returns an encoder writing width x height video. A nil
// runner uses os/exec.
func NewFFmpegEncoder(fps, width, height int, r Runner) *FFmpegEncoder {
	if r == nil {
		r = ExecRunner{}
	}
	if fps <= 0 {
		fps = 30
	}
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	return &FFmpegEncoder{FPS: fps, Width: width, Height: height, runner: r}
}

func (e *FFmpegEncoder) Encode(ctx context.Context, tl Timeline, out string) (*Video, error) {
	if len(tl.Clips) == 0 {
		return nil, llm.NewError(llm.KindInvalid, "nothing to encode: timeline has no clips")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}

	framesList := out + ".frames.txt"
	if err := pipeline.WriteAtomic(framesList, []byte(framesConcat(tl.Clips))); err != nil {
		return nil, fmt.Errorf("write frame list: %w", err)
	}
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", framesList}

	if len(tl.Audio) > 0 {
		audioList := out + ".audio.txt"
		var b strings.Builder
		for _, a := range tl.Audio {
			fmt.Fprintf(&b, "file %s\n", concatQuote(a))
		}
		if err := pipeline.WriteAtomic(audioList, []byte(b.String())); err != nil {
			return nil, fmt.Errorf("write audio list: %w", err)
		}
		args = append(args, "-f", "concat", "-safe", "0", "-i", audioList)
	}

	w, h := strconv.Itoa(e.Width), strconv.Itoa(e.Height)
	args = append(args,
		"-vf", "scale="+w+":"+h+":force_original_aspect_ratio=decrease,pad="+w+":"+h+":(ow-iw)/2:(oh-ih)/2,setsar=1",
		"-r", strconv.Itoa(e.FPS),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
	)
	if len(tl.Audio) > 0 {
		args = append(args, "-c:a", "aac", "-b:a", "192k", "-shortest")
	} else {
		args = append(args, "-an")
	}
	args = append(args, out)

	if _, err := e.runner.Run(ctx, "ffmpeg", args...); err != nil {
		return nil, fmt.Errorf("ffmpeg encode: %w", err)
	}
	return &Video{Path: out, Duration: tl.Duration()}, nil
}

// framesConcat renders clips for the ffmpeg concat demuxer. The last file
// is listed twice because the demuxer ignores the final duration otherwise.
func framesConcat(clips []Clip) string {
	var b strings.Builder
	for _, c := range clips {
		fmt.Fprintf(&b, "file %s\nduration %.3f\n", concatQuote(c.Image), c.Duration.Seconds())
	}
	fmt.Fprintf(&b, "file %s\n", concatQuote(clips[len(clips)-1].Image))
	return b.String()
}

func concatQuote(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// ManifestEncoder writes the timeline as JSON instead of encoding video.
type ManifestEncoder struct{}

type manifest struct {
	Clips      []manifestClip `json:"clips"`
	Audio      []string       `json:"audio"`
	DurationMs int64          `json:"duration_ms"`
}

type manifestClip struct {
	Image      string `json:"image"`
	DurationMs int64  `json:"duration_ms"`
}

func (ManifestEncoder) Encode(ctx context.Context, tl Timeline, out string) (*Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tl.Clips) == 0 {
		return nil, llm.NewError(llm.KindInvalid, "nothing to encode: timeline has no clips")
	}
	out = strings.TrimSuffix(out, filepath.Ext(out)) + ".manifest.json"
	m := manifest{Audio: tl.Audio, DurationMs: tl.Duration().Milliseconds()}
	for _, c := range tl.Clips {
		m.Clips = append(m.Clips, manifestClip{Image: c.Image, DurationMs: c.Duration.Milliseconds()})
	}
	if err := pipeline.WriteJSON(out, m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return &Video{Path: out, Duration: tl.Duration()}, nil
}
