package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lucasnoah/reelfactory/internal/schema"
)

// Scripted is an offline Generator for dry runs. It answers every request
// with plausible content for the requested schema, written the loose way
// real models write it (fenced, aliased field names, unit strings).
type Scripted struct {
	Topic  string
	Scenes int
}

// NewScripted returns a Scripted generator producing a script of n scenes
// (3 when n is out of range).
func NewScripted(topic string, n int) *Scripted {
	if n < 3 || n > 10 {
		n = 3
	}
	return &Scripted{Topic: topic, Scenes: n}
}

func (s *Scripted) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Wrap(err)
	}
	if req.Schema == nil {
		return "", NewError(KindInvalid, "scripted generator needs a schema")
	}

	var body any
	switch req.Schema.Name {
	case schema.FullScriptName:
		body = s.script()
	case schema.ScenePackageName:
		n, err := strconv.Atoi(req.ItemID)
		if err != nil || n < 1 {
			n = 1
		}
		body = s.scene(n)
	default:
		return "", NewError(KindInvalid, "scripted generator has no content for %s", req.Schema.Name)
	}

	raw, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", err
	}
	return "Here is the JSON you asked for:\n```json\n" + string(raw) + "\n```\n", nil
}

func (s *Scripted) script() map[string]any {
	types := []string{"Introduction", "explanation", "Case Study", "story", "analysis", "demonstration", "comparison", "timeline", "prediction", "Conclusion"}
	scenes := make([]any, 0, s.Scenes)
	for i := 1; i <= s.Scenes; i++ {
		transition := "fade to black"
		if i == s.Scenes {
			transition = "end screen"
		}
		kind := types[(i-1)%len(types)]
		if i == s.Scenes {
			kind = "Conclusion"
		}
		scenes = append(scenes, map[string]any{
			"scene":      i,
			"type":       kind,
			"key_points": []string{fmt.Sprintf("Part %d of the story of %s", i, s.Topic)},
			"animated":   "no",
			"transition": transition,
			"importance": 6 - min(i, 5),
		})
	}
	return map[string]any{
		"name":  fmt.Sprintf("Understanding %s", s.Topic),
		"style": "friendly educational",
		"summary": fmt.Sprintf("A short explainer that walks through %s step by step, "+
			"starting with a hook and ending with a recap of the key ideas.", s.Topic),
		"scene_beats": scenes,
	}
}

func (s *Scripted) scene(n int) map[string]any {
	return map[string]any{
		"scene_number": n,
		"narration": []any{
			fmt.Sprintf("Scene %d takes a closer look at %s.", n, s.Topic),
			map[string]any{"text": "Let's see how it works.", "start": "3.5s"},
		},
		"frames": []any{
			map[string]any{
				"shot":   "Wide Shot",
				"prompt": fmt.Sprintf("An illustrated wide view introducing %s, clean flat colors, scene %d", s.Topic, n),
				"ratio":  "landscape",
			},
			map[string]any{
				"shot":   "close-up",
				"prompt": fmt.Sprintf("A detailed close illustration of one element of %s, soft lighting", s.Topic),
				"ratio":  "16x9",
			},
		},
		"voice": map[string]any{"provider": "edge-tts", "voice_id": "en-US-AriaNeural", "lang": "en-US"},
		"sfx": []any{
			map[string]any{"sound_effect": "whoosh", "start_ms": 0, "end_ms": 400},
		},
		"captions": []any{
			map[string]any{"caption": s.Topic, "start": "0.5s", "end": "3s"},
		},
		"timing": map[string]any{"total": "8s"},
	}
}
