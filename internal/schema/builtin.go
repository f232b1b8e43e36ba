package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Schema names.
const (
	FullScriptName   = "FullScript"
	ScenePackageName = "ScenePackage"
	ImageAssetName   = "ImageAsset"
	VoiceAssetName   = "VoiceAsset"
	VideoAssetName   = "VideoAsset"
)

const builtinVersion = "1"

// Builtin returns a registry holding every pipeline schema.
func Builtin() (*Registry, error) {
	return NewRegistry(
		FullScriptSchema(),
		ScenePackageSchema(),
		ImageAssetSchema(),
		VoiceAssetSchema(),
		VideoAssetSchema(),
	)
}

// MustBuiltin is Builtin for package initialisation and tests.
func MustBuiltin() *Registry {
	r, err := Builtin()
	if err != nil {
		panic(err)
	}
	return r
}

var (
	sceneTypes = []string{
		"hook", "explanation", "story", "analysis", "revelation", "summary", "credits",
		"example", "controversy", "comparison", "timeline", "interview", "demonstration",
		"prediction", "debate", "journey", "transformation", "conflict", "resolution",
	}
	sceneTypeAliases = map[string]string{
		"intro":        "hook",
		"introduction": "hook",
		"opening":      "hook",
		"teaser":       "hook",
		"conclusion":   "summary",
		"outro":        "summary",
		"recap":        "summary",
		"ending":       "summary",
		"narrative":    "story",
		"case_study":   "example",
		"history":      "timeline",
		"demo":         "demonstration",
		"tutorial":     "demonstration",
		"reveal":       "revelation",
		"twist":        "revelation",
		"climax":       "revelation",
		"end_credits":  "credits",
		"versus":       "comparison",
		"forecast":     "prediction",
		"future":       "prediction",
	}

	transitions       = []string{"cut", "fade", "wipe", "morph", "dissolve", "credits", "end"}
	transitionAliases = map[string]string{
		"cut_to_black":    "cut",
		"hard_cut":        "cut",
		"jump_cut":        "cut",
		"fade_to_black":   "fade",
		"fade_out":        "fade",
		"crossfade":       "dissolve",
		"cross_dissolve":  "dissolve",
		"fade_to_credits": "credits",
		"swipe_left":      "wipe",
		"swipe_right":     "wipe",
		"slide_left":      "wipe",
		"slide_right":     "wipe",
		"end_screen":      "end",
		"none":            "end",
	}

	shotTypes       = []string{"wide", "medium", "close", "macro", "extreme_wide", "extreme_close"}
	shotTypeAliases = map[string]string{
		"establishing":   "extreme_wide",
		"long_shot":      "wide",
		"full_shot":      "wide",
		"mid_shot":       "medium",
		"closeup":        "close",
		"close_up":       "close",
		"detail":         "macro",
		"insert":         "macro",
		"ecu":            "extreme_close",
		"aerial":         "extreme_wide",
		"birds_eye_view": "extreme_wide",
	}

	aspectRatios       = []string{"16:9", "9:16", "1:1", "4:5", "3:2", "2:3"}
	aspectRatioAliases = map[string]string{
		"landscape":  "16:9",
		"widescreen": "16:9",
		"16x9":       "16:9",
		"portrait":   "9:16",
		"vertical":   "9:16",
		"9x16":       "9:16",
		"square":     "1:1",
		"1x1":        "1:1",
	}

	ttsEngines       = []string{"elevenlabs", "openai", "google", "azure", "edge"}
	ttsEngineAliases = map[string]string{
		"eleven_labs": "elevenlabs",
		"11labs":      "elevenlabs",
		"edge_tts":    "edge",
		"microsoft":   "azure",
		"gcp":         "google",
	}

	imageModels = []string{
		"stable-diffusion-xl", "flux-1", "flux-1-pro", "midjourney", "dall-e-3",
		"gemini-imagen", "gemini-2.5-flash-image-preview", "pollinations", "mock",
	}
	imageModelAliases = map[string]string{
		"sdxl":   "stable-diffusion-xl",
		"flux":   "flux-1",
		"dalle3": "dall-e-3",
		"dalle":  "dall-e-3",
		"imagen": "gemini-imagen",
	}

	safetyResults = []string{"safe", "flagged", "blocked"}
)

var frameIDRe = regexp.MustCompile(`^[0-9]+[A-Z]$`)

// FrameID formats the identifier of the n-th (0-based) frame of a scene.
func FrameID(scene int64, n int) string {
	letter := byte('A' + n%26)
	return fmt.Sprintf("%d%c", scene, letter)
}

// canonFrameID upper-cases an id and strips separators. A bare scene
// number names that scene's first frame.
func canonFrameID(s string) string {
	var b strings.Builder
	digits := true
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
			digits = false
		default:
			continue
		}
		b.WriteRune(r)
	}
	if digits && b.Len() > 0 {
		b.WriteByte('A')
	}
	return b.String()
}

// spanDuration derives duration_ms from an end_ms spelling, clamped to
// minimum, or applies fallback when neither is present.
func spanDuration(minimum, fallback int64) Hook {
	return func(m map[string]any) {
		if !Missing(m, "duration_ms") {
			return
		}
		for _, endKey := range []string{"end_ms", "end", "stop_ms", "end_time"} {
			if Missing(m, endKey) {
				continue
			}
			end, ok := ToMillis(m[endKey])
			if !ok {
				continue
			}
			var at int64
			if !Missing(m, "at_ms") {
				at, _ = ToMillis(m["at_ms"])
			}
			m["duration_ms"] = max(end-at, minimum)
			return
		}
		if fallback > 0 {
			m["duration_ms"] = fallback
		}
	}
}

// minSceneMillis is the shortest scene length accepted.
const minSceneMillis = 1000

// wordsPerMinute is the speaking rate used to estimate narration length.
const wordsPerMinute = 150

// EstimateSpeechMillis estimates how long a line takes to speak.
func EstimateSpeechMillis(line string) int64 {
	words := len(strings.Fields(line))
	ms := int64(words) * 60000 / wordsPerMinute
	return max(ms, 1000)
}

func narrationDuration(m map[string]any) {
	spanDuration(500, 0)(m)
	if !Missing(m, "duration_ms") {
		return
	}
	line, _ := ToString(m["line"])
	m["duration_ms"] = EstimateSpeechMillis(line)
}

func sceneBeatObject() *Object {
	return &Object{
		Fields: []Field{
			{Name: "scene_number", Kind: Int, Required: true, Aliases: []string{"scene", "number", "index", "scene_id"}, Default: int64(0)},
			{Name: "scene_type", Kind: String, Required: true, Aliases: []string{"type", "kind"},
				Enum: sceneTypes, EnumAliases: sceneTypeAliases, EnumDefault: "explanation"},
			{Name: "beats", Kind: Array, Required: true, Aliases: []string{"beat", "story_beats", "points", "key_points"},
				MinItems: 1, Items: &Field{Kind: String, MinLength: 1}},
			{Name: "learning_objectives", Kind: Array, Aliases: []string{"objectives", "learning_goals"},
				Items: &Field{Kind: String}},
			{Name: "needs_animation", Kind: Bool, Required: true, Aliases: []string{"animated", "animation"}, Default: false},
			{Name: "transition_to_next", Kind: String, Required: true, Aliases: []string{"transition", "next_transition"},
				Enum: transitions, EnumAliases: transitionAliases, EnumDefault: "fade"},
			{Name: "scene_importance", Kind: Int, Required: true, Aliases: []string{"importance", "priority"},
				Default: int64(3), Min: ptr(1), Max: ptr(5), Clamp: true},
		},
	}
}

// numberScenes assigns 1-based positions to scenes that lack a number.
func numberScenes(m map[string]any) {
	scenes, _ := m["scenes"].([]any)
	for i, s := range scenes {
		scene, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := ToInt(scene["scene_number"]); !ok || n < 1 {
			scene["scene_number"] = int64(i + 1)
		}
	}
}

// FullScriptSchema declares the script stage output.
func FullScriptSchema() *Schema {
	return &Schema{
		Name:    FullScriptName,
		Version: builtinVersion,
		Root: &Object{
			Fields: []Field{
				{Name: "title", Kind: String, Required: true, Aliases: []string{"name", "video_title"},
					Placeholder: "Untitled", MinLength: 5, MaxLength: 200, Clamp: true},
				{Name: "overall_style", Kind: String, Required: true, Aliases: []string{"style", "tone", "visual_style"},
					Placeholder: "educational", MinLength: 1},
				{Name: "logline", Kind: String, Aliases: []string{"tagline", "hook_line"}},
				{Name: "main_character", Kind: String, Aliases: []string{"character", "character_name", "protagonist"}},
				{Name: "cosplay_instructions", Kind: String, Aliases: []string{"costume", "costume_notes"}},
				{Name: "story_summary", Kind: String, Required: true, Aliases: []string{"summary", "synopsis", "description"},
					MinLength: 60, MaxLength: 2000, Clamp: true},
				{Name: "scenes", Kind: Array, Required: true, Aliases: []string{"scene_beats", "beats", "outline"},
					MinItems: 3, MaxItems: 10, Items: &Field{Kind: ObjectKind, Object: sceneBeatObject()}},
			},
			Finish: []Hook{numberScenes},
		},
		Seed: func(string) map[string]any {
			return map[string]any{
				"title":         "Generated Content",
				"overall_style": "educational",
				"story_summary": "A brief educational video about the requested topic. The script could not be generated, so this outline is a placeholder.",
				"scenes": []any{
					map[string]any{"scene_number": 1, "scene_type": "hook", "beats": []any{"Introduction to the topic"},
						"needs_animation": false, "transition_to_next": "fade", "scene_importance": 5},
					map[string]any{"scene_number": 2, "scene_type": "explanation", "beats": []any{"Main explanation"},
						"needs_animation": false, "transition_to_next": "fade", "scene_importance": 4},
					map[string]any{"scene_number": 3, "scene_type": "summary", "beats": []any{"Summary and conclusion"},
						"needs_animation": false, "transition_to_next": "end", "scene_importance": 3},
				},
			}
		},
	}
}

func visualObject() *Object {
	return &Object{
		Fields: []Field{
			{Name: "frame_id", Kind: String, Required: true, Aliases: []string{"frame", "id", "frame_number"},
				Default: "", Pattern: frameIDRe.String(), Canon: canonFrameID},
			{Name: "shot_type", Kind: String, Required: true, Aliases: []string{"shot", "camera_shot", "framing"},
				Enum: shotTypes, EnumAliases: shotTypeAliases, EnumDefault: "medium"},
			{Name: "image_prompt", Kind: String, Required: true, Aliases: []string{"prompt", "description", "visual_description"},
				Placeholder: "A clear educational illustration of the scene subject, soft studio lighting", MinLength: 40},
			{Name: "negative_prompt", Kind: String, Aliases: []string{"negative"}},
			{Name: "aspect_ratio", Kind: String, Required: true, Aliases: []string{"ratio", "aspect"},
				Enum: aspectRatios, EnumAliases: aspectRatioAliases, EnumDefault: "16:9"},
			{Name: "camera_motion", Kind: String, Aliases: []string{"camera_movement", "motion"}, Default: "static"},
			{Name: "lighting", Kind: String, Aliases: []string{"light", "lighting_notes"}, Default: "natural"},
			{Name: "seed", Kind: Int, Default: int64(123456)},
			{Name: "guidance_scale", Kind: Float, Aliases: []string{"cfg", "cfg_scale", "guidance"},
				Default: 7.5, Min: ptr(1), Max: ptr(20), Clamp: true},
		},
	}
}

func narrationLineObject() *Object {
	return &Object{
		Fields: []Field{
			{Name: "line", Kind: String, Required: true, Aliases: []string{"text", "narration", "content", "sentence"}, MinLength: 1},
			{Name: "at_ms", Kind: Millis, Required: true, Aliases: []string{"start_ms", "begin_ms", "start", "time_ms", "timestamp_ms"},
				Default: int64(0), Min: ptr(0), Clamp: true},
			{Name: "duration_ms", Kind: Millis, Required: true, Aliases: []string{"length_ms", "duration"},
				Min: ptr(1), Clamp: true},
			{Name: "pause_ms", Kind: Millis, Aliases: []string{"pause", "pause_after_ms"}, Min: ptr(0), Clamp: true},
		},
		Derive: []Hook{narrationDuration},
	}
}

func sfxCueObject() *Object {
	return &Object{
		Fields: []Field{
			{Name: "cue", Kind: String, Required: true, Aliases: []string{"sfx_name", "effect", "sound_effect", "cue_name", "name", "sound"},
				Placeholder: "ambient", MinLength: 1},
			{Name: "at_ms", Kind: Millis, Required: true, Aliases: []string{"start_ms", "begin_ms", "start"},
				Default: int64(0), Min: ptr(0), Clamp: true},
			{Name: "duration_ms", Kind: Millis, Required: true, Aliases: []string{"length_ms", "duration"},
				Default: int64(1000), Min: ptr(100), Clamp: true},
		},
		Derive: []Hook{spanDuration(100, 1000)},
	}
}

func onScreenTextObject() *Object {
	return &Object{
		Fields: []Field{
			{Name: "text", Kind: String, Required: true, Aliases: []string{"content", "caption", "label"},
				Placeholder: "Text", MinLength: 1},
			{Name: "at_ms", Kind: Millis, Required: true, Aliases: []string{"start_ms", "begin_ms", "start"},
				Default: int64(0), Min: ptr(0), Clamp: true},
			{Name: "duration_ms", Kind: Millis, Required: true, Aliases: []string{"length_ms", "duration"},
				Default: int64(3000), Min: ptr(500), Clamp: true},
			{Name: "style", Kind: String, Required: true, Aliases: []string{"font_style", "type"}, Placeholder: "normal", MinLength: 1},
		},
		Derive: []Hook{spanDuration(500, 3000)},
	}
}

func ttsObject() *Object {
	return &Object{
		Fields: []Field{
			{Name: "engine", Kind: String, Required: true, Aliases: []string{"provider", "tts_engine"},
				Enum: ttsEngines, EnumAliases: ttsEngineAliases, EnumDefault: "elevenlabs"},
			{Name: "voice", Kind: String, Required: true, Aliases: []string{"voice_id", "voice_name", "speaker"},
				Placeholder: "Adam", MinLength: 1},
			{Name: "language", Kind: String, Required: true, Aliases: []string{"lang", "locale"}, Placeholder: "en-US", MinLength: 2},
			{Name: "speed", Kind: Float, Aliases: []string{"rate", "speaking_rate"}, Default: 1.0, Min: ptr(0.5), Max: ptr(2), Clamp: true},
		},
	}
}

// packageFrames assigns frame ids to visuals with a missing or malformed
// id. A scene length below the minimum is derived from its narration.
func packageFrames(m map[string]any) {
	scene, _ := ToInt(m["scene_number"])
	visuals, _ := m["visuals"].([]any)
	for i, v := range visuals {
		visual, ok := v.(map[string]any)
		if !ok {
			continue
		}
		id, _ := visual["frame_id"].(string)
		if !frameIDRe.MatchString(id) {
			visual["frame_id"] = FrameID(scene, i)
		}
	}

	timing, ok := m["timing"].(map[string]any)
	if !ok {
		return
	}
	total, _ := ToInt(timing["total_ms"])
	if total >= minSceneMillis {
		return
	}
	total = minSceneMillis
	lines, _ := m["narration_script"].([]any)
	for _, l := range lines {
		line, ok := l.(map[string]any)
		if !ok {
			continue
		}
		at, _ := ToInt(line["at_ms"])
		dur, _ := ToInt(line["duration_ms"])
		pause, _ := ToInt(line["pause_ms"])
		total = max(total, at+dur+pause)
	}
	timing["total_ms"] = total
}

// ScenePackageSchema declares the scene expansion output.
func ScenePackageSchema() *Schema {
	return &Schema{
		Name:    ScenePackageName,
		Version: builtinVersion,
		IDField: "scene_number",
		Root: &Object{
			Fields: []Field{
				{Name: "scene_number", Kind: Int, Required: true, Aliases: []string{"scene", "number", "scene_id"},
					Default: int64(1), Min: ptr(1)},
				{Name: "narration_script", Kind: Array, Required: true, Aliases: []string{"narration", "script", "lines", "voiceover"},
					MinItems: 1, Wrap: "line", Items: &Field{Kind: ObjectKind, Object: narrationLineObject()}},
				{Name: "dialogue", Kind: Array, Aliases: []string{"dialog", "conversation"}, Items: &Field{Kind: String}},
				{Name: "visuals", Kind: Array, Required: true, Aliases: []string{"frames", "shots", "images"},
					MinItems: 1, Items: &Field{Kind: ObjectKind, Object: visualObject()}},
				{Name: "tts", Kind: ObjectKind, Required: true, Aliases: []string{"tts_settings", "voice", "voice_settings"},
					Object: ttsObject()},
				{Name: "sfx_cues", Kind: Array, Aliases: []string{"sfx", "sound_effects"}, Default: []any{},
					Items: &Field{Kind: ObjectKind, Object: sfxCueObject()}},
				{Name: "on_screen_text", Kind: Array, Aliases: []string{"text_overlays", "overlays", "captions"}, Default: []any{},
					Items: &Field{Kind: ObjectKind, Object: onScreenTextObject()}},
				{Name: "timing", Kind: ObjectKind, Required: true, Aliases: []string{"timings"},
					Object: &Object{Fields: []Field{
						{Name: "total_ms", Kind: Millis, Required: true, Aliases: []string{"total", "duration_ms", "duration", "length_ms"},
							Default: int64(0), Min: ptr(minSceneMillis)},
					}}},
				{Name: "continuity", Kind: String, Aliases: []string{"continuity_notes"}},
				{Name: "safety_checks", Kind: Array, Aliases: []string{"safety", "safety_notes"}, Items: &Field{Kind: String}},
			},
			Finish: []Hook{packageFrames},
		},
		Seed: func(itemID string) map[string]any {
			return map[string]any{
				"narration_script": []any{
					map[string]any{"line": "Content generation failed", "at_ms": 0, "duration_ms": 2000},
				},
				"visuals": []any{
					map[string]any{
						"frame_id":     "",
						"shot_type":    "medium",
						"image_prompt": "A simple educational scene with a friendly character in a neutral studio setting",
						"aspect_ratio": "16:9",
					},
				},
				"tts":           map[string]any{"engine": "elevenlabs", "voice": "Adam", "language": "en-US"},
				"timing":        map[string]any{"total_ms": 5000},
				"safety_checks": []any{"fallback_data_used"},
			}
		},
	}
}

// ImageAssetSchema declares the per-frame image stage output.
func ImageAssetSchema() *Schema {
	return &Schema{
		Name:    ImageAssetName,
		Version: builtinVersion,
		IDField: "frame_id",
		Root: &Object{
			Fields: []Field{
				{Name: "frame_id", Kind: String, Required: true, Aliases: []string{"frame", "id"},
					Placeholder: "1A", Pattern: frameIDRe.String(), Canon: canonFrameID},
				{Name: "image_uri", Kind: String, Required: true, Aliases: []string{"uri", "url", "path", "file", "image_path", "image_url"},
					MinLength: 1},
				{Name: "prompt_used", Kind: String, Required: true, Aliases: []string{"prompt", "image_prompt"}, MinLength: 1},
				{Name: "model", Kind: String, Required: true, Aliases: []string{"model_name", "generator"},
					Enum: imageModels, EnumAliases: imageModelAliases, EnumDefault: "mock"},
				{Name: "cfg", Kind: Float, Required: true, Aliases: []string{"guidance_scale", "cfg_scale"},
					Default: 7.5, Min: ptr(1), Max: ptr(20), Clamp: true},
				{Name: "steps", Kind: Int, Required: true, Aliases: []string{"num_steps", "inference_steps"},
					Default: int64(20), Min: ptr(1), Max: ptr(150), Clamp: true},
				{Name: "seed", Kind: Int, Required: true, Default: int64(123456)},
				{Name: "safety_result", Kind: String, Required: true, Aliases: []string{"safety", "safety_status"},
					Enum: safetyResults, EnumDefault: "safe"},
				{Name: "generation_time_ms", Kind: Millis, Required: true, Aliases: []string{"generation_time", "elapsed_ms", "latency_ms"},
					Default: int64(0), Min: ptr(0), Clamp: true},
			},
		},
		Seed: func(itemID string) map[string]any {
			return map[string]any{
				"image_uri":     "placeholder://frame/" + canonFrameID(itemID),
				"prompt_used":   "fallback",
				"model":         "mock",
				"safety_result": "safe",
			}
		},
	}
}

// VoiceAssetSchema declares the per-scene voice stage output.
func VoiceAssetSchema() *Schema {
	return &Schema{
		Name:    VoiceAssetName,
		Version: builtinVersion,
		IDField: "scene_number",
		Root: &Object{
			Fields: []Field{
				{Name: "scene_number", Kind: Int, Required: true, Aliases: []string{"scene"}, Default: int64(1), Min: ptr(1)},
				{Name: "audio_uri", Kind: String, Required: true, Aliases: []string{"uri", "path", "file", "audio_path"}, MinLength: 1},
				{Name: "duration_ms", Kind: Millis, Required: true, Aliases: []string{"duration"}, Default: int64(0), Min: ptr(0), Clamp: true},
				{Name: "engine", Kind: String, Required: true, Placeholder: "edge", MinLength: 1},
				{Name: "voice", Kind: String, Required: true, Placeholder: "default", MinLength: 1},
			},
		},
		Seed: func(itemID string) map[string]any {
			return map[string]any{"audio_uri": "silence://scene/" + itemID, "engine": "silent"}
		},
	}
}

// VideoAssetSchema declares the assembly stage output.
func VideoAssetSchema() *Schema {
	return &Schema{
		Name:    VideoAssetName,
		Version: builtinVersion,
		Root: &Object{
			Fields: []Field{
				{Name: "video_uri", Kind: String, Required: true, Aliases: []string{"uri", "path", "file", "output"}, MinLength: 1},
				{Name: "duration_ms", Kind: Millis, Required: true, Aliases: []string{"duration"}, Default: int64(0), Min: ptr(0), Clamp: true},
				{Name: "scene_count", Kind: Int, Required: true, Default: int64(0), Min: ptr(0)},
				{Name: "frame_count", Kind: Int, Required: true, Default: int64(0), Min: ptr(0)},
				{Name: "audio_tracks", Kind: Int, Required: true, Default: int64(0), Min: ptr(0)},
				{Name: "degraded_inputs", Kind: Array, Required: true, Items: &Field{Kind: String}},
			},
		},
		Seed: func(string) map[string]any {
			return map[string]any{"video_uri": "placeholder://video"}
		},
	}
}
