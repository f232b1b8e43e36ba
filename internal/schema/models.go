package schema

// Typed views of validated records. Obtain them with Record.Decode.

type FullScript struct {
	Title               string      `json:"title"`
	OverallStyle        string      `json:"overall_style"`
	Logline             string      `json:"logline,omitempty"`
	MainCharacter       string      `json:"main_character,omitempty"`
	CosplayInstructions string      `json:"cosplay_instructions,omitempty"`
	StorySummary        string      `json:"story_summary"`
	Scenes              []SceneBeat `json:"scenes"`
}

type SceneBeat struct {
	SceneNumber        int      `json:"scene_number"`
	SceneType          string   `json:"scene_type"`
	Beats              []string `json:"beats"`
	LearningObjectives []string `json:"learning_objectives,omitempty"`
	NeedsAnimation     bool     `json:"needs_animation"`
	TransitionToNext   string   `json:"transition_to_next"`
	SceneImportance    int      `json:"scene_importance"`
}

type ScenePackage struct {
	SceneNumber     int             `json:"scene_number"`
	NarrationScript []NarrationLine `json:"narration_script"`
	Dialogue        []string        `json:"dialogue,omitempty"`
	Visuals         []Visual        `json:"visuals"`
	TTS             TTSSettings     `json:"tts"`
	SFXCues         []SFXCue        `json:"sfx_cues,omitempty"`
	OnScreenText    []OnScreenText  `json:"on_screen_text,omitempty"`
	Timing          Timing          `json:"timing"`
	Continuity      string          `json:"continuity,omitempty"`
	SafetyChecks    []string        `json:"safety_checks,omitempty"`
}

// Text joins the narration lines into one speakable string.
func (p ScenePackage) Text() string {
	var out []byte
	for i, l := range p.NarrationScript {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, l.Line...)
	}
	return string(out)
}

type NarrationLine struct {
	Line       string `json:"line"`
	AtMs       int64  `json:"at_ms"`
	DurationMs int64  `json:"duration_ms"`
	PauseMs    int64  `json:"pause_ms,omitempty"`
}

type Visual struct {
	FrameID        string  `json:"frame_id"`
	ShotType       string  `json:"shot_type"`
	ImagePrompt    string  `json:"image_prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	AspectRatio    string  `json:"aspect_ratio"`
	CameraMotion   string  `json:"camera_motion,omitempty"`
	Lighting       string  `json:"lighting,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
}

type TTSSettings struct {
	Engine   string  `json:"engine"`
	Voice    string  `json:"voice"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed,omitempty"`
}

type SFXCue struct {
	Cue        string `json:"cue"`
	AtMs       int64  `json:"at_ms"`
	DurationMs int64  `json:"duration_ms"`
}

type OnScreenText struct {
	Text       string `json:"text"`
	AtMs       int64  `json:"at_ms"`
	DurationMs int64  `json:"duration_ms"`
	Style      string `json:"style"`
}

type Timing struct {
	TotalMs int64 `json:"total_ms"`
}

type ImageAsset struct {
	FrameID          string  `json:"frame_id"`
	ImageURI         string  `json:"image_uri"`
	PromptUsed       string  `json:"prompt_used"`
	Model            string  `json:"model"`
	CFG              float64 `json:"cfg"`
	Steps            int     `json:"steps"`
	Seed             int64   `json:"seed"`
	SafetyResult     string  `json:"safety_result"`
	GenerationTimeMs int64   `json:"generation_time_ms"`
}

type VoiceAsset struct {
	SceneNumber int    `json:"scene_number"`
	AudioURI    string `json:"audio_uri"`
	DurationMs  int64  `json:"duration_ms"`
	Engine      string `json:"engine"`
	Voice       string `json:"voice"`
}

type VideoAsset struct {
	VideoURI       string   `json:"video_uri"`
	DurationMs     int64    `json:"duration_ms"`
	SceneCount     int      `json:"scene_count"`
	FrameCount     int      `json:"frame_count"`
	AudioTracks    int      `json:"audio_tracks"`
	DegradedInputs []string `json:"degraded_inputs"`
}
