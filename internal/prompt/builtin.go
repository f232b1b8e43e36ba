package prompt

// Template names used by the pipeline stages.
const (
	ScriptTemplate   = "script.md"
	SceneTemplate    = "scene.md"
	ImageTemplate    = "image.md"
	RevisionTemplate = "revise.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	ScriptTemplate:   scriptTemplate,
	SceneTemplate:    sceneTemplate,
	ImageTemplate:    imageTemplate,
	RevisionTemplate: revisionTemplate,
}

const scriptTemplate = `You are a story architect for short educational videos.

Turn the topic "{{topic}}" into a story structure for a {{length}} video.

Audience: {{audience}}
Style: {{style}}
Language: {{language}}
{{#if character}}
Presenter character: {{character}}
{{/if}}

Plan between {{min_scenes}} and {{max_scenes}} scenes. For each scene give:
- scene_number, starting at 1
- scene_type: hook, explanation, story, analysis, revelation, summary, example or comparison
- beats: the points the scene must land
- learning_objectives
- needs_animation (true or false)
- transition_to_next: cut, fade, wipe, morph or dissolve
- scene_importance from 1 (optional) to 5 (critical)

Open with a hook, build knowledge step by step, include at least one
surprising fact and close with a summary.

Also give a title, the overall_style and a story_summary of 60 to 2000
characters.

Respond with a single JSON object and nothing else.
`

const sceneTemplate = `You are a scene writer turning a story beat into a production-ready scene package.

Video: "{{title}}"
Style: {{style}}
Audience: {{audience}}
{{#if character}}
Presenter character: {{character}}
{{/if}}

Scene {{scene_number}} of {{scene_count}} ({{scene_type}})
Beats:
{{beats}}
{{#if objectives}}
Learning objectives:
{{objectives}}
{{/if}}
{{#if previous}}
The previous scene ended with: {{previous}}
{{/if}}

Write:
- narration_script: lines with at_ms and duration_ms in milliseconds, paced at
  about 150 words per minute; write numbers as words
- visuals: 1 to 6 frames with frame_id ({{scene_number}}A, {{scene_number}}B, ...),
  shot_type, an image_prompt of at least 40 characters, aspect_ratio {{aspect_ratio}}
- tts: engine {{tts_engine}}, voice {{tts_voice}}, language {{language}}
- timing.total_ms covering all narration
- optional sfx_cues and on_screen_text with at_ms and duration_ms

Respond with a single JSON object and nothing else.
`

const imageTemplate = `{{prompt}}, {{style}}{{#if lighting}}, {{lighting}} lighting{{/if}}{{#if shot}}, {{shot}} shot{{/if}}, no text, no watermark`

const revisionTemplate = `{{original}}

---
Your previous answer could not be used.
{{feedback}}

Answer again with a single JSON object that follows the instructions above.
`
