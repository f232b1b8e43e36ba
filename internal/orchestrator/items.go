package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/media"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
	"github.com/lucasnoah/reelfactory/internal/prompt"
	"github.com/lucasnoah/reelfactory/internal/schema"
	"github.com/lucasnoah/reelfactory/internal/stage"
)

// modelItem builds a work item that asks the model for a record of
// schemaName, with a revision path that re-sends the prompt with feedback.
func (r *run) modelItem(stageName, schemaName, itemID, text string) (stage.Item, error) {
	s, ok := r.rc.Registry.Get(schemaName)
	if !ok {
		return stage.Item{}, fmt.Errorf("schema %s not registered", schemaName)
	}
	revision, err := prompt.Load(prompt.RevisionTemplate, r.o.cfg.TemplatesDir)
	if err != nil {
		return stage.Item{}, err
	}

	call := func(p string) stage.CallFunc {
		return func(ctx context.Context) (string, error) {
			if err := r.o.store.SavePrompt(r.rc.SessionID, stageName, itemID, p); err != nil {
				r.rc.Log().Warn("save prompt failed", "item", itemID, "error", err)
			}
			return r.o.caps.Model.Generate(ctx, llm.Request{Prompt: p, Schema: s, ItemID: itemID})
		}
	}
	return stage.Item{
		ID:   itemID,
		Call: call(text),
		Revise: func(feedback string) stage.CallFunc {
			p, err := prompt.Render(revision, prompt.Vars{"original": text, "feedback": feedback})
			if err != nil {
				return func(context.Context) (string, error) {
					return "", llm.NewError(llm.KindInvalid, "render revision prompt: %v", err)
				}
			}
			return call(p)
		},
	}, nil
}

func (r *run) saveRaw(stageName string) func(itemID, raw string) {
	return func(itemID, raw string) {
		if err := r.o.store.SaveRawOutput(r.rc.SessionID, stageName, itemID, raw); err != nil {
			r.rc.Log().Warn("save raw output failed", "item", itemID, "error", err)
		}
	}
}

// assetItem wraps a media capability so its result flows through
// extraction like model output does.
func assetItem(id string, produce func(ctx context.Context) (any, error)) stage.Item {
	return stage.Item{
		ID: id,
		Call: func(ctx context.Context) (string, error) {
			v, err := produce(ctx)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(v)
			if err != nil {
				return "", llm.NewError(llm.KindInvalid, "marshal asset: %v", err)
			}
			return string(data), nil
		},
	}
}

// --- script ---

func (r *run) scriptStage() (stage.Def, error) {
	c := r.o.cfg.Content
	tmpl, err := prompt.Load(prompt.ScriptTemplate, r.o.cfg.TemplatesDir)
	if err != nil {
		return stage.Def{}, err
	}
	text, err := prompt.Render(tmpl, prompt.Vars{
		"topic":      r.rc.Topic,
		"length":     c.Length,
		"audience":   c.Audience,
		"style":      c.Style,
		"language":   c.Language,
		"character":  c.Character,
		"min_scenes": strconv.Itoa(c.MinScenes),
		"max_scenes": strconv.Itoa(c.MaxScenes),
	})
	if err != nil {
		return stage.Def{}, err
	}
	item, err := r.modelItem(pipeline.StageScript, schema.FullScriptName, "1", text)
	if err != nil {
		return stage.Def{}, err
	}
	return stage.Def{
		Schema: schema.FullScriptName,
		Items:  []stage.Item{item},
		OnRaw:  r.saveRaw(pipeline.StageScript),
	}, nil
}

func (r *run) collectScript(res *pipeline.StageResult) {
	for _, rec := range res.Records() {
		if err := rec.Decode(&r.script); err != nil {
			r.rc.Log().Error("decode script", "error", err)
		}
	}
}

// --- scenes ---

func (r *run) scenesStage() (stage.Def, error) {
	cfg := r.o.cfg
	tmpl, err := prompt.Load(prompt.SceneTemplate, cfg.TemplatesDir)
	if err != nil {
		return stage.Def{}, err
	}
	style := r.script.OverallStyle
	if style == "" {
		style = cfg.Content.Style
	}
	character := cfg.Content.Character
	if character == "" {
		character = r.script.MainCharacter
	}
	voice := cfg.Voice.Voice
	if voice == "" {
		voice = media.DefaultEdgeVoice
	}

	beats := r.script.Scenes
	items := make([]stage.Item, 0, len(beats))
	for i, beat := range beats {
		n := i + 1
		vars := prompt.Vars{
			"title":        r.script.Title,
			"style":        style,
			"audience":     cfg.Content.Audience,
			"character":    character,
			"scene_number": strconv.Itoa(n),
			"scene_count":  strconv.Itoa(len(beats)),
			"scene_type":   beat.SceneType,
			"beats":        bulletList(beat.Beats),
			"objectives":   bulletList(beat.LearningObjectives),
			"aspect_ratio": cfg.Content.AspectRatio,
			"tts_engine":   "edge",
			"tts_voice":    voice,
			"language":     cfg.Content.Language,
		}
		if i > 0 && len(beats[i-1].Beats) > 0 {
			prev := beats[i-1].Beats
			vars["previous"] = prev[len(prev)-1]
		}
		text, err := prompt.Render(tmpl, vars)
		if err != nil {
			return stage.Def{}, fmt.Errorf("scene %d: %w", n, err)
		}
		item, err := r.modelItem(pipeline.StageScenes, schema.ScenePackageName, strconv.Itoa(n), text)
		if err != nil {
			return stage.Def{}, err
		}
		items = append(items, item)
	}
	return stage.Def{
		Schema: schema.ScenePackageName,
		Items:  items,
		OnRaw:  r.saveRaw(pipeline.StageScenes),
	}, nil
}

func (r *run) collectScenes(res *pipeline.StageResult) {
	for _, it := range res.Items {
		if it.State == pipeline.ItemFailed {
			continue
		}
		var pkg schema.ScenePackage
		if err := it.Record.Decode(&pkg); err != nil {
			r.rc.Log().Error("decode scene package", "item", it.ID, "error", err)
			continue
		}
		r.scenes = append(r.scenes, sceneOut{pkg: pkg, degraded: it.State == pipeline.ItemDegraded})
	}
	sort.SliceStable(r.scenes, func(i, j int) bool {
		return r.scenes[i].pkg.SceneNumber < r.scenes[j].pkg.SceneNumber
	})
}

func bulletList(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(l)
	}
	return b.String()
}

// --- images ---

func (r *run) imagesStage() (stage.Def, error) {
	cfg := r.o.cfg
	tmpl, err := prompt.Load(prompt.ImageTemplate, cfg.TemplatesDir)
	if err != nil {
		return stage.Def{}, err
	}
	style := r.script.OverallStyle
	if style == "" {
		style = cfg.Content.Style
	}
	dir := r.o.store.MediaDir(r.rc.SessionID, pipeline.MediaImages)

	r.assignFrames()
	var items []stage.Item
	for _, sc := range r.scenes {
		for j, v := range sc.pkg.Visuals {
			frameID := sc.frames[j]
			if frameID == "" {
				continue
			}

			text, err := prompt.Render(tmpl, prompt.Vars{
				"prompt":   v.ImagePrompt,
				"style":    style,
				"lighting": v.Lighting,
				"shot":     strings.ReplaceAll(v.ShotType, "_", " "),
			})
			if err != nil {
				return stage.Def{}, fmt.Errorf("frame %s: %w", frameID, err)
			}
			req := media.ImageRequest{
				FrameID:        frameID,
				Prompt:         text,
				NegativePrompt: v.NegativePrompt,
				AspectRatio:    v.AspectRatio,
				Seed:           v.Seed,
				Guidance:       v.GuidanceScale,
				OutFile:        filepath.Join(dir, frameID+r.o.caps.ImageExt),
			}
			items = append(items, assetItem(frameID, func(ctx context.Context) (any, error) {
				img, err := r.o.caps.Images.Render(ctx, req)
				if err != nil {
					return nil, err
				}
				return schema.ImageAsset{
					FrameID:          req.FrameID,
					ImageURI:         img.Path,
					PromptUsed:       req.Prompt,
					Model:            img.Model,
					CFG:              req.Guidance,
					Steps:            img.Steps,
					Seed:             req.Seed,
					SafetyResult:     "safe",
					GenerationTimeMs: img.Elapsed.Milliseconds(),
				}, nil
			}))
		}
	}
	return stage.Def{Schema: schema.ImageAssetName, Items: items}, nil
}

// assignFrames gives every visual a frame id unique across the run. An
// id numbered for another scene, or already claimed, is replaced by the
// scene's first free id.
func (r *run) assignFrames() {
	taken := map[string]bool{}
	for i := range r.scenes {
		sc := &r.scenes[i]
		num := int64(sc.pkg.SceneNumber)
		prefix := strconv.FormatInt(num, 10)
		sc.frames = make([]string, len(sc.pkg.Visuals))
		next := 0
		for j, v := range sc.pkg.Visuals {
			id := v.FrameID
			if taken[id] || strings.TrimRight(id, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != prefix {
				for next < 26 && taken[schema.FrameID(num, next)] {
					next++
				}
				if next == 26 {
					r.rc.Log().Warn("no free frame id, skipping visual", "scene", num, "frame", v.FrameID)
					continue
				}
				id = schema.FrameID(num, next)
			}
			taken[id] = true
			sc.frames[j] = id
		}
	}
}

func (r *run) collectImages(res *pipeline.StageResult) {
	r.images = map[string]imageOut{}
	for _, it := range res.Items {
		if it.State == pipeline.ItemFailed {
			continue
		}
		var a schema.ImageAsset
		if err := it.Record.Decode(&a); err != nil {
			r.rc.Log().Error("decode image asset", "item", it.ID, "error", err)
			continue
		}
		r.images[it.ID] = imageOut{asset: a, degraded: it.State == pipeline.ItemDegraded}
	}
}

// --- voice ---

func (r *run) voiceStage() (stage.Def, error) {
	cfg := r.o.cfg
	dir := r.o.store.MediaDir(r.rc.SessionID, pipeline.MediaAudio)

	items := make([]stage.Item, 0, len(r.scenes))
	for _, sc := range r.scenes {
		pkg := sc.pkg
		voice := cfg.Voice.Voice
		if voice == "" {
			voice = pkg.TTS.Voice
		}
		req := media.SpeechRequest{
			Text:     pkg.Text(),
			Voice:    voice,
			Language: pkg.TTS.Language,
			Speed:    cfg.Voice.Speed,
			OutFile:  filepath.Join(dir, fmt.Sprintf("scene_%02d%s", pkg.SceneNumber, r.o.caps.AudioExt)),
		}
		n := pkg.SceneNumber
		items = append(items, assetItem(strconv.Itoa(n), func(ctx context.Context) (any, error) {
			a, err := r.o.caps.Speech.Synthesize(ctx, req)
			if err != nil {
				return nil, err
			}
			return schema.VoiceAsset{
				SceneNumber: n,
				AudioURI:    a.Path,
				DurationMs:  a.Duration.Milliseconds(),
				Engine:      a.Engine,
				Voice:       a.Voice,
			}, nil
		}))
	}
	return stage.Def{Schema: schema.VoiceAssetName, Items: items}, nil
}

func (r *run) collectVoices(res *pipeline.StageResult) {
	r.voices = map[int]schema.VoiceAsset{}
	for _, it := range res.Items {
		// Degraded voice records point at no real file.
		if it.State != pipeline.ItemSucceeded {
			continue
		}
		var a schema.VoiceAsset
		if err := it.Record.Decode(&a); err != nil {
			r.rc.Log().Error("decode voice asset", "item", it.ID, "error", err)
			continue
		}
		r.voices[a.SceneNumber] = a
	}
}

// --- assembly ---

// minSceneDuration keeps every included scene on screen.
const minSceneDuration = time.Second

func (r *run) timeline() (media.Timeline, int) {
	var tl media.Timeline
	var audio []string
	withAudio := true
	scenes := 0

	for _, sc := range r.scenes {
		var frames []string
		for _, id := range sc.frames {
			img, ok := r.images[id]
			if !ok || img.degraded {
				continue
			}
			frames = append(frames, img.asset.ImageURI)
		}
		if len(frames) == 0 {
			r.rc.Log().Warn("scene has no rendered frames, skipping", "scene", sc.pkg.SceneNumber)
			continue
		}
		scenes++

		dur := time.Duration(sc.pkg.Timing.TotalMs) * time.Millisecond
		if v, ok := r.voices[sc.pkg.SceneNumber]; ok {
			dur = time.Duration(v.DurationMs) * time.Millisecond
			audio = append(audio, v.AudioURI)
		} else {
			withAudio = false
		}
		dur = max(dur, minSceneDuration)

		per := dur / time.Duration(len(frames))
		for i, f := range frames {
			d := per
			if i == len(frames)-1 {
				d = dur - per*time.Duration(len(frames)-1)
			}
			tl.Clips = append(tl.Clips, media.Clip{Image: f, Duration: d})
		}
	}

	// A narration track is only laid down when every scene on screen has one.
	if withAudio {
		tl.Audio = audio
	} else if len(audio) > 0 {
		r.rc.Log().Warn("narration missing for some scenes, encoding without audio")
	}
	return tl, scenes
}

func (r *run) assemblyStage() (stage.Def, error) {
	tl, scenes := r.timeline()
	out := filepath.Join(r.o.store.MediaDir(r.rc.SessionID, pipeline.MediaVideo), "final"+r.o.caps.VideoExt)
	degraded := append([]string{}, r.degraded...)

	item := assetItem("video", func(ctx context.Context) (any, error) {
		v, err := r.o.caps.Video.Encode(ctx, tl, out)
		if err != nil {
			return nil, err
		}
		return schema.VideoAsset{
			VideoURI:       v.Path,
			DurationMs:     v.Duration.Milliseconds(),
			SceneCount:     scenes,
			FrameCount:     len(tl.Clips),
			AudioTracks:    len(tl.Audio),
			DegradedInputs: degraded,
		}, nil
	})
	return stage.Def{Schema: schema.VideoAssetName, Items: []stage.Item{item}}, nil
}
