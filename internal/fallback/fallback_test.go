package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reelfactory/internal/normalize"
	"github.com/lucasnoah/reelfactory/internal/schema"
)

func TestBuildDefaultPassesValidation(t *testing.T) {
	reg := schema.MustBuiltin()
	b := NewBuilder(reg)

	ids := map[string][]string{
		schema.FullScriptName:   {"", "script"},
		schema.ScenePackageName: {"", "1", "5", "10"},
		schema.ImageAssetName:   {"", "1A", "7c", "12D"},
		schema.VoiceAssetName:   {"", "3"},
		schema.VideoAssetName:   {"", "assembly"},
	}
	for _, name := range reg.Names() {
		s, _ := reg.Get(name)
		for _, id := range ids[name] {
			rec := b.BuildDefault(name, id)
			assert.True(t, rec.Degraded, "%s/%q", name, id)
			assert.Equal(t, name, rec.Schema)
			assert.Empty(t, s.Validate(rec.Data), "%s/%q should validate", name, id)
			assert.Equal(t, rec.Data, normalize.Normalize(rec.Data, s), "%s/%q should already be normalized", name, id)
		}
	}
}

func TestScenePackageFallbackUsesItemID(t *testing.T) {
	b := NewBuilder(schema.MustBuiltin())

	rec := b.BuildDefault(schema.ScenePackageName, "5")
	assert.Equal(t, int64(5), rec.Data["scene_number"])

	var pkg schema.ScenePackage
	require.NoError(t, rec.Decode(&pkg))
	require.NotEmpty(t, pkg.NarrationScript)
	assert.NotEmpty(t, pkg.NarrationScript[0].Line)
	require.Len(t, pkg.Visuals, 1)
	assert.Equal(t, "5A", pkg.Visuals[0].FrameID)
	assert.Contains(t, pkg.SafetyChecks, "fallback_data_used")
}

func TestImageAssetFallbackUsesFrameID(t *testing.T) {
	b := NewBuilder(schema.MustBuiltin())

	rec := b.BuildDefault(schema.ImageAssetName, "4b")
	assert.Equal(t, "4B", rec.Data["frame_id"])
	assert.Equal(t, "placeholder://frame/4B", rec.Data["image_uri"])
}

func TestFullScriptFallbackHasThreeScenes(t *testing.T) {
	b := NewBuilder(schema.MustBuiltin())

	var script schema.FullScript
	require.NoError(t, b.BuildDefault(schema.FullScriptName, "").Decode(&script))
	require.Len(t, script.Scenes, 3)
	assert.Equal(t, "hook", script.Scenes[0].SceneType)
	assert.Equal(t, "end", script.Scenes[2].TransitionToNext)
}

func TestUnknownSchema(t *testing.T) {
	b := NewBuilder(schema.MustBuiltin())
	rec := b.BuildDefault("Missing", "1")
	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Data)
}

func TestPlaceholderPadding(t *testing.T) {
	f := &schema.Field{Kind: schema.String, MinLength: 40}
	assert.GreaterOrEqual(t, len(placeholder(f)), 40)

	f = &schema.Field{Kind: schema.String, Placeholder: "Untitled", MinLength: 5, MaxLength: 6}
	assert.Equal(t, "Untitl", placeholder(f))
}
