package classify

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

func input(t *testing.T, text string) Input {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return NewInput(v)
}

const completeDoc = `{
  "film_metadata": {"title": "夜行"},
  "breakdown_data": {
    "sequences": [{"id": "SEQ01"}],
    "scenes": [{"id": "S01", "sequence_id": "SEQ01"}],
    "shots": [{"id": "S01.01", "image_prompts": {"universal": {"main_prompt": "雨"}}}]
  }
}`

func TestClassifyPriorityChain(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  models.StageTag
	}{
		{"complete load", completeDoc, models.StageCompleteLoad},
		{"scene patch beats image prompts", `{"current_scene": "S01", "shots": [{"shot_id": "S01.01", "image_prompts": {"mj": "x"}}]}`, models.StageScenePatch},
		{"narrative backbone", `{"sequences": [{"id": "SEQ01"}], "scenes": [{"id": "S01"}]}`, models.StageNarrativeStructure},
		{"treatment payload", `{"treatment": {"sequences": [{"id": "SEQ01"}]}}`, models.StageNarrativeStructure},
		{"image prompts beat video prompts", `{"shots": [{"shot_id": "S01.01", "image_prompts": {}, "video_prompts": {"kling_A-01": "推"}}]}`, models.StageImagePromptPatch},
		{"generated images", `{"shots": [{"shot_id": "S01.01", "generated_images": []}]}`, models.StageImagePromptPatch},
		{"video array", `{"video_prompts": [{"shot_id": "S01.01", "tool": "kling", "image_id": "A-01", "prompt": "推"}]}`, models.StageVideoPromptPatch},
		{"video map", `{"video_prompts": {"S01.01": {"kling_A-01": {"prompt": "推"}}}}`, models.StageVideoPromptPatch},
		{"video in shot records", `{"shots": [{"shot_id": "S01.01", "video_prompts": {"kling_A-01": "推"}}]}`, models.StageVideoPromptPatch},
		{"audio", `{"audio_data": {"shots": [{"shot_id": "S01.01", "narration": "夜"}]}}`, models.StageAudioPatch},
		{"full backup", `{"type": "full_backup", "data": ` + completeDoc + `}`, models.StageBackupRestore},
		{"url backup", `{"type": "url_backup", "shots": {}}`, models.StageBackupRestore},
		{"shot breakdown", `{"shots": [{"id": "S01.01", "scene_id": "S01"}]}`, models.StageShotBreakdown},
		{"nested shot breakdown", `{"breakdown_data": {"shots": [{"shot_id": "S01.02"}]}}`, models.StageShotBreakdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(t, tt.input)
			assert.Equal(t, tt.want, Tag(in))

			frag, err := Classify(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, frag.Stage())
		})
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	for _, text := range []string{`{"foo": 1}`, `[1, 2]`, `{"shots": [{"title": "无ID"}]}`} {
		_, err := Classify(input(t, text))
		assert.True(t, apperrors.IsUnrecognizedShapeError(err), text)
	}
}

func TestRuleOrderIsLoadBearing(t *testing.T) {
	in := input(t, `{"shots": [{"shot_id": "S01.01", "image_prompts": {}, "video_prompts": {"kling_A-01": "推"}}]}`)

	var image, video Rule
	for _, r := range Rules {
		switch r.Tag {
		case models.StageImagePromptPatch:
			image = r
		case models.StageVideoPromptPatch:
			video = r
		}
	}

	frag, err := ClassifyWith([]Rule{video, image}, in)
	require.NoError(t, err)
	assert.Equal(t, models.StageVideoPromptPatch, frag.Stage())

	frag, err = ClassifyWith([]Rule{image, video}, in)
	require.NoError(t, err)
	assert.Equal(t, models.StageImagePromptPatch, frag.Stage())
}

func TestBuildScenePatch(t *testing.T) {
	frag, err := Classify(input(t, `{
	  "current_scene": "S02",
	  "scene": {"title": "天台", "location": "屋顶"},
	  "shots": [{"shot_id": "S02.01", "title": "俯拍"}, {"title": "无ID"}]
	}`))
	require.NoError(t, err)

	patch := frag.(*ScenePatchFragment)
	assert.Equal(t, "S02", patch.SceneID)
	require.NotNil(t, patch.Scene)
	assert.Equal(t, "S02", patch.Scene.ID)
	assert.Equal(t, "屋顶", patch.Scene.Location)
	require.Len(t, patch.Shots, 1)
	assert.Equal(t, "S02", patch.Shots[0].SceneID)
}

func TestBuildImagePromptRecords(t *testing.T) {
	frag, err := Classify(input(t, `{"shots": [{
	  "shot_id": "S01.01",
	  "scene_id": "S01",
	  "description": "新描述",
	  "image_prompts": {"universal": {"main_prompt": "雨夜", "negative_prompt": "模糊"}, "nanobana": "霓虹"},
	  "image_design": {"selected_plan": "B"},
	  "video_urls": {"kling_A-01": "v.mp4"},
	  "generated_images": [{"tool": "midjourney", "image_id": "B-02", "url": "b.png"}]
	}]}`))
	require.NoError(t, err)

	rec := frag.(*ImagePromptFragment).Records[0]
	assert.Equal(t, "S01.01", rec.ShotID)
	assert.Empty(t, rec.Shot.ID)
	assert.Empty(t, rec.Shot.SceneID)
	assert.Equal(t, "新描述", rec.Shot.Description)
	assert.Equal(t, "模糊", rec.Shot.ImagePrompts["universal"].NegativePrompt)
	assert.Equal(t, "霓虹", rec.Shot.ImagePrompts["nanobana"].MainPrompt)
	assert.Equal(t, "B", rec.Shot.ImageDesign.SelectedPlan)
	assert.Equal(t, "v.mp4", rec.Shot.VideoURLs["kling_A-01"])
	assert.Equal(t, []GeneratedImage{{Tool: "midjourney", ImageID: "B-02", URL: "b.png"}}, rec.Generated)
}

func TestBuildVideoEntries(t *testing.T) {
	frag, err := Classify(input(t, `{"video_prompts": [
	  {"shot_id": "S01.01", "tool": "kling", "image_id": "A-01", "prompt": "推", "url": "v1.mp4"},
	  {"shot_id": "S01.01", "key": "runway_IMG_002", "prompt": "摇"},
	  {"shot_id": "S01.01", "prompt": "缺少键"}
	]}`))
	require.NoError(t, err)

	entries := frag.(*VideoPromptFragment).Entries
	require.Len(t, entries, 2)
	assert.Equal(t, "kling_A-01", entries[0].Key)
	assert.Equal(t, "v1.mp4", entries[0].URL)
	assert.Equal(t, "runway", entries[1].Prompt.Tool)
	assert.Equal(t, "IMG_002", entries[1].Prompt.ImageID)
}

func TestBuildAudioRecords(t *testing.T) {
	frag, err := Classify(input(t, `{"audio_data": {"shots": [
	  {"shot_id": "S01.01", "dialogue": {"小林": "走吧"}, "audio_urls": {"dialogue": {"小林": "l.mp3"}, "narration": ["n.mp3"]}}
	]}}`))
	require.NoError(t, err)

	rec := frag.(*AudioFragment).Records[0]
	assert.Equal(t, "走吧", rec.Content.Dialogue["小林"])
	assert.Equal(t, []string{"l.mp3"}, rec.Content.AudioURLs.Dialogue["小林"])
	assert.Equal(t, []string{"n.mp3"}, rec.Content.AudioURLs.Narration)
}

func TestBuildBackups(t *testing.T) {
	frag, err := Classify(input(t, `{"type": "full_backup", "project_name": "夜行", "exported_at": "2026-01-01T00:00:00Z", "data": `+completeDoc+`}`))
	require.NoError(t, err)
	full := frag.(*BackupFragment)
	require.NotNil(t, full.Document)
	assert.Equal(t, models.BackupSummary{
		ProjectName: "夜行", ExportedAt: "2026-01-01T00:00:00Z",
		SequenceCount: 1, SceneCount: 1, ShotCount: 1,
	}, full.Summary())

	frag, err = Classify(input(t, `{"type": "url_backup", "shots": {"S01.01": {
	  "image_design": {"ai_generated_images": {"midjourney": [{"url": "0.png"}, {}, {"url": "2.png"}]}},
	  "video_urls": {"kling_A-01": "v.mp4"},
	  "content": {"audio_urls": {"narration": ["n.mp3"]}}
	}}}`))
	require.NoError(t, err)
	urls := frag.(*BackupFragment).URLs["S01.01"]
	assert.Len(t, urls.AIGeneratedImages["midjourney"], 3)
	assert.Equal(t, "v.mp4", urls.VideoURLs["kling_A-01"])
	require.NotNil(t, urls.AudioURLs)
	assert.Equal(t, []string{"n.mp3"}, urls.AudioURLs.Narration)

	_, err = Classify(input(t, `{"type": "full_backup", "data": {"foo": 1}}`))
	assert.True(t, apperrors.IsUnrecognizedShapeError(err))
}
