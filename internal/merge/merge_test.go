package merge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

func baseShot() models.Shot {
	return models.Shot{
		ID:          "S01.01",
		SceneID:     "S01",
		Title:       "远景",
		Description: "雨夜街道",
		Camera:      models.Camera{Movement: "推"},
		Content: models.ShotContent{
			Dialogue:  map[string]string{"小林": "走吧"},
			AudioURLs: models.AudioURLs{Dialogue: map[string][]string{"小林": {"a1.mp3"}}},
		},
		ImagePrompts: map[string]models.ToolPrompt{
			"universal": {MainPrompt: "A"},
		},
		ImageDesign: models.ImageDesign{
			AIGeneratedImages: map[string][]models.ImageSlot{
				"midjourney": {{URL: "mj-0.png"}},
			},
		},
		VideoPrompts: map[string]models.VideoPrompt{},
		VideoURLs:    map[string]string{},
	}
}

func TestShotIsNonDestructive(t *testing.T) {
	existing := baseShot()
	incoming := models.Shot{
		ID: "S01.01",
		ImagePrompts: map[string]models.ToolPrompt{
			"nanobana": {MainPrompt: "B"},
		},
	}

	merged := Shot(existing, incoming)

	assert.Equal(t, "A", merged.ImagePrompts["universal"].MainPrompt)
	assert.Equal(t, "B", merged.ImagePrompts["nanobana"].MainPrompt)
	assert.Equal(t, "远景", merged.Title)
	assert.Equal(t, "推", merged.Camera.Movement)
	assert.Equal(t, "走吧", merged.Content.Dialogue["小林"])
	assert.Equal(t, "mj-0.png", merged.ImageDesign.AIGeneratedImages["midjourney"][0].URL)
}

func TestShotEmptyFieldsNeverOverwrite(t *testing.T) {
	existing := baseShot()
	incoming := models.Shot{
		Title:        "  ",
		ImagePrompts: map[string]models.ToolPrompt{"universal": {NegativePrompt: "blurry"}},
		Content:      models.ShotContent{Dialogue: map[string]string{"小林": ""}},
	}

	merged := Shot(existing, incoming)

	assert.Equal(t, "远景", merged.Title)
	assert.Equal(t, models.ToolPrompt{MainPrompt: "A", NegativePrompt: "blurry"}, merged.ImagePrompts["universal"])
	assert.Equal(t, "走吧", merged.Content.Dialogue["小林"])
}

func TestShotDoesNotMutateInputs(t *testing.T) {
	existing := baseShot()
	incoming := models.Shot{
		ImagePrompts: map[string]models.ToolPrompt{"universal": {MainPrompt: "C"}},
		ImageDesign: models.ImageDesign{AIGeneratedImages: map[string][]models.ImageSlot{
			"midjourney": {{}, {URL: "mj-1.png"}},
		}},
		Content: models.ShotContent{AudioURLs: models.AudioURLs{
			Dialogue: map[string][]string{"小林": {"a2.mp3"}},
		}},
	}
	existingBefore := baseShot()

	merged := Shot(existing, incoming)

	if diff := cmp.Diff(existingBefore, existing); diff != "" {
		t.Fatalf("existing shot mutated (-before +after):\n%s", diff)
	}
	assert.Equal(t, "C", merged.ImagePrompts["universal"].MainPrompt)
	assert.Equal(t, []string{"a1.mp3", "a2.mp3"}, merged.Content.AudioURLs.Dialogue["小林"])
	assert.Len(t, existing.ImageDesign.AIGeneratedImages["midjourney"], 1)
}

func TestDisjointMergesCommute(t *testing.T) {
	a := models.Shot{ImagePrompts: map[string]models.ToolPrompt{"seedream": {MainPrompt: "雨"}}}
	b := models.Shot{Content: models.ShotContent{Narration: "那一夜"}, VideoURLs: map[string]string{"kling_A-01": "v.mp4"}}

	ab := Shot(Shot(baseShot(), a), b)
	ba := Shot(Shot(baseShot(), b), a)

	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Fatalf("disjoint merges differ (-ab +ba):\n%s", diff)
	}
}

func TestSameFieldLastNonEmptyWins(t *testing.T) {
	first := models.Shot{Title: "一"}
	second := models.Shot{Title: "二"}
	assert.Equal(t, "二", Shot(Shot(baseShot(), first), second).Title)
	assert.Equal(t, "一", Shot(Shot(baseShot(), second), first).Title)
}

func TestVideoPromptsAccumulate(t *testing.T) {
	shot := baseShot()
	shot = Shot(shot, models.Shot{VideoPrompts: map[string]models.VideoPrompt{
		"kling_A-01": {Tool: "kling", ImageID: "A-01", Prompt: "缓慢推进"},
	}})
	shot = Shot(shot, models.Shot{VideoPrompts: map[string]models.VideoPrompt{
		"kling_B-02": {Tool: "kling", ImageID: "B-02", Prompt: "横移"},
	}})

	require.Len(t, shot.VideoPrompts, 2)
	assert.Equal(t, "缓慢推进", shot.VideoPrompts["kling_A-01"].Prompt)
	assert.Equal(t, "横移", shot.VideoPrompts["kling_B-02"].Prompt)
}

func TestSlotsPadAndWrite(t *testing.T) {
	existing := []models.ImageSlot{{URL: "0.png"}}

	out := WriteSlot(existing, 2, models.ImageSlot{URL: "2.png", Description: "第三张"})
	require.Len(t, out, models.SlotCount)
	assert.Equal(t, "0.png", out[0].URL)
	assert.True(t, out[1].IsEmpty())
	assert.Equal(t, "2.png", out[2].URL)
	assert.Len(t, existing, 1)

	out = WriteSlot(out, 0, models.ImageSlot{Description: "只改描述"})
	assert.Equal(t, models.ImageSlot{URL: "0.png", Description: "只改描述"}, out[0])

	unchanged := WriteSlot(out, 1, models.ImageSlot{})
	assert.True(t, unchanged[1].IsEmpty())

	long := []models.ImageSlot{{URL: "a"}, {URL: "b"}, {URL: "c"}, {URL: "d"}}
	assert.Len(t, ImageSlots(long, []models.ImageSlot{{URL: "x"}}), 4)
}

func TestReferenceSlots(t *testing.T) {
	merged := ReferenceSlots(nil, []models.ReferenceImage{{}, {URL: "ref.png", Type: "character"}})
	require.Len(t, merged, models.SlotCount)
	assert.True(t, merged[0].IsEmpty())
	assert.Equal(t, "character", merged[1].Type)

	merged = WriteReference(merged, 1, models.ReferenceImage{Description: "主角"})
	assert.Equal(t, models.ReferenceImage{URL: "ref.png", Description: "主角", Type: "character"}, merged[1])
}

func TestImagesAccumulateByID(t *testing.T) {
	existing := []models.ShotImage{
		{ImageID: "A-01", Tool: "midjourney", URL: "1.png"},
		{ImageID: "A-02", Tool: "midjourney"},
	}
	incoming := []models.ShotImage{
		{ImageID: "A-02", URL: "2.png"},
		{ImageID: "A-03", URL: "3.png"},
		{},
	}

	out := Images(existing, incoming)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"A-01", "A-02", "A-03"}, []string{out[0].ImageID, out[1].ImageID, out[2].ImageID})
	assert.Equal(t, models.ShotImage{ImageID: "A-02", Tool: "midjourney", URL: "2.png"}, out[1])
	assert.Empty(t, existing[1].URL)
}

func TestSceneShotIDsAppendOnly(t *testing.T) {
	existing := models.Scene{ID: "S01", Title: "雨夜", ShotIDs: []string{"S01.01", "S01.02"}}
	incoming := models.Scene{ID: "S01", ShotIDs: []string{"S01.03", "S01.01"}}

	merged := Scene(existing, incoming)
	assert.Equal(t, []string{"S01.01", "S01.02", "S01.03"}, merged.ShotIDs)
	assert.Equal(t, "雨夜", merged.Title)
	assert.Equal(t, []string{"S01.01", "S01.02"}, existing.ShotIDs)
}

func TestAppendUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, AppendUnique([]string{"a", "", "b", "a"}, "c", "b"))
	assert.Equal(t, []string{}, AppendUnique(nil))
}

func TestShotDefaults(t *testing.T) {
	shot := ShotDefaults(baseShot(), []string{"universal", "seedream"})

	assert.Equal(t, "A", shot.ImagePrompts["universal"].MainPrompt)
	assert.Contains(t, shot.ImagePrompts, "seedream")
	require.Len(t, shot.ImageDesign.AIGeneratedImages["seedream"], models.SlotCount)
	require.Len(t, shot.ImageDesign.AIGeneratedImages["midjourney"], models.SlotCount)
	assert.Equal(t, "mj-0.png", shot.ImageDesign.AIGeneratedImages["midjourney"][0].URL)
	assert.Len(t, shot.ReferenceImages, models.SlotCount)
	assert.Len(t, shot.MainImages, models.SlotCount)
	assert.NotNil(t, shot.Images)
	assert.NotNil(t, shot.Content.AudioURLs.Narration)

	again := ShotDefaults(shot, []string{"universal", "seedream"})
	if diff := cmp.Diff(shot, again); diff != "" {
		t.Fatalf("defaults not idempotent (-first +second):\n%s", diff)
	}
}
