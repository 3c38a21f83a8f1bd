package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

func TestResolveSlotIndexStability(t *testing.T) {
	for _, id := range []string{"A-01", "IMG_001", "1", "0"} {
		assert.Equal(t, 0, ResolveSlotIndex(id), id)
	}
	for _, id := range []string{"B-02", "IMG_002"} {
		assert.Equal(t, 1, ResolveSlotIndex(id), id)
	}
	assert.Equal(t, 2, ResolveSlotIndex("C-03"))
	assert.Equal(t, 2, ResolveSlotIndex("img-3"))
}

func TestResolveSlotRules(t *testing.T) {
	tests := []struct {
		id       string
		index    int
		rule     SlotRule
		fallback bool
	}{
		{"a-02", 1, RulePlanTagged, false},
		{"IMG3", 2, RulePrefixed, false},
		{"shot_image_2", 1, RuleTrailingDigit, false},
		{"  3 ", 2, RuleTrailingDigit, false},
		{"hero", 0, RuleFallback, true},
		{"", 0, RuleFallback, true},
		{"IMG_007", 0, RuleFallback, true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := ResolveSlot(tt.id)
			assert.Equal(t, tt.index, got.Index)
			assert.Equal(t, tt.rule, got.Rule)
			assert.Equal(t, tt.fallback, got.Fallback)
			assert.GreaterOrEqual(t, got.Index, 0)
			assert.Less(t, got.Index, models.SlotCount)
		})
	}
}

func TestCanonicalIDs(t *testing.T) {
	assert.Equal(t, "S01.02", CanonicalShotID("s1-2"))
	assert.Equal(t, "S01.02", CanonicalShotID("S01_02"))
	assert.Equal(t, "S12.03b", CanonicalShotID("S12.3B"))
	assert.Equal(t, "SHOT-A", CanonicalShotID(" SHOT-A "))

	assert.Equal(t, "S01", CanonicalSceneID("s001"))
	assert.Equal(t, "INT_01", CanonicalSceneID("INT_01"))
}

func TestSceneAndSequenceHelpers(t *testing.T) {
	assert.Equal(t, "S01", SceneIDFromShotID("S01.01"))
	assert.Equal(t, "S02", SceneIDFromShotID("S02-03"))
	assert.Equal(t, "S03", SceneIDFromShotID("S03_01"))
	assert.Equal(t, "", SceneIDFromShotID("S04"))

	assert.Equal(t, "SEQ01", PrimarySequenceID("SEQ01, SEQ02"))
	assert.Equal(t, "SEQ03", PrimarySequenceID("SEQ03/SEQ04"))
	assert.Equal(t, "", PrimarySequenceID("  "))

	assert.Equal(t, "S", ScenePrefix("S03"))
	assert.Equal(t, "EXT", ScenePrefix("EXT-2"))
	assert.Equal(t, "12", ScenePrefix("12"))
}

func TestVideoKeyRoundTrip(t *testing.T) {
	key := VideoKey("kling", "IMG_001")
	assert.Equal(t, "kling_IMG_001", key)

	tool, imageID := SplitVideoKey(key)
	assert.Equal(t, "kling", tool)
	assert.Equal(t, "IMG_001", imageID)

	tool, imageID = SplitVideoKey("runway")
	assert.Equal(t, "runway", tool)
	assert.Empty(t, imageID)
}

func TestShotLookup(t *testing.T) {
	lookup := NewShotLookup([]models.Shot{{ID: "S01.01"}, {ID: "S01.02"}})

	assert.Equal(t, 0, lookup.Find("S01.01"))
	assert.Equal(t, 1, lookup.Find("s1-2"))
	assert.Equal(t, -1, lookup.Find("S09.01"))

	lookup.Add("S02.01", 2)
	assert.Equal(t, 2, lookup.Find("S2_1"))
}
