package normalize

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

func decodeJSON(t *testing.T, text string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

const canonicalDoc = `{
  "film_metadata": {"title": "夜行", "genre": "悬疑", "schema_version": "2.1"},
  "breakdown_data": {
    "sequences": [{"id": "SEQ01", "title": "开场"}],
    "scenes": [
      {"id": "S01", "sequence_id": "SEQ01", "title": "雨夜", "shot_ids": ["S01.02"]},
      {"id": "S02", "sequence_id": "SEQ01", "title": "天台"}
    ],
    "shots": [
      {"id": "S01.01", "title": "远景", "duration": 3.5},
      {"id": "S01.02", "scene_id": "S01", "title": "特写"},
      {"id": "S02-01", "title": "俯拍"}
    ]
  },
  "hasStructuralBackbone": true
}`

func TestDetectShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Shape
	}{
		{"canonical", canonicalDoc, ShapeCanonical},
		{"pass through top level", `{"sequences": [{"id": "SEQ01"}], "scenes": [{"id": "S01"}]}`, ShapePassThrough},
		{"pass through nested", `{"breakdown_data": {"sequences": [{"id": "SEQ01"}], "scenes": [{"id": "S01"}]}}`, ShapePassThrough},
		{"flat scene", `{"scenes": [{"id": "S01", "shots": []}]}`, ShapeFlatScene},
		{"legacy", `{"project": {"name": "x"}, "scenes": [{"scene_id": "OP1", "shots": []}]}`, ShapeLegacyFlat},
		{"shot fragment", `{"shots": [{"shot_id": "S01.01"}]}`, ShapeUnknown},
		{"scenes without shots", `{"scenes": [{"id": "S01"}]}`, ShapeUnknown},
		{"not an object", `[1, 2]`, ShapeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(decodeJSON(t, tt.input)))
		})
	}
}

func TestNormalizeCanonicalBackfill(t *testing.T) {
	doc, shape := Normalize(decodeJSON(t, canonicalDoc))
	require.NotNil(t, doc)
	assert.Equal(t, ShapeCanonical, shape)

	assert.Equal(t, models.CanonicalSchemaVersion, doc.Metadata.SchemaVersion)
	assert.Equal(t, "canonical", doc.Metadata.SourceSchema)
	assert.True(t, doc.HasStructuralBackbone)

	assert.Equal(t, "S01", doc.Breakdown.Shots[0].SceneID)
	assert.Equal(t, "3.5", doc.Breakdown.Shots[0].Duration)
	assert.Equal(t, "S02", doc.Breakdown.Shots[2].SceneID)

	assert.Equal(t, []string{"S01.02", "S01.01"}, doc.Breakdown.Scenes[0].ShotIDs)
	assert.Equal(t, []string{"S02-01"}, doc.Breakdown.Scenes[1].ShotIDs)
}

func TestBackfillIsIdempotent(t *testing.T) {
	first, _ := Normalize(decodeJSON(t, canonicalDoc))
	require.NotNil(t, first)

	data, err := json.Marshal(first)
	require.NoError(t, err)
	second, shape := Normalize(decodeJSON(t, string(data)))
	require.NotNil(t, second)
	assert.Equal(t, ShapeCanonical, shape)

	if diff := cmp.Diff(first.Breakdown, second.Breakdown); diff != "" {
		t.Fatalf("second normalization changed breakdown (-first +second):\n%s", diff)
	}

	again, err := second.Clone()
	require.NoError(t, err)
	Backfill(again)
	assert.Equal(t, second.Breakdown.Scenes, again.Breakdown.Scenes)
}

func TestNormalizeFlatScene(t *testing.T) {
	raw := decodeJSON(t, `{
	  "title": "城市之光",
	  "scenes": [
	    {"id": "S01", "sequence": "SEQ02, SEQ03", "title": "清晨", "shots": [
	      {"shot_id": "S01.01", "description": "街道"},
	      {"description": "路人"}
	    ]},
	    {"id": "S02", "title": "午后", "shots": [{"id": "S02.01"}]},
	    {"id": "S03", "sequences": ["SEQ02"], "shots": []}
	  ]
	}`)

	doc, shape := Normalize(raw)
	require.NotNil(t, doc)
	assert.Equal(t, ShapeFlatScene, shape)
	assert.Equal(t, "城市之光", doc.Metadata.Title)

	require.Len(t, doc.Breakdown.Sequences, 2)
	assert.Equal(t, "SEQ02", doc.Breakdown.Sequences[0].ID)
	assert.Equal(t, DefaultSequenceID, doc.Breakdown.Sequences[1].ID)

	assert.Equal(t, "SEQ02", doc.Breakdown.Scenes[0].SequenceID)
	assert.Equal(t, DefaultSequenceID, doc.Breakdown.Scenes[1].SequenceID)
	assert.Equal(t, "SEQ02", doc.Breakdown.Scenes[2].SequenceID)

	require.Len(t, doc.Breakdown.Shots, 3)
	assert.Equal(t, "S01.02", doc.Breakdown.Shots[1].ID)
	assert.Equal(t, []string{"S01.01", "S01.02"}, doc.Breakdown.Scenes[0].ShotIDs)
	assert.Empty(t, doc.Breakdown.Scenes[2].ShotIDs)
	assert.True(t, doc.HasStructuralBackbone)
}

func TestNormalizeLegacyFlat(t *testing.T) {
	raw := decodeJSON(t, `{
	  "project": {"name": "新品发布", "type": "广告", "concept": "一瓶水的旅程", "brand": "清泉", "duration": "60s"},
	  "global_defaults": {"style": "胶片质感", "aspect_ratio": "16:9", "shot_duration": "3s"},
	  "scenes": [
	    {"scene_id": "OP1", "title": "山间", "shots": [
	      {"shot_id": "OP1.01", "shot_title": "航拍", "action": "镜头掠过山脊",
	       "camera": {"movement": "推", "angle": "俯视"},
	       "sound": {"sfx": "风声", "music": "弦乐", "voiceover": "每一滴水"},
	       "image_plan": [{"description": "雾中山峰"}, {"description": "溪流特写"}]}
	    ]},
	    {"scene_id": "OP2", "shots": [{"id": "OP2.01", "camera_movement": "摇", "duration": "5s"}]},
	    {"scene_id": "X1", "shots": []}
	  ]
	}`)

	doc, shape := Normalize(raw)
	require.NotNil(t, doc)
	assert.Equal(t, ShapeLegacyFlat, shape)

	meta := doc.Metadata
	assert.Equal(t, "新品发布", meta.Title)
	assert.Equal(t, "广告", meta.Genre)
	assert.Equal(t, "一瓶水的旅程", meta.Logline)
	assert.Equal(t, "胶片质感", meta.VisualStyle)
	assert.Equal(t, "16:9", meta.AspectRatio)
	assert.Equal(t, "清泉", meta.Client)
	assert.Equal(t, "legacy_flat", meta.SourceSchema)
	assert.Equal(t, models.CanonicalSchemaVersion, meta.SchemaVersion)

	require.Len(t, doc.Breakdown.Sequences, 2)
	assert.Equal(t, models.Sequence{ID: "SEQ01", Title: "开场", Function: "建立人物与世界"}, doc.Breakdown.Sequences[0])
	assert.Equal(t, "Sequence X", doc.Breakdown.Sequences[1].Title)
	assert.Equal(t, "SEQ01", doc.Breakdown.Scenes[1].SequenceID)
	assert.Equal(t, "SEQ02", doc.Breakdown.Scenes[2].SequenceID)

	first := doc.Breakdown.Shots[0]
	assert.Equal(t, "航拍", first.Title)
	assert.Equal(t, "镜头掠过山脊", first.Description)
	assert.Equal(t, "推", first.Camera.Movement)
	assert.Equal(t, "风声", first.Content.SoundEffects)
	assert.Equal(t, "每一滴水", first.Content.Narration)
	assert.Equal(t, "3s", first.Duration)
	require.Len(t, first.ImageDesign.Plans, 2)
	assert.Equal(t, "B", first.ImageDesign.Plans[1].PlanID)

	second := doc.Breakdown.Shots[1]
	assert.Equal(t, "摇", second.Camera.Movement)
	assert.Equal(t, "5s", second.Duration)
	assert.Equal(t, "OP2", second.SceneID)

	assert.Equal(t, []string{"OP1.01"}, doc.Breakdown.Scenes[0].ShotIDs)
	assert.True(t, doc.HasStructuralBackbone)
}

func TestNormalizeUnknownReturnsNil(t *testing.T) {
	doc, shape := Normalize(decodeJSON(t, `{"video_prompts": {}}`))
	assert.Nil(t, doc)
	assert.Equal(t, ShapeUnknown, shape)
}

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte("sequences:\n  - prefix: A\n    title: 序章\n"))
	require.NoError(t, err)
	got, ok := seed.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, "序章", got.Title)

	_, ok = seed.Lookup("B")
	assert.False(t, ok)

	_, err = ParseSeed([]byte("sequences: [unterminated"))
	assert.Error(t, err)
}

func TestDecodeDialogueVariants(t *testing.T) {
	assert.Equal(t, map[string]string{"小林": "走吧"}, DecodeDialogue(map[string]any{"小林": "走吧"}))
	assert.Equal(t, map[string]string{DefaultSpeaker: "旁白"}, DecodeDialogue("旁白"))
	assert.Equal(t,
		map[string]string{"A": "一\n二"},
		DecodeDialogue([]any{
			map[string]any{"character": "A", "line": "一"},
			map[string]any{"character": "A", "line": "二"},
		}))
}
