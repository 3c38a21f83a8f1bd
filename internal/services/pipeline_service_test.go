package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const completeLoad = `{
  "film_metadata": {"title": "夜行", "project_name": "night"},
  "breakdown_data": {
    "sequences": [{"id": "SEQ01", "title": "开场"}],
    "scenes": [{"id": "S01", "sequence_id": "SEQ01", "title": "雨夜"}],
    "shots": [{"id": "S01.01", "scene_id": "S01", "title": "远景",
               "image_prompts": {"universal": {"main_prompt": "A"}}}]
  }
}`

func newService(t *testing.T, quota int64) *PipelineService {
	t.Helper()
	backend, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return newServiceOn(t, backend, quota)
}

// newServiceOn 在已有后端上创建服务；后端由调用方关闭
func newServiceOn(t *testing.T, backend storage.Backend, quota int64) *PipelineService {
	t.Helper()
	gw := storage.NewGateway(backend, quota).WithMetrics(utils.NewMetricsCollector())
	svc := NewPipelineService(gw, []string{"universal", "midjourney"})
	svc.SetMetrics(utils.NewMetricsCollector())
	t.Cleanup(svc.Close)
	return svc
}

func ingest(t *testing.T, svc *PipelineService, text string) *models.IngestResult {
	t.Helper()
	result, err := svc.Ingest(context.Background(), "night", text, IngestOptions{Source: "test"})
	require.NoError(t, err)
	require.Equal(t, models.IngestSuccess, result.Status, result.Message)
	return result
}

func TestImagePatchOnEmptyDocumentIsRefused(t *testing.T) {
	svc := newService(t, 0)
	ctx := context.Background()

	result, err := svc.Ingest(ctx, "night", `{"shots": [{"shot_id": "S01.01", "image_prompts": {"universal": "雨"}}]}`, IngestOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsPreconditionError(err))
	assert.Equal(t, models.IngestRefused, result.Status)
	assert.Equal(t, models.StageImagePromptPatch, result.StageTag)
	require.NotNil(t, result.Error)
	assert.Equal(t, "PRECONDITION_NOT_MET", result.Error.Code)

	stored, err := svc.Gateway.Load(ctx, "night")
	require.NoError(t, err)
	assert.Nil(t, stored)

	doc, err := svc.Document(ctx, "night")
	require.NoError(t, err)
	assert.True(t, doc.IsEmpty())
}

func TestBreakdownAppendsShotIDs(t *testing.T) {
	svc := newService(t, 0)

	narrative := ingest(t, svc, `{"narrative_structure": {
	  "sequences": [{"id": "SEQ01", "title": "开场"}],
	  "scenes": [{"id": "S01", "sequence_id": "SEQ01", "title": "雨夜", "shot_ids": []}]
	}}`)
	assert.Equal(t, models.StageNarrativeStructure, narrative.StageTag)

	result := ingest(t, svc, `{"shots": [{"id": "S01.01", "scene_id": "S01", "title": "远景"}]}`)
	assert.Equal(t, models.StageShotBreakdown, result.StageTag)
	assert.Equal(t, 1, result.MergedCount)

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	assert.Equal(t, []string{"S01.01"}, doc.Breakdown.Scenes[0].ShotIDs)
	assert.True(t, doc.HasStructuralBackbone)
	require.Len(t, doc.Breakdown.Shots, 1)
	assert.Len(t, doc.Breakdown.Shots[0].ImageDesign.AIGeneratedImages["midjourney"], models.SlotCount)
}

func TestBreakdownRequiresBackbone(t *testing.T) {
	svc := newService(t, 0)
	result, err := svc.Ingest(context.Background(), "night", `{"shots": [{"id": "S01.01"}]}`, IngestOptions{})
	assert.True(t, apperrors.IsPreconditionError(err))
	assert.Equal(t, models.IngestRefused, result.Status)
}

func TestCompleteLoadPopulatesDefaults(t *testing.T) {
	svc := newService(t, 0)
	result := ingest(t, svc, completeLoad)
	assert.Equal(t, models.StageCompleteLoad, result.StageTag)

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	shot := doc.Breakdown.Shots[0]
	assert.Equal(t, "A", shot.ImagePrompts["universal"].MainPrompt)
	assert.Contains(t, shot.ImagePrompts, "midjourney")
	assert.Len(t, shot.ImageDesign.AIGeneratedImages["universal"], models.SlotCount)
	assert.Len(t, shot.ReferenceImages, models.SlotCount)
	assert.Len(t, shot.MainImages, models.SlotCount)
	assert.Equal(t, []string{"S01.01"}, doc.Breakdown.Scenes[0].ShotIDs)

	caches, err := svc.Caches(context.Background(), "night")
	require.NoError(t, err)
	assert.Equal(t, "A", caches.ImagePrompts["S01.01"]["universal"].MainPrompt)
}

func TestImagePatchWritesResolvedSlots(t *testing.T) {
	svc := newService(t, 0)
	ingest(t, svc, completeLoad)

	result := ingest(t, svc, `{"shots": [{
	  "shot_id": "S01.01",
	  "image_prompts": {"nanobana": {"main_prompt": "B"}},
	  "generated_images": [
	    {"tool": "midjourney", "image_id": "B-02", "url": "b.png"},
	    {"tool": "midjourney", "image_id": "hero", "url": "h.png"}
	  ]
	}]}`)
	assert.Equal(t, []string{"S01.01:hero"}, result.SlotFallbacks)

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	shot := doc.Breakdown.Shots[0]
	assert.Equal(t, "A", shot.ImagePrompts["universal"].MainPrompt)
	assert.Equal(t, "B", shot.ImagePrompts["nanobana"].MainPrompt)

	slots := shot.ImageDesign.AIGeneratedImages["midjourney"]
	require.Len(t, slots, models.SlotCount)
	assert.Equal(t, "h.png", slots[0].URL)
	assert.Equal(t, "b.png", slots[1].URL)
	assert.True(t, slots[2].IsEmpty())

	caches, err := svc.Caches(context.Background(), "night")
	require.NoError(t, err)
	assert.Equal(t, "B", caches.ImagePrompts["S01.01"]["nanobana"].MainPrompt)
	assert.Equal(t, "b.png", caches.ResolvedURLs["S01.01"]["midjourney_1"])
}

func TestVideoPromptsAccumulateAcrossIngests(t *testing.T) {
	svc := newService(t, 0)
	ingest(t, svc, completeLoad)

	ingest(t, svc, `{"video_prompts": [{"shot_id": "S01.01", "tool": "kling", "image_id": "A-01", "prompt": "推"}]}`)
	ingest(t, svc, `{"video_prompts": [{"shot_id": "S01.01", "tool": "kling", "image_id": "B-02", "prompt": "摇", "url": "v.mp4"}]}`)

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	prompts := doc.Breakdown.Shots[0].VideoPrompts
	require.Len(t, prompts, 2)
	assert.Equal(t, "推", prompts["kling_A-01"].Prompt)
	assert.Equal(t, "摇", prompts["kling_B-02"].Prompt)
	assert.Equal(t, "v.mp4", doc.Breakdown.Shots[0].VideoURLs["kling_B-02"])
}

func TestMissingReferencesAreReported(t *testing.T) {
	svc := newService(t, 0)
	ingest(t, svc, completeLoad)

	result := ingest(t, svc, `{"audio_data": {"shots": [
	  {"shot_id": "S01.01", "narration": "那一夜"},
	  {"shot_id": "S09.01", "narration": "不存在"}
	]}}`)
	assert.Equal(t, 1, result.MergedCount)
	assert.Equal(t, []string{"S09.01"}, result.MissingReferences)
	assert.Contains(t, result.Message, "1/2")

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	assert.Equal(t, "那一夜", doc.Breakdown.Shots[0].Content.Narration)
}

func TestMissingReferencesAreListedOnce(t *testing.T) {
	svc := newService(t, 0)
	ingest(t, svc, completeLoad)

	result := ingest(t, svc, `{"video_prompts": [
	  {"shot_id": "S09.01", "tool": "kling", "image_id": "A-01", "prompt": "推"},
	  {"shot_id": "S09.01", "tool": "kling", "image_id": "B-02", "prompt": "摇"}
	]}`)
	assert.Zero(t, result.MergedCount)
	assert.Equal(t, []string{"S09.01"}, result.MissingReferences)
}

func TestImagePatchKeepsEveryRecordField(t *testing.T) {
	svc := newService(t, 0)
	ingest(t, svc, completeLoad)

	result := ingest(t, svc, `{"shots": [{
	  "shot_id": "S01.01",
	  "scene_id": "S07",
	  "description": "新描述",
	  "content": {"narration": "旁白"},
	  "image_prompts": {"universal": {"main_prompt": "B"}},
	  "video_prompts": {"universal_A-01": {"prompt": "V"}},
	  "video_urls": {"universal_A-01": "v.mp4"},
	  "generated_images": [{"image_id": "A-01", "url": "a.png"}]
	}]}`)
	assert.Equal(t, models.StageImagePromptPatch, result.StageTag)
	assert.Equal(t, 1, result.MergedCount)

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	shot := doc.Breakdown.Shots[0]
	assert.Equal(t, "S01.01", shot.ID)
	assert.Equal(t, "S01", shot.SceneID)
	assert.Equal(t, "远景", shot.Title)
	assert.Equal(t, "新描述", shot.Description)
	assert.Equal(t, "旁白", shot.Content.Narration)
	assert.Equal(t, "B", shot.ImagePrompts["universal"].MainPrompt)
	assert.Equal(t, "V", shot.VideoPrompts["universal_A-01"].Prompt)
	assert.Equal(t, "v.mp4", shot.VideoURLs["universal_A-01"])

	// 未写工具名的生成图归入 universal，images[] 与槽位一致
	assert.Equal(t, "a.png", shot.ImageDesign.AIGeneratedImages["universal"][0].URL)
	require.Len(t, shot.Images, 1)
	assert.Equal(t, "universal", shot.Images[0].Tool)

	caches, err := svc.Caches(context.Background(), "night")
	require.NoError(t, err)
	assert.Equal(t, "V", caches.VideoPrompts["S01.01"]["universal_A-01"].Prompt)
	assert.Equal(t, "v.mp4", caches.ResolvedURLs["S01.01"]["universal_A-01"])
	assert.Equal(t, "a.png", caches.ResolvedURLs["S01.01"]["universal_0"])
}

func TestSyntaxErrorCarriesPosition(t *testing.T) {
	svc := newService(t, 0)
	result, err := svc.Ingest(context.Background(), "night", "{\"a\": 1,\n\"b\" 2}", IngestOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsSyntaxError(err))
	assert.Equal(t, models.IngestError, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, 2, result.Error.Line)
	assert.Equal(t, 5, result.Error.Column)
}

func TestUnrecognizedShape(t *testing.T) {
	svc := newService(t, 0)
	result, err := svc.Ingest(context.Background(), "night", `{"foo": 1}`, IngestOptions{})
	assert.True(t, apperrors.IsUnrecognizedShapeError(err))
	assert.Equal(t, models.IngestError, result.Status)
	assert.Equal(t, models.StageUnknown, result.StageTag)
}

func TestRepairedInputIsReported(t *testing.T) {
	svc := newService(t, 0)
	result := ingest(t, svc, `{"narrative_structure": {"sequences": [{"id": "SEQ01",},],}}`)
	assert.True(t, result.WasFixed)
	assert.Contains(t, result.Repairs, "trailing_commas")
}

func TestCapacityExceededLeavesDocumentUnchanged(t *testing.T) {
	svc := newService(t, 64)
	result, err := svc.Ingest(context.Background(), "night", completeLoad, IngestOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCapacityExceededError(err))
	assert.Equal(t, models.IngestError, result.Status)
	assert.Equal(t, "CAPACITY_EXCEEDED", result.Error.Code)

	stored, err := svc.Gateway.Load(context.Background(), "night")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestCapacityCountsStageCaches(t *testing.T) {
	ctx := context.Background()
	patch := `{"video_prompts": [{"shot_id": "S01.01", "tool": "kling", "image_id": "A-01",
	  "prompt": "` + strings.Repeat("推", 300) + `", "url": "v.mp4"}]}`

	// 不限额地跑一遍，得到合并后文档的大小
	reference := newService(t, 0)
	ingest(t, reference, completeLoad)
	ingest(t, reference, patch)
	merged, err := reference.Document(ctx, "night")
	require.NoError(t, err)
	data, err := json.Marshal(merged)
	require.NoError(t, err)

	backend, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	ingest(t, newServiceOn(t, backend, 0), completeLoad)

	// 文档单独放得下，加上三份缓存就超出
	svc := newServiceOn(t, backend, int64(len(data))+50)
	result, err := svc.Ingest(ctx, "night", patch, IngestOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCapacityExceededError(err))
	assert.Equal(t, models.IngestError, result.Status)

	doc, err := svc.Document(ctx, "night")
	require.NoError(t, err)
	assert.Empty(t, doc.Breakdown.Shots[0].VideoPrompts)
	caches, err := svc.Caches(ctx, "night")
	require.NoError(t, err)
	assert.Empty(t, caches.VideoPrompts)
	assert.Empty(t, caches.ResolvedURLs)
}

func TestServicesSharingStorageDoNotLoseUpdates(t *testing.T) {
	dir := t.TempDir()
	open := func() storage.Backend {
		b, err := storage.NewFileStorage(dir)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}
	server := newServiceOn(t, open(), 0)
	cli := newServiceOn(t, open(), 0)

	ingest(t, server, completeLoad)
	_, err := server.Document(context.Background(), "night")
	require.NoError(t, err)

	ingest(t, cli, `{"audio_data": {"shots": [{"shot_id": "S01.01", "narration": "那一夜"}]}}`)
	ingest(t, server, `{"video_prompts": [{"shot_id": "S01.01", "tool": "kling", "image_id": "A-01", "prompt": "推"}]}`)

	doc, err := newServiceOn(t, open(), 0).Document(context.Background(), "night")
	require.NoError(t, err)
	shot := doc.Breakdown.Shots[0]
	assert.Equal(t, "那一夜", shot.Content.Narration)
	assert.Equal(t, "推", shot.VideoPrompts["kling_A-01"].Prompt)
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []*models.IngestResult
}

func (n *recordingNotifier) Publish(r *models.IngestResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
}

func TestFullBackupNeedsConfirmation(t *testing.T) {
	svc := newService(t, 0)
	notifier := &recordingNotifier{}
	svc.AddNotifier(notifier)
	ctx := context.Background()

	backup := `{"type": "full_backup", "project_name": "night", "data": ` + completeLoad + `}`

	result, err := svc.Ingest(ctx, "night", backup, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.IngestRefused, result.Status)
	assert.True(t, result.RequiresConfirmation)
	stored, err := svc.Gateway.Load(ctx, "night")
	require.NoError(t, err)
	assert.Nil(t, stored)

	var seen models.BackupSummary
	result, err = svc.Ingest(ctx, "night", backup, IngestOptions{Confirm: func(s models.BackupSummary) bool {
		seen = s
		return true
	}})
	require.NoError(t, err)
	assert.Equal(t, models.IngestSuccess, result.Status)
	assert.Equal(t, 1, seen.ShotCount)

	doc, err := svc.Document(ctx, "night")
	require.NoError(t, err)
	assert.Len(t, doc.Breakdown.Shots, 1)
	assert.Len(t, notifier.results, 2)
}

func TestConcurrentIngestsDoNotLoseUpdates(t *testing.T) {
	svc := newService(t, 0)
	ingest(t, svc, completeLoad)

	var wg sync.WaitGroup
	for _, id := range []string{"A-01", "A-02", "A-03", "B-01", "B-02", "B-03"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			text := `{"video_prompts": [{"shot_id": "S01.01", "tool": "kling", "image_id": "` + id + `", "prompt": "p"}]}`
			_, err := svc.Ingest(context.Background(), "night", text, IngestOptions{})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	assert.Len(t, doc.Breakdown.Shots[0].VideoPrompts, 6)
}

func TestResetClearsProject(t *testing.T) {
	svc := newService(t, 0)
	ingest(t, svc, completeLoad)

	n, err := svc.Reset(context.Background(), "night")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	doc, err := svc.Document(context.Background(), "night")
	require.NoError(t, err)
	assert.True(t, doc.IsEmpty())
}

func TestResultSerializesForPresentation(t *testing.T) {
	svc := newService(t, 0)
	result := ingest(t, svc, completeLoad)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"success"`)
	assert.Contains(t, string(data), `"stage_tag":"complete_load"`)
	assert.Contains(t, string(data), `"missing_references":[]`)
}
