package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

func newExportService(t *testing.T) (*PipelineService, *ExportService) {
	svc := newService(t, 0)
	exp := NewExportService(svc)
	exp.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return svc, exp
}

func TestExportEmptyProject(t *testing.T) {
	_, exp := newExportService(t)
	_, err := exp.Export(context.Background(), "night", "full")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestExportUnknownType(t *testing.T) {
	svc, exp := newExportService(t)
	ingest(t, svc, completeLoad)
	_, err := exp.Export(context.Background(), "night", "zip")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestFullBackupRoundTrip(t *testing.T) {
	svc, exp := newExportService(t)
	ctx := context.Background()
	ingest(t, svc, completeLoad)
	ingest(t, svc, `{"video_prompts": [{"shot_id": "S01.01", "tool": "kling", "image_id": "A-01", "prompt": "推", "url": "v.mp4"}]}`)

	envelope, err := exp.Export(ctx, "night", "full")
	require.NoError(t, err)
	assert.Equal(t, models.BackupFull, envelope.Type)
	assert.Equal(t, "night", envelope.ProjectName)
	assert.Equal(t, "2026-03-01T08:00:00Z", envelope.ExportedAt)

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	_, err = svc.Reset(ctx, "night")
	require.NoError(t, err)

	result, err := svc.Ingest(ctx, "night", string(data), IngestOptions{Confirm: func(models.BackupSummary) bool { return true }})
	require.NoError(t, err)
	assert.Equal(t, models.StageBackupRestore, result.StageTag)
	assert.Equal(t, models.IngestSuccess, result.Status)

	doc, err := svc.Document(ctx, "night")
	require.NoError(t, err)
	require.Len(t, doc.Breakdown.Shots, 1)
	shot := doc.Breakdown.Shots[0]
	assert.Equal(t, "A", shot.ImagePrompts["universal"].MainPrompt)
	assert.Equal(t, "推", shot.VideoPrompts["kling_A-01"].Prompt)
	assert.Equal(t, "v.mp4", shot.VideoURLs["kling_A-01"])
	assert.Equal(t, []string{"S01.01"}, doc.Breakdown.Scenes[0].ShotIDs)
	assert.True(t, doc.HasStructuralBackbone)

	caches, err := svc.Caches(ctx, "night")
	require.NoError(t, err)
	assert.Equal(t, "v.mp4", caches.ResolvedURLs["S01.01"]["kling_A-01"])
}

func TestURLBackupRestoresAddresses(t *testing.T) {
	svc, exp := newExportService(t)
	ctx := context.Background()
	ingest(t, svc, completeLoad)
	ingest(t, svc, `{"shots": [{"shot_id": "S01.01", "generated_images": [{"tool": "midjourney", "image_id": "A-02", "url": "m2.png"}]}]}`)

	envelope, err := exp.Export(ctx, "night", "urls")
	require.NoError(t, err)
	assert.Equal(t, models.BackupURLs, envelope.Type)
	require.Contains(t, envelope.Shots, "S01.01")
	assert.Contains(t, envelope.Shots["S01.01"].AIGeneratedImages, "midjourney")
	assert.NotContains(t, envelope.Shots["S01.01"].AIGeneratedImages, "universal")

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	_, err = svc.Reset(ctx, "night")
	require.NoError(t, err)
	ingest(t, svc, completeLoad)

	result := ingest(t, svc, string(data))
	assert.Equal(t, models.StageBackupRestore, result.StageTag)
	assert.Equal(t, 1, result.MergedCount)

	doc, err := svc.Document(ctx, "night")
	require.NoError(t, err)
	slots := doc.Breakdown.Shots[0].ImageDesign.AIGeneratedImages["midjourney"]
	require.Len(t, slots, models.SlotCount)
	assert.Equal(t, "m2.png", slots[1].URL)
	assert.Equal(t, "A", doc.Breakdown.Shots[0].ImagePrompts["universal"].MainPrompt)
}

func TestURLBackupNeedsShots(t *testing.T) {
	svc := newService(t, 0)
	result, err := svc.Ingest(context.Background(), "night", `{"type": "url_backup", "shots": {"S01.01": {"video_urls": {"kling_A-01": "v.mp4"}}}}`, IngestOptions{})
	assert.True(t, apperrors.IsPreconditionError(err))
	assert.Equal(t, models.IngestRefused, result.Status)
}
