// internal/services/export_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
)

// BackupVersion 导出备份的格式版本
const BackupVersion = "1.0"

// ExportService 导出完整备份和仅地址备份，二者都能被 backup_restore 阶段重新摄取
type ExportService struct {
	Pipeline *PipelineService
	now      func() time.Time
}

func NewExportService(pipeline *PipelineService) *ExportService {
	return &ExportService{
		Pipeline: pipeline,
		now:      time.Now,
	}
}

// Export 按类型导出；type 接受 full / full_backup / urls / url_backup
func (s *ExportService) Export(ctx context.Context, project, backupType string) (*models.BackupEnvelope, error) {
	switch strings.ToLower(strings.TrimSpace(backupType)) {
	case "", "full", string(models.BackupFull):
		return s.ExportFullBackup(ctx, project)
	case "urls", "url", string(models.BackupURLs):
		return s.ExportURLBackup(ctx, project)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("不支持的导出类型: %s，支持的类型: full, urls", backupType), nil)
	}
}

// ExportFullBackup 导出完整文档
func (s *ExportService) ExportFullBackup(ctx context.Context, project string) (*models.BackupEnvelope, error) {
	doc, err := s.document(ctx, project)
	if err != nil {
		return nil, err
	}
	return &models.BackupEnvelope{
		Type:        models.BackupFull,
		Version:     BackupVersion,
		ExportedAt:  s.now().UTC().Format(time.RFC3339),
		ProjectName: projectName(doc, project),
		Data:        doc,
	}, nil
}

// ExportURLBackup 只导出每个镜头的生成图、视频、音频与参考图地址
func (s *ExportService) ExportURLBackup(ctx context.Context, project string) (*models.BackupEnvelope, error) {
	doc, err := s.document(ctx, project)
	if err != nil {
		return nil, err
	}

	shots := make(map[string]models.ShotURLData)
	for _, shot := range doc.Breakdown.Shots {
		data := models.ShotURLData{
			AIGeneratedImages: map[string][]models.ImageSlot{},
			VideoURLs:         map[string]string{},
		}
		for tool, slots := range shot.ImageDesign.AIGeneratedImages {
			if hasSlotURL(slots) {
				data.AIGeneratedImages[tool] = slots
			}
		}
		for key, url := range shot.VideoURLs {
			if url != "" {
				data.VideoURLs[key] = url
			}
		}
		if audio := shot.Content.AudioURLs; len(audio.Dialogue) > 0 || len(audio.Narration) > 0 || len(audio.SoundEffects) > 0 {
			data.AudioURLs = &audio
		}
		if hasReferenceURL(shot.ReferenceImages) {
			data.ReferenceImages = shot.ReferenceImages
		}
		if hasReferenceURL(shot.MainImages) {
			data.MainImages = shot.MainImages
		}
		for _, img := range shot.Images {
			if img.URL != "" {
				data.Images = append(data.Images, img)
			}
		}

		if len(data.AIGeneratedImages) == 0 && len(data.VideoURLs) == 0 && data.AudioURLs == nil &&
			data.ReferenceImages == nil && data.MainImages == nil && data.Images == nil {
			continue
		}
		shots[shot.ID] = data
	}

	return &models.BackupEnvelope{
		Type:        models.BackupURLs,
		Version:     BackupVersion,
		ExportedAt:  s.now().UTC().Format(time.RFC3339),
		ProjectName: projectName(doc, project),
		Shots:       shots,
	}, nil
}

func (s *ExportService) document(ctx context.Context, project string) (*models.ProductionDocument, error) {
	doc, err := s.Pipeline.Document(ctx, project)
	if err != nil {
		return nil, err
	}
	if doc.IsEmpty() {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("项目 %s 没有可导出的文档", storage.Slug(project)), nil)
	}
	return doc, nil
}

func projectName(doc *models.ProductionDocument, project string) string {
	if doc.Metadata.ProjectName != "" {
		return doc.Metadata.ProjectName
	}
	return project
}

func hasSlotURL(slots []models.ImageSlot) bool {
	for _, s := range slots {
		if s.URL != "" {
			return true
		}
	}
	return false
}

func hasReferenceURL(refs []models.ReferenceImage) bool {
	for _, r := range refs {
		if r.URL != "" {
			return true
		}
	}
	return false
}
