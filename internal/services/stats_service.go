// internal/services/stats_service.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
)

// IngestCounters 某个项目自进程启动以来的摄取次数
type IngestCounters struct {
	Total        int             `json:"total"`
	Success      int             `json:"success"`
	Refused      int             `json:"refused"`
	Error        int             `json:"error"`
	LastStage    models.StageTag `json:"last_stage,omitempty"`
	LastIngestAt time.Time       `json:"last_ingest_at,omitempty"`
}

// StageCoverage 各阶段已填充的镜头数
type StageCoverage struct {
	ImagePrompts    int `json:"image_prompts"`
	GeneratedImages int `json:"generated_images"`
	ReferenceImages int `json:"reference_images"`
	VideoPrompts    int `json:"video_prompts"`
	VideoURLs       int `json:"video_urls"`
	Audio           int `json:"audio"`
}

// ProjectStats 项目文档统计
type ProjectStats struct {
	Project     string         `json:"project"`
	Sequences   int            `json:"sequences"`
	Scenes      int            `json:"scenes"`
	Shots       int            `json:"shots"`
	OrphanShots []string       `json:"orphan_shots"` // 未被任何场景 ShotIDs 引用的镜头
	Coverage    StageCoverage  `json:"coverage"`
	Ingests     IngestCounters `json:"ingests"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// StatsService 统计文档完成度，并通过 Publish 累计摄取次数
type StatsService struct {
	Pipeline *PipelineService

	mutex    sync.Mutex
	counters map[string]*IngestCounters
	now      func() time.Time
}

// NewStatsService 创建统计服务实例
func NewStatsService(pipeline *PipelineService) *StatsService {
	return &StatsService{
		Pipeline: pipeline,
		counters: make(map[string]*IngestCounters),
		now:      time.Now,
	}
}

// Publish 记录一次摄取结果
func (s *StatsService) Publish(result *models.IngestResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c, ok := s.counters[result.Project]
	if !ok {
		c = &IngestCounters{}
		s.counters[result.Project] = c
	}
	c.Total++
	switch result.Status {
	case models.IngestSuccess:
		c.Success++
	case models.IngestRefused:
		c.Refused++
	default:
		c.Error++
	}
	if result.StageTag != models.StageUnknown {
		c.LastStage = result.StageTag
	}
	c.LastIngestAt = result.ProcessedAt
}

// Counters 返回项目摄取次数的副本
func (s *StatsService) Counters(project string) IngestCounters {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if c, ok := s.counters[storage.Slug(project)]; ok {
		return *c
	}
	return IngestCounters{}
}

// Forget 清除项目的摄取次数（项目重置后调用）
func (s *StatsService) Forget(project string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.counters, storage.Slug(project))
}

// ProjectStats 计算项目文档统计
func (s *StatsService) ProjectStats(ctx context.Context, project string) (*ProjectStats, error) {
	doc, err := s.Pipeline.Document(ctx, project)
	if err != nil {
		return nil, err
	}

	b := doc.Breakdown
	stats := &ProjectStats{
		Project:     storage.Slug(project),
		Sequences:   len(b.Sequences),
		Scenes:      len(b.Scenes),
		Shots:       len(b.Shots),
		OrphanShots: []string{},
		Coverage:    coverage(b.Shots),
		Ingests:     s.Counters(project),
		GeneratedAt: s.now(),
	}

	referenced := make(map[string]bool, len(b.Shots))
	for _, scene := range b.Scenes {
		for _, id := range scene.ShotIDs {
			referenced[id] = true
		}
	}
	for _, shot := range b.Shots {
		if !referenced[shot.ID] {
			stats.OrphanShots = append(stats.OrphanShots, shot.ID)
		}
	}
	return stats, nil
}

func coverage(shots []models.Shot) StageCoverage {
	var c StageCoverage
	for _, shot := range shots {
		if hasPrompt(shot.ImagePrompts) {
			c.ImagePrompts++
		}
		if hasGeneratedImage(shot) {
			c.GeneratedImages++
		}
		if hasReferenceURL(shot.ReferenceImages) || hasReferenceURL(shot.MainImages) {
			c.ReferenceImages++
		}
		if len(shot.VideoPrompts) > 0 {
			c.VideoPrompts++
		}
		if len(shot.VideoURLs) > 0 {
			c.VideoURLs++
		}
		if audio := shot.Content.AudioURLs; len(audio.Dialogue) > 0 || len(audio.Narration) > 0 || len(audio.SoundEffects) > 0 {
			c.Audio++
		}
	}
	return c
}

func hasPrompt(prompts map[string]models.ToolPrompt) bool {
	for _, p := range prompts {
		if p.MainPrompt != "" {
			return true
		}
	}
	return false
}

func hasGeneratedImage(shot models.Shot) bool {
	for _, slots := range shot.ImageDesign.AIGeneratedImages {
		if hasSlotURL(slots) {
			return true
		}
	}
	for _, img := range shot.Images {
		if img.URL != "" {
			return true
		}
	}
	return false
}
