// internal/classify/fragments.go
package classify

import (
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/normalize"
)

// Fragment 分类结果；每个阶段对应一个具体类型，调度器用类型分支穷举处理
type Fragment interface {
	Stage() models.StageTag
}

// CompleteLoadFragment 完整规范文档，整体替换
type CompleteLoadFragment struct {
	Document *models.ProductionDocument
	Shape    normalize.Shape
}

// ScenePatchFragment 针对单个场景的局部更新
type ScenePatchFragment struct {
	SceneID string
	Scene   *models.Scene
	Shots   []models.Shot
}

// NarrativeFragment 序列/场景骨架
type NarrativeFragment struct {
	Metadata  models.FilmMetadata
	Sequences []models.Sequence
	Scenes    []models.Scene
}

// BreakdownFragment 分镜拆解得到的镜头列表
type BreakdownFragment struct {
	Shots []models.Shot
}

// GeneratedImage 图片阶段回写的生成结果，按 image_id 解析槽位
type GeneratedImage struct {
	Tool        string
	ImageID     string
	URL         string
	Description string
}

// ImagePromptRecord 单个镜头的图片提示词更新；Shot 是整条记录的解码结果，
// 标识字段（ID、SceneID）留空，由调度器按 ShotID 定位
type ImagePromptRecord struct {
	ShotID    string
	Shot      models.Shot
	Generated []GeneratedImage
}

// ImagePromptFragment 图片提示词阶段
type ImagePromptFragment struct {
	Records []ImagePromptRecord
}

// VideoPromptEntry 一条视频提示词，Key 为 "<tool>_<imageId>"
type VideoPromptEntry struct {
	ShotID string
	Key    string
	Prompt models.VideoPrompt
	URL    string
}

// VideoPromptFragment 视频提示词阶段
type VideoPromptFragment struct {
	Entries []VideoPromptEntry
}

// AudioRecord 单个镜头的音频内容
type AudioRecord struct {
	ShotID  string
	Content models.ShotContent
}

// AudioFragment 音频阶段
type AudioFragment struct {
	Records []AudioRecord
}

// BackupFragment 完整备份或仅地址备份
type BackupFragment struct {
	Type        models.BackupType
	Version     string
	ExportedAt  string
	ProjectName string
	Document    *models.ProductionDocument
	URLs        map[string]models.ShotURLData
}

// Summary 完整备份的确认摘要
func (f *BackupFragment) Summary() models.BackupSummary {
	s := models.BackupSummary{ProjectName: f.ProjectName, ExportedAt: f.ExportedAt}
	if f.Document != nil {
		s.SequenceCount = len(f.Document.Breakdown.Sequences)
		s.SceneCount = len(f.Document.Breakdown.Scenes)
		s.ShotCount = len(f.Document.Breakdown.Shots)
	}
	return s
}

func (*CompleteLoadFragment) Stage() models.StageTag { return models.StageCompleteLoad }
func (*ScenePatchFragment) Stage() models.StageTag   { return models.StageScenePatch }
func (*NarrativeFragment) Stage() models.StageTag    { return models.StageNarrativeStructure }
func (*BreakdownFragment) Stage() models.StageTag    { return models.StageShotBreakdown }
func (*ImagePromptFragment) Stage() models.StageTag  { return models.StageImagePromptPatch }
func (*VideoPromptFragment) Stage() models.StageTag  { return models.StageVideoPromptPatch }
func (*AudioFragment) Stage() models.StageTag        { return models.StageAudioPatch }
func (*BackupFragment) Stage() models.StageTag       { return models.StageBackupRestore }
