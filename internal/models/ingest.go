// internal/models/ingest.go
package models

import "time"

// StageTag 片段所属的管线阶段
type StageTag string

const (
	StageUnknown            StageTag = ""
	StageCompleteLoad       StageTag = "complete_load"
	StageScenePatch         StageTag = "scene_patch"
	StageNarrativeStructure StageTag = "narrative_structure"
	StageImagePromptPatch   StageTag = "image_prompt_patch"
	StageVideoPromptPatch   StageTag = "video_prompt_patch"
	StageAudioPatch         StageTag = "audio_patch"
	StageBackupRestore      StageTag = "backup_restore"
	StageShotBreakdown      StageTag = "shot_breakdown"
)

// IngestStatus 摄取结果状态
type IngestStatus string

const (
	IngestSuccess IngestStatus = "success"
	IngestRefused IngestStatus = "refused"
	IngestError   IngestStatus = "error"
)

// IngestFailure 展示层需要的错误描述
type IngestFailure struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// IngestResult 每次摄取调用返回的诊断结果
type IngestResult struct {
	IngestID             string         `json:"ingest_id"`
	Project              string         `json:"project"`
	Status               IngestStatus   `json:"status"`
	StageTag             StageTag       `json:"stage_tag"`
	MergedCount          int            `json:"merged_count"`
	MissingReferences    []string       `json:"missing_references"`
	WasFixed             bool           `json:"was_fixed"`
	Repairs              []string       `json:"repairs,omitempty"`
	SlotFallbacks        []string       `json:"slot_fallbacks,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation,omitempty"`
	Message              string         `json:"message,omitempty"`
	Error                *IngestFailure `json:"error,omitempty"`
	ProcessedAt          time.Time      `json:"processed_at"`
}

// CacheKind 阶段缓存类型
type CacheKind string

const (
	CacheImagePrompts CacheKind = "image_prompts"
	CacheVideoPrompts CacheKind = "video_prompts"
	CacheResolvedURLs CacheKind = "resolved_urls"
)

// AllCacheKinds 所有辅助缓存
var AllCacheKinds = []CacheKind{CacheImagePrompts, CacheVideoPrompts, CacheResolvedURLs}

// StageCaches 阶段提示词/地址缓存，显式传入调度器并随文档一起返回
type StageCaches struct {
	ImagePrompts map[string]map[string]ToolPrompt  `json:"image_prompts"` // shotID -> tool -> prompt
	VideoPrompts map[string]map[string]VideoPrompt `json:"video_prompts"` // shotID -> "<tool>_<imageId>" -> prompt
	ResolvedURLs map[string]map[string]string      `json:"resolved_urls"` // shotID -> slot/video key -> url
}

// NewStageCaches 创建空缓存
func NewStageCaches() *StageCaches {
	return &StageCaches{
		ImagePrompts: map[string]map[string]ToolPrompt{},
		VideoPrompts: map[string]map[string]VideoPrompt{},
		ResolvedURLs: map[string]map[string]string{},
	}
}

// BackupType 备份信封类型
type BackupType string

const (
	BackupFull BackupType = "full_backup"
	BackupURLs BackupType = "url_backup"
)

// BackupEnvelope 完整备份 / 仅地址备份
type BackupEnvelope struct {
	Type        BackupType             `json:"type"`
	Version     string                 `json:"version"`
	ExportedAt  string                 `json:"exported_at"`
	ProjectName string                 `json:"project_name"`
	Data        *ProductionDocument    `json:"data,omitempty"`
	Shots       map[string]ShotURLData `json:"shots,omitempty"`
}

// ShotURLData 仅地址备份中单个镜头的资源地址
type ShotURLData struct {
	AIGeneratedImages map[string][]ImageSlot `json:"ai_generated_images,omitempty"`
	VideoURLs         map[string]string      `json:"video_urls,omitempty"`
	AudioURLs         *AudioURLs             `json:"audio_urls,omitempty"`
	ReferenceImages   []ReferenceImage       `json:"reference_images,omitempty"`
	MainImages        []ReferenceImage       `json:"main_images,omitempty"`
	Images            []ShotImage            `json:"images,omitempty"`
}

// BackupSummary 交给调用方做是/否确认的摘要
type BackupSummary struct {
	ProjectName   string `json:"project_name"`
	ExportedAt    string `json:"exported_at"`
	SequenceCount int    `json:"sequence_count"`
	SceneCount    int    `json:"scene_count"`
	ShotCount     int    `json:"shot_count"`
}
