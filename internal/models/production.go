// internal/models/production.go
package models

import (
	"encoding/json"
	"fmt"
)

// CanonicalSchemaVersion 规范化后的文档版本
const CanonicalSchemaVersion = "3.0"

// SlotCount 每个工具的生成图/参考图固定槽位数
const SlotCount = 3

// ProductionDocument 一个项目的规范化制作文档（根聚合）
type ProductionDocument struct {
	Metadata              FilmMetadata `json:"film_metadata"`
	Breakdown             Breakdown    `json:"breakdown_data"`
	HasStructuralBackbone bool         `json:"hasStructuralBackbone"`
}

// FilmMetadata 影片元数据
type FilmMetadata struct {
	Title         string `json:"title"`
	Genre         string `json:"genre"`
	Logline       string `json:"logline,omitempty"`
	Duration      string `json:"duration,omitempty"`
	VisualStyle   string `json:"visual_style,omitempty"`
	AspectRatio   string `json:"aspect_ratio,omitempty"`
	Client        string `json:"client,omitempty"`
	Language      string `json:"language,omitempty"`
	ProjectName   string `json:"project_name,omitempty"`
	SchemaVersion string `json:"schema_version"`
	SourceSchema  string `json:"source_schema,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// Breakdown 序列/场景/镜头三个有序集合
type Breakdown struct {
	Sequences []Sequence `json:"sequences"`
	Scenes    []Scene    `json:"scenes"`
	Shots     []Shot     `json:"shots"`
}

// Sequence 叙事序列，由结构拆解阶段创建
type Sequence struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Function          string `json:"function,omitempty"` // 叙事功能
	Description       string `json:"description,omitempty"`
	EstimatedDuration string `json:"estimated_duration,omitempty"`
}

// Scene 场景；SequenceID 只是反向引用
type Scene struct {
	ID           string   `json:"id"`
	SequenceID   string   `json:"sequence_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location,omitempty"`
	TimeOfDay    string   `json:"time_of_day,omitempty"`
	OriginalText string   `json:"original_text,omitempty"`
	ShotIDs      []string `json:"shot_ids"` // 只追加、去重
}

// Shot 镜头及其各阶段独立填充的子文档
type Shot struct {
	ID              string                 `json:"id"`
	SceneID         string                 `json:"scene_id"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	ShotType        string                 `json:"shot_type,omitempty"`
	Duration        string                 `json:"duration,omitempty"`
	Camera          Camera                 `json:"camera"`
	Content         ShotContent            `json:"content"`
	ImagePrompts    map[string]ToolPrompt  `json:"image_prompts"`
	ImageDesign     ImageDesign            `json:"image_design"`
	VideoPrompts    map[string]VideoPrompt `json:"video_prompts"`
	VideoURLs       map[string]string      `json:"video_urls"`
	Images          []ShotImage            `json:"images"`
	ReferenceImages []ReferenceImage       `json:"reference_images"`
	MainImages      []ReferenceImage       `json:"main_images"`
}

// Camera 机位信息
type Camera struct {
	Movement string `json:"movement,omitempty"`
	Angle    string `json:"angle,omitempty"`
	Lens     string `json:"lens,omitempty"`
	Framing  string `json:"framing,omitempty"`
}

// ShotContent 台词、旁白、音效及各声道音频地址
type ShotContent struct {
	Dialogue     map[string]string `json:"dialogue"` // 角色 -> 台词
	Narration    string            `json:"narration,omitempty"`
	SoundEffects string            `json:"sound_effects,omitempty"`
	Music        string            `json:"music,omitempty"`
	AudioURLs    AudioURLs         `json:"audio_urls"`
}

// AudioURLs 各声道的音频地址
type AudioURLs struct {
	Dialogue     map[string][]string `json:"dialogue"` // 角色 -> 音频地址列表
	Narration    []string            `json:"narration"`
	SoundEffects []string            `json:"sound_effects"`
}

// ToolPrompt 某个图像工具的提示词
type ToolPrompt struct {
	MainPrompt     string `json:"main_prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	StylePrompt    string `json:"style_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
}

// ImageDesign 画面设计：方案与每个工具的生成图槽位
type ImageDesign struct {
	SelectedPlan      string                 `json:"selected_plan,omitempty"`
	Plans             []ImagePlan            `json:"plans"`
	AIGeneratedImages map[string][]ImageSlot `json:"ai_generated_images"` // 工具 -> 3个槽位
}

// ImagePlan 画面方案（A/B/C）
type ImagePlan struct {
	PlanID      string `json:"plan_id"`
	Description string `json:"description,omitempty"`
	Composition string `json:"composition,omitempty"`
}

// ImageSlot 生成图槽位
type ImageSlot struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// IsEmpty 槽位是否为空
func (s ImageSlot) IsEmpty() bool {
	return s.URL == "" && s.Description == ""
}

// ReferenceImage 参考图/主图槽位
type ReferenceImage struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// IsEmpty 槽位是否为空
func (r ReferenceImage) IsEmpty() bool {
	return r.URL == "" && r.Description == "" && r.Type == ""
}

// VideoPrompt 视频提示词，键为 "<tool>_<imageId>"
type VideoPrompt struct {
	Tool         string `json:"tool,omitempty"`
	ImageID      string `json:"image_id,omitempty"`
	Prompt       string `json:"prompt"`
	CameraMotion string `json:"camera_motion,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

// ShotImage 以 image_id 标识的累积图片记录
type ShotImage struct {
	ImageID     string `json:"image_id"`
	Tool        string `json:"tool,omitempty"`
	URL         string `json:"url,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewProductionDocument 创建空文档
func NewProductionDocument() *ProductionDocument {
	return &ProductionDocument{
		Metadata: FilmMetadata{SchemaVersion: CanonicalSchemaVersion},
		Breakdown: Breakdown{
			Sequences: []Sequence{},
			Scenes:    []Scene{},
			Shots:     []Shot{},
		},
	}
}

// Clone 深拷贝文档，合并在副本上进行
func (d *ProductionDocument) Clone() (*ProductionDocument, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("复制文档失败: %w", err)
	}
	var out ProductionDocument
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("复制文档失败: %w", err)
	}
	return &out, nil
}

// IsEmpty 文档中没有任何结构数据
func (d *ProductionDocument) IsEmpty() bool {
	return len(d.Breakdown.Sequences) == 0 && len(d.Breakdown.Scenes) == 0 && len(d.Breakdown.Shots) == 0
}

// HasBackbone 是否已建立序列/场景骨架
func (d *ProductionDocument) HasBackbone() bool {
	return d.HasStructuralBackbone && len(d.Breakdown.Scenes) > 0
}

// HasShots 是否至少有一个镜头
func (d *ProductionDocument) HasShots() bool {
	return len(d.Breakdown.Shots) > 0
}

// SequenceIndex 按ID查找序列下标
func (d *ProductionDocument) SequenceIndex(id string) int {
	for i := range d.Breakdown.Sequences {
		if d.Breakdown.Sequences[i].ID == id {
			return i
		}
	}
	return -1
}

// SceneIndex 按ID查找场景下标
func (d *ProductionDocument) SceneIndex(id string) int {
	for i := range d.Breakdown.Scenes {
		if d.Breakdown.Scenes[i].ID == id {
			return i
		}
	}
	return -1
}

// ShotIndex 按ID查找镜头下标
func (d *ProductionDocument) ShotIndex(id string) int {
	for i := range d.Breakdown.Shots {
		if d.Breakdown.Shots[i].ID == id {
			return i
		}
	}
	return -1
}
