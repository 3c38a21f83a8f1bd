// internal/merge/merge.go
package merge

import (
	"strings"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

// 合并规则：
//   - 标量：incoming 非空才覆盖
//   - 以工具/角色为键的映射：键取并集，同键递归合并
//   - 固定3槽位数组：先补齐到3，再逐槽写入非空值，从不截断
//   - 累积列表（shot_ids、images[]）：拼接后按标识去重，保持首次出现顺序
// 所有函数都不修改入参。

// Scalar 非空覆盖
func Scalar(existing, incoming string) string {
	if strings.TrimSpace(incoming) != "" {
		return incoming
	}
	return existing
}

// AppendUnique 追加并去重，保持首次出现顺序
func AppendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(items))
	out := make([]string, 0, len(dst)+len(items))
	for _, list := range [][]string{dst, items} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Map 键取并集；incoming 的每个键都经过 fn（新键时 existing 为零值）
func Map[V any](existing, incoming map[string]V, fn func(V, V) V) map[string]V {
	out := make(map[string]V, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = fn(out[k], v)
	}
	return out
}

// Metadata 合并影片元数据
func Metadata(existing, incoming models.FilmMetadata) models.FilmMetadata {
	return models.FilmMetadata{
		Title:         Scalar(existing.Title, incoming.Title),
		Genre:         Scalar(existing.Genre, incoming.Genre),
		Logline:       Scalar(existing.Logline, incoming.Logline),
		Duration:      Scalar(existing.Duration, incoming.Duration),
		VisualStyle:   Scalar(existing.VisualStyle, incoming.VisualStyle),
		AspectRatio:   Scalar(existing.AspectRatio, incoming.AspectRatio),
		Client:        Scalar(existing.Client, incoming.Client),
		Language:      Scalar(existing.Language, incoming.Language),
		ProjectName:   Scalar(existing.ProjectName, incoming.ProjectName),
		SchemaVersion: Scalar(existing.SchemaVersion, incoming.SchemaVersion),
		SourceSchema:  Scalar(existing.SourceSchema, incoming.SourceSchema),
		CreatedAt:     Scalar(existing.CreatedAt, incoming.CreatedAt),
		UpdatedAt:     Scalar(existing.UpdatedAt, incoming.UpdatedAt),
	}
}

// Sequence 合并序列
func Sequence(existing, incoming models.Sequence) models.Sequence {
	return models.Sequence{
		ID:                Scalar(existing.ID, incoming.ID),
		Title:             Scalar(existing.Title, incoming.Title),
		Function:          Scalar(existing.Function, incoming.Function),
		Description:       Scalar(existing.Description, incoming.Description),
		EstimatedDuration: Scalar(existing.EstimatedDuration, incoming.EstimatedDuration),
	}
}

// Scene 合并场景；shot_ids 只增不减
func Scene(existing, incoming models.Scene) models.Scene {
	return models.Scene{
		ID:           Scalar(existing.ID, incoming.ID),
		SequenceID:   Scalar(existing.SequenceID, incoming.SequenceID),
		Title:        Scalar(existing.Title, incoming.Title),
		Description:  Scalar(existing.Description, incoming.Description),
		Location:     Scalar(existing.Location, incoming.Location),
		TimeOfDay:    Scalar(existing.TimeOfDay, incoming.TimeOfDay),
		OriginalText: Scalar(existing.OriginalText, incoming.OriginalText),
		ShotIDs:      AppendUnique(existing.ShotIDs, incoming.ShotIDs...),
	}
}

// Shot 逐字段合并镜头；incoming 可以只携带任意子集
func Shot(existing, incoming models.Shot) models.Shot {
	return models.Shot{
		ID:              Scalar(existing.ID, incoming.ID),
		SceneID:         Scalar(existing.SceneID, incoming.SceneID),
		Title:           Scalar(existing.Title, incoming.Title),
		Description:     Scalar(existing.Description, incoming.Description),
		ShotType:        Scalar(existing.ShotType, incoming.ShotType),
		Duration:        Scalar(existing.Duration, incoming.Duration),
		Camera:          Camera(existing.Camera, incoming.Camera),
		Content:         Content(existing.Content, incoming.Content),
		ImagePrompts:    Map(existing.ImagePrompts, incoming.ImagePrompts, ToolPrompt),
		ImageDesign:     ImageDesign(existing.ImageDesign, incoming.ImageDesign),
		VideoPrompts:    Map(existing.VideoPrompts, incoming.VideoPrompts, VideoPrompt),
		VideoURLs:       Map(existing.VideoURLs, incoming.VideoURLs, Scalar),
		Images:          Images(existing.Images, incoming.Images),
		ReferenceImages: ReferenceSlots(existing.ReferenceImages, incoming.ReferenceImages),
		MainImages:      ReferenceSlots(existing.MainImages, incoming.MainImages),
	}
}

// Camera 合并机位
func Camera(existing, incoming models.Camera) models.Camera {
	return models.Camera{
		Movement: Scalar(existing.Movement, incoming.Movement),
		Angle:    Scalar(existing.Angle, incoming.Angle),
		Lens:     Scalar(existing.Lens, incoming.Lens),
		Framing:  Scalar(existing.Framing, incoming.Framing),
	}
}

// Content 合并台词、旁白、音效与音频地址
func Content(existing, incoming models.ShotContent) models.ShotContent {
	return models.ShotContent{
		Dialogue:     Map(existing.Dialogue, incoming.Dialogue, Scalar),
		Narration:    Scalar(existing.Narration, incoming.Narration),
		SoundEffects: Scalar(existing.SoundEffects, incoming.SoundEffects),
		Music:        Scalar(existing.Music, incoming.Music),
		AudioURLs:    AudioURLs(existing.AudioURLs, incoming.AudioURLs),
	}
}

// AudioURLs 各声道地址按列表累积
func AudioURLs(existing, incoming models.AudioURLs) models.AudioURLs {
	return models.AudioURLs{
		Dialogue: Map(existing.Dialogue, incoming.Dialogue, func(a, b []string) []string {
			return AppendUnique(a, b...)
		}),
		Narration:    AppendUnique(existing.Narration, incoming.Narration...),
		SoundEffects: AppendUnique(existing.SoundEffects, incoming.SoundEffects...),
	}
}

// ToolPrompt 合并单个工具的提示词
func ToolPrompt(existing, incoming models.ToolPrompt) models.ToolPrompt {
	return models.ToolPrompt{
		MainPrompt:     Scalar(existing.MainPrompt, incoming.MainPrompt),
		NegativePrompt: Scalar(existing.NegativePrompt, incoming.NegativePrompt),
		StylePrompt:    Scalar(existing.StylePrompt, incoming.StylePrompt),
		AspectRatio:    Scalar(existing.AspectRatio, incoming.AspectRatio),
	}
}

// VideoPrompt 合并单条视频提示词
func VideoPrompt(existing, incoming models.VideoPrompt) models.VideoPrompt {
	return models.VideoPrompt{
		Tool:         Scalar(existing.Tool, incoming.Tool),
		ImageID:      Scalar(existing.ImageID, incoming.ImageID),
		Prompt:       Scalar(existing.Prompt, incoming.Prompt),
		CameraMotion: Scalar(existing.CameraMotion, incoming.CameraMotion),
		Duration:     Scalar(existing.Duration, incoming.Duration),
	}
}

// ImageDesign 合并画面设计；方案按 plan_id 累积，生成图按槽位写入
func ImageDesign(existing, incoming models.ImageDesign) models.ImageDesign {
	return models.ImageDesign{
		SelectedPlan:      Scalar(existing.SelectedPlan, incoming.SelectedPlan),
		Plans:             Plans(existing.Plans, incoming.Plans),
		AIGeneratedImages: Map(existing.AIGeneratedImages, incoming.AIGeneratedImages, ImageSlots),
	}
}

// Plans 按 plan_id 合并方案
func Plans(existing, incoming []models.ImagePlan) []models.ImagePlan {
	if len(existing) == 0 && len(incoming) == 0 {
		return existing
	}
	out := make([]models.ImagePlan, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	for _, plan := range incoming {
		idx := -1
		for i := range out {
			if out[i].PlanID == plan.PlanID {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, plan)
			continue
		}
		out[idx] = models.ImagePlan{
			PlanID:      out[idx].PlanID,
			Description: Scalar(out[idx].Description, plan.Description),
			Composition: Scalar(out[idx].Composition, plan.Composition),
		}
	}
	return out
}

// Images 按 image_id（缺失时按 url）累积去重，同一图片合并字段
func Images(existing, incoming []models.ShotImage) []models.ShotImage {
	out := make([]models.ShotImage, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	for _, list := range [][]models.ShotImage{existing, incoming} {
		for _, img := range list {
			key := imageKey(img)
			if key == "" {
				continue
			}
			if i, ok := index[key]; ok {
				out[i] = models.ShotImage{
					ImageID:     Scalar(out[i].ImageID, img.ImageID),
					Tool:        Scalar(out[i].Tool, img.Tool),
					URL:         Scalar(out[i].URL, img.URL),
					Prompt:      Scalar(out[i].Prompt, img.Prompt),
					Description: Scalar(out[i].Description, img.Description),
				}
				continue
			}
			index[key] = len(out)
			out = append(out, img)
		}
	}
	return out
}

func imageKey(img models.ShotImage) string {
	if img.ImageID != "" {
		return img.ImageID
	}
	return img.URL
}
