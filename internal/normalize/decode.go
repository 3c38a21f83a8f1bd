// internal/normalize/decode.go
package normalize

import (
	"fmt"
	"sort"

	"github.com/Corphon/ShotPipelineMCP/internal/merge"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

// DefaultSpeaker 台词未标注角色时使用的键
const DefaultSpeaker = "default"

// DecodeMetadata 从 film_metadata 对象读取元数据
func DecodeMetadata(m map[string]any) models.FilmMetadata {
	return models.FilmMetadata{
		Title:         FirstString(m, "title", "name"),
		Genre:         FirstString(m, "genre", "type"),
		Logline:       FirstString(m, "logline", "concept"),
		Duration:      FirstString(m, "duration"),
		VisualStyle:   FirstString(m, "visual_style", "style"),
		AspectRatio:   FirstString(m, "aspect_ratio"),
		Client:        FirstString(m, "client", "brand"),
		Language:      FirstString(m, "language"),
		ProjectName:   FirstString(m, "project_name"),
		SchemaVersion: FirstString(m, "schema_version", "version"),
		SourceSchema:  FirstString(m, "source_schema"),
		CreatedAt:     FirstString(m, "created_at"),
		UpdatedAt:     FirstString(m, "updated_at"),
	}
}

// DecodeSequence 读取序列记录
func DecodeSequence(m map[string]any) models.Sequence {
	return models.Sequence{
		ID:                FirstString(m, "id", "sequence_id"),
		Title:             FirstString(m, "title", "name"),
		Function:          FirstString(m, "function", "narrative_function"),
		Description:       FirstString(m, "description", "summary"),
		EstimatedDuration: FirstString(m, "estimated_duration", "duration"),
	}
}

// DecodeScene 读取场景记录；shot_ids 保持原顺序去重
func DecodeScene(m map[string]any) models.Scene {
	return models.Scene{
		ID:           FirstString(m, "id", "scene_id"),
		SequenceID:   FirstString(m, "sequence_id"),
		Title:        FirstString(m, "title", "scene_title", "name"),
		Description:  FirstString(m, "description", "summary"),
		Location:     FirstString(m, "location"),
		TimeOfDay:    FirstString(m, "time_of_day", "time"),
		OriginalText: FirstString(m, "original_text", "script_text"),
		ShotIDs:      merge.AppendUnique(nil, StringList(m["shot_ids"])...),
	}
}

// DecodeShot 读取镜头记录，兼容各阶段常见的字段别名
func DecodeShot(m map[string]any) models.Shot {
	shot := models.Shot{
		ID:          FirstString(m, "id", "shot_id"),
		SceneID:     FirstString(m, "scene_id"),
		Title:       FirstString(m, "title", "shot_title"),
		Description: FirstString(m, "description", "action", "visual"),
		ShotType:    FirstString(m, "shot_type", "type"),
		Duration:    FirstString(m, "duration"),
		Camera:      decodeCamera(m),
		Content:     DecodeContent(AsMap(FirstValue(m, "content", "sound", "audio"))),
	}

	shot.ImagePrompts = DecodeImagePrompts(AsMap(FirstValue(m, "image_prompts", "prompts")))
	shot.ImageDesign = DecodeImageDesign(AsMap(m["image_design"]))
	if plan := FirstValue(m, "image_plan", "visual_plan"); plan != nil && len(shot.ImageDesign.Plans) == 0 {
		shot.ImageDesign.SelectedPlan, shot.ImageDesign.Plans = decodePlans(plan)
	}

	shot.VideoPrompts = DecodeVideoPrompts(AsMap(m["video_prompts"]))
	shot.VideoURLs = decodeStringMap(AsMap(m["video_urls"]))
	shot.Images = DecodeImages(AsSlice(m["images"]))
	shot.ReferenceImages = DecodeReferenceImages(AsSlice(m["reference_images"]))
	shot.MainImages = DecodeReferenceImages(AsSlice(m["main_images"]))
	return shot
}

func decodeCamera(m map[string]any) models.Camera {
	switch c := m["camera"].(type) {
	case map[string]any:
		return models.Camera{
			Movement: FirstString(c, "movement", "camera_movement"),
			Angle:    FirstString(c, "angle", "camera_angle"),
			Lens:     FirstString(c, "lens"),
			Framing:  FirstString(c, "framing", "composition"),
		}
	case string:
		return models.Camera{Movement: String(c), Angle: FirstString(m, "camera_angle")}
	}
	return models.Camera{
		Movement: FirstString(m, "camera_movement"),
		Angle:    FirstString(m, "camera_angle"),
		Lens:     FirstString(m, "lens"),
		Framing:  FirstString(m, "framing"),
	}
}

// DecodeContent 读取台词/旁白/音效以及音频地址
func DecodeContent(m map[string]any) models.ShotContent {
	content := models.ShotContent{
		Dialogue:     DecodeDialogue(m["dialogue"]),
		Narration:    FirstString(m, "narration", "voiceover"),
		SoundEffects: FirstString(m, "sound_effects", "sfx", "effects"),
		Music:        FirstString(m, "music", "bgm"),
	}
	content.AudioURLs = DecodeAudioURLs(AsMap(m["audio_urls"]))
	return content
}

// DecodeDialogue 支持 {角色: 台词}、[{character, line}] 和纯字符串
func DecodeDialogue(v any) map[string]string {
	out := map[string]string{}
	switch d := v.(type) {
	case map[string]any:
		for k, line := range d {
			if s := String(line); s != "" {
				out[k] = s
			}
		}
	case []any:
		for _, item := range d {
			entry := AsMap(item)
			line := FirstString(entry, "line", "text", "content")
			if line == "" {
				continue
			}
			speaker := FirstString(entry, "character", "speaker", "role")
			if speaker == "" {
				speaker = DefaultSpeaker
			}
			if prev, ok := out[speaker]; ok && prev != "" {
				line = prev + "\n" + line
			}
			out[speaker] = line
		}
	default:
		if s := String(d); s != "" {
			out[DefaultSpeaker] = s
		}
	}
	return out
}

// DecodeAudioURLs 读取各声道音频地址
func DecodeAudioURLs(m map[string]any) models.AudioURLs {
	urls := models.AudioURLs{Dialogue: map[string][]string{}}
	switch d := m["dialogue"].(type) {
	case map[string]any:
		for speaker, v := range d {
			if list := StringList(v); len(list) > 0 {
				urls.Dialogue[speaker] = list
			}
		}
	default:
		if list := StringList(d); len(list) > 0 {
			urls.Dialogue[DefaultSpeaker] = list
		}
	}
	urls.Narration = StringList(m["narration"])
	urls.SoundEffects = StringList(FirstValue(m, "sound_effects", "sfx"))
	return urls
}

// DecodeImagePrompts 工具名 → 提示词；值可以是对象或纯字符串
func DecodeImagePrompts(m map[string]any) map[string]models.ToolPrompt {
	out := map[string]models.ToolPrompt{}
	for tool, v := range m {
		if p, ok := DecodeToolPrompt(v); ok {
			out[tool] = p
		}
	}
	return out
}

// DecodeToolPrompt 读取单个工具的提示词
func DecodeToolPrompt(v any) (models.ToolPrompt, bool) {
	switch p := v.(type) {
	case map[string]any:
		return models.ToolPrompt{
			MainPrompt:     FirstString(p, "main_prompt", "prompt", "positive"),
			NegativePrompt: FirstString(p, "negative_prompt", "negative"),
			StylePrompt:    FirstString(p, "style_prompt", "style"),
			AspectRatio:    FirstString(p, "aspect_ratio"),
		}, true
	case string:
		return models.ToolPrompt{MainPrompt: String(p)}, true
	}
	return models.ToolPrompt{}, false
}

// DecodeImageDesign 读取画面设计
func DecodeImageDesign(m map[string]any) models.ImageDesign {
	design := models.ImageDesign{AIGeneratedImages: map[string][]models.ImageSlot{}}
	if m == nil {
		return design
	}
	design.SelectedPlan = FirstString(m, "selected_plan", "selected")
	if plans := m["plans"]; plans != nil {
		_, design.Plans = decodePlans(plans)
	}
	for tool, v := range AsMap(m["ai_generated_images"]) {
		design.AIGeneratedImages[tool] = DecodeImageSlots(AsSlice(v))
	}
	return design
}

// decodePlans 支持方案数组、{selected, plans} 和 {A: …, B: …} 三种写法
func decodePlans(v any) (string, []models.ImagePlan) {
	switch p := v.(type) {
	case []any:
		plans := make([]models.ImagePlan, 0, len(p))
		for i, item := range p {
			plans = append(plans, decodePlan(item, fmt.Sprintf("%c", 'A'+i)))
		}
		return "", plans
	case map[string]any:
		if inner, ok := p["plans"]; ok {
			_, plans := decodePlans(inner)
			return FirstString(p, "selected_plan", "selected"), plans
		}
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		plans := make([]models.ImagePlan, 0, len(keys))
		for _, k := range keys {
			plans = append(plans, decodePlan(p[k], k))
		}
		return "", plans
	case string:
		if s := String(p); s != "" {
			return "A", []models.ImagePlan{{PlanID: "A", Description: s}}
		}
	}
	return "", nil
}

func decodePlan(v any, fallbackID string) models.ImagePlan {
	if s, ok := v.(string); ok {
		return models.ImagePlan{PlanID: fallbackID, Description: String(s)}
	}
	m := AsMap(v)
	plan := models.ImagePlan{
		PlanID:      FirstString(m, "plan_id", "id"),
		Description: FirstString(m, "description", "prompt"),
		Composition: FirstString(m, "composition"),
	}
	if plan.PlanID == "" {
		plan.PlanID = fallbackID
	}
	return plan
}

// DecodeImageSlots 读取生成图槽位，保持原有位置
func DecodeImageSlots(items []any) []models.ImageSlot {
	slots := make([]models.ImageSlot, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			slots = append(slots, models.ImageSlot{URL: String(s)})
			continue
		}
		m := AsMap(item)
		slots = append(slots, models.ImageSlot{
			URL:         FirstString(m, "url", "image_url"),
			Description: FirstString(m, "description"),
		})
	}
	return slots
}

// DecodeReferenceImages 读取参考图/主图槽位
func DecodeReferenceImages(items []any) []models.ReferenceImage {
	refs := make([]models.ReferenceImage, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			refs = append(refs, models.ReferenceImage{URL: String(s)})
			continue
		}
		m := AsMap(item)
		refs = append(refs, models.ReferenceImage{
			URL:         FirstString(m, "url", "image_url"),
			Description: FirstString(m, "description"),
			Type:        FirstString(m, "type"),
		})
	}
	return refs
}

// DecodeVideoPrompts 读取 "<tool>_<imageId>" 为键的视频提示词
func DecodeVideoPrompts(m map[string]any) map[string]models.VideoPrompt {
	out := map[string]models.VideoPrompt{}
	for key, v := range m {
		if p, ok := DecodeVideoPrompt(v); ok {
			out[key] = p
		}
	}
	return out
}

// DecodeVideoPrompt 读取单条视频提示词
func DecodeVideoPrompt(v any) (models.VideoPrompt, bool) {
	switch p := v.(type) {
	case map[string]any:
		return models.VideoPrompt{
			Tool:         FirstString(p, "tool"),
			ImageID:      FirstString(p, "image_id", "imageId"),
			Prompt:       FirstString(p, "prompt", "video_prompt", "main_prompt"),
			CameraMotion: FirstString(p, "camera_motion", "camera_movement"),
			Duration:     FirstString(p, "duration"),
		}, true
	case string:
		return models.VideoPrompt{Prompt: String(p)}, true
	}
	return models.VideoPrompt{}, false
}

// DecodeImages 读取以 image_id 标识的图片记录
func DecodeImages(items []any) []models.ShotImage {
	images := make([]models.ShotImage, 0, len(items))
	for _, item := range items {
		m := AsMap(item)
		if m == nil {
			continue
		}
		images = append(images, models.ShotImage{
			ImageID:     FirstString(m, "image_id", "imageId", "id"),
			Tool:        FirstString(m, "tool"),
			URL:         FirstString(m, "url", "image_url"),
			Prompt:      FirstString(m, "prompt"),
			Description: FirstString(m, "description"),
		})
	}
	return images
}

func decodeStringMap(m map[string]any) map[string]string {
	out := map[string]string{}
	for k, v := range m {
		if s := String(v); s != "" {
			out[k] = s
		}
	}
	return out
}
