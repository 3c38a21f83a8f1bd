// internal/merge/defaults.go
package merge

import "github.com/Corphon/ShotPipelineMCP/internal/models"

// DefaultImageTools 未配置时为每个镜头预留的图像工具
var DefaultImageTools = []string{"universal", "nanobana", "midjourney", "seedream"}

// ShotDefaults 补齐镜头的空结构：每个工具一个空提示词和3个空槽位，参考图/主图各3个空槽位，
// 所有映射非 nil。已有内容保持不变。
func ShotDefaults(shot models.Shot, tools []string) models.Shot {
	if len(tools) == 0 {
		tools = DefaultImageTools
	}

	out := shot
	out.ImagePrompts = Map(shot.ImagePrompts, nil, ToolPrompt)
	out.ImageDesign.AIGeneratedImages = Map(shot.ImageDesign.AIGeneratedImages, nil, ImageSlots)
	for _, tool := range tools {
		if _, ok := out.ImagePrompts[tool]; !ok {
			out.ImagePrompts[tool] = models.ToolPrompt{}
		}
		if _, ok := out.ImageDesign.AIGeneratedImages[tool]; !ok {
			out.ImageDesign.AIGeneratedImages[tool] = nil
		}
	}
	for tool, slots := range out.ImageDesign.AIGeneratedImages {
		out.ImageDesign.AIGeneratedImages[tool] = PadSlots(slots)
	}
	if out.ImageDesign.Plans == nil {
		out.ImageDesign.Plans = []models.ImagePlan{}
	}

	out.ReferenceImages = PadReferences(shot.ReferenceImages)
	out.MainImages = PadReferences(shot.MainImages)
	out.VideoPrompts = Map(shot.VideoPrompts, nil, VideoPrompt)
	out.VideoURLs = Map(shot.VideoURLs, nil, Scalar)
	if out.Images == nil {
		out.Images = []models.ShotImage{}
	}

	out.Content.Dialogue = Map(shot.Content.Dialogue, nil, Scalar)
	out.Content.AudioURLs = AudioURLs(shot.Content.AudioURLs, models.AudioURLs{})
	return out
}

// DocumentDefaults 对文档中每个镜头和场景补齐空结构
func DocumentDefaults(doc *models.ProductionDocument, tools []string) {
	if doc == nil {
		return
	}
	for i := range doc.Breakdown.Scenes {
		if doc.Breakdown.Scenes[i].ShotIDs == nil {
			doc.Breakdown.Scenes[i].ShotIDs = []string{}
		}
	}
	for i := range doc.Breakdown.Shots {
		doc.Breakdown.Shots[i] = ShotDefaults(doc.Breakdown.Shots[i], tools)
	}
}
