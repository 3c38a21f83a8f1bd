// internal/normalize/normalize.go
package normalize

import (
	"fmt"

	"github.com/Corphon/ShotPipelineMCP/internal/ids"
	"github.com/Corphon/ShotPipelineMCP/internal/merge"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

// Shape 历史文档结构
type Shape string

const (
	ShapeUnknown     Shape = ""
	ShapeCanonical   Shape = "canonical"
	ShapePassThrough Shape = "pass_through"
	ShapeFlatScene   Shape = "flat_scene"
	ShapeLegacyFlat  Shape = "legacy_flat"
)

const (
	// DefaultSequenceID 扁平场景文档没有任何序列信息时使用
	DefaultSequenceID    = "SEQ01"
	defaultSequenceTitle = "Main Sequence"
)

// Detect 按结构特征识别文档形态，不信任版本字段
func Detect(raw any) Shape {
	root := AsMap(raw)
	if root == nil {
		return ShapeUnknown
	}

	breakdown := AsMap(root["breakdown_data"])
	if IsArray(breakdown, "sequences") && IsArray(breakdown, "scenes") && IsArray(breakdown, "shots") {
		return ShapeCanonical
	}

	if hasBackbone(root) || hasBackbone(breakdown) {
		return ShapePassThrough
	}

	if !scenesEmbedShots(root) {
		return ShapeUnknown
	}
	if AsMap(root["project"]) != nil {
		return ShapeLegacyFlat
	}
	if _, ok := root["sequences"]; !ok {
		return ShapeFlatScene
	}
	return ShapeUnknown
}

func hasBackbone(m map[string]any) bool {
	return NonEmptyArray(m, "sequences") && NonEmptyArray(m, "scenes")
}

func scenesEmbedShots(root map[string]any) bool {
	for _, s := range AsSlice(root["scenes"]) {
		if IsArray(AsMap(s), "shots") {
			return true
		}
	}
	return false
}

// Normalize 把任一已知历史形态改写为规范文档；无法识别时返回 nil
func Normalize(raw any) (*models.ProductionDocument, Shape) {
	shape := Detect(raw)
	root := AsMap(raw)

	var doc *models.ProductionDocument
	switch shape {
	case ShapeCanonical, ShapePassThrough:
		doc = fromBackbone(root)
	case ShapeFlatScene:
		doc = fromFlatScene(root)
	case ShapeLegacyFlat:
		doc = fromLegacy(root, defaultSeed())
	default:
		return nil, ShapeUnknown
	}

	Backfill(doc)
	doc.Metadata.SchemaVersion = models.CanonicalSchemaVersion
	doc.Metadata.SourceSchema = string(shape)
	return doc, shape
}

// fromBackbone 规范结构与兼容结构只做字段读取，不改写结构
func fromBackbone(root map[string]any) *models.ProductionDocument {
	doc := models.NewProductionDocument()

	container := root
	if breakdown := AsMap(root["breakdown_data"]); breakdown != nil && IsArray(breakdown, "scenes") {
		container = breakdown
	}

	doc.Metadata = DecodeMetadata(AsMap(FirstValue(root, "film_metadata", "metadata")))
	for _, s := range AsSlice(container["sequences"]) {
		doc.Breakdown.Sequences = append(doc.Breakdown.Sequences, DecodeSequence(AsMap(s)))
	}
	for _, s := range AsSlice(container["scenes"]) {
		doc.Breakdown.Scenes = append(doc.Breakdown.Scenes, DecodeScene(AsMap(s)))
	}
	shots := FirstValue(container, "shots")
	if shots == nil {
		shots = FirstValue(AsMap(root["breakdown_data"]), "shots")
	}
	if shots == nil {
		shots = root["shots"]
	}
	for _, s := range AsSlice(shots) {
		doc.Breakdown.Shots = append(doc.Breakdown.Shots, DecodeShot(AsMap(s)))
	}

	if flag, ok := root["hasStructuralBackbone"].(bool); ok {
		doc.HasStructuralBackbone = flag
	} else {
		doc.HasStructuralBackbone = len(doc.Breakdown.Scenes) > 0
	}
	return doc
}

// fromFlatScene 按场景声明的主序列分组并展开镜头
func fromFlatScene(root map[string]any) *models.ProductionDocument {
	doc := models.NewProductionDocument()
	doc.Metadata = DecodeMetadata(AsMap(FirstValue(root, "film_metadata", "metadata")))
	if doc.Metadata.Title == "" {
		doc.Metadata.Title = FirstString(root, "title")
	}

	for i, s := range AsSlice(root["scenes"]) {
		sceneMap := AsMap(s)
		scene := DecodeScene(sceneMap)
		if scene.ID == "" {
			scene.ID = fmt.Sprintf("S%02d", i+1)
		}

		seqID := primarySequence(sceneMap)
		if seqID == "" {
			seqID = DefaultSequenceID
		}
		scene.SequenceID = seqID
		if doc.SequenceIndex(seqID) < 0 {
			title := FirstString(sceneMap, "sequence_title")
			if title == "" {
				title = defaultSequenceTitle
				if seqID != DefaultSequenceID {
					title = "Sequence " + seqID
				}
			}
			doc.Breakdown.Sequences = append(doc.Breakdown.Sequences, models.Sequence{ID: seqID, Title: title})
		}

		doc.Breakdown.Shots = append(doc.Breakdown.Shots, embeddedShots(scene.ID, AsSlice(sceneMap["shots"]), DecodeShot)...)
		doc.Breakdown.Scenes = append(doc.Breakdown.Scenes, scene)
	}

	doc.HasStructuralBackbone = len(doc.Breakdown.Scenes) > 0
	return doc
}

func primarySequence(scene map[string]any) string {
	switch v := FirstValue(scene, "sequence_id", "sequence", "sequences").(type) {
	case []any:
		for _, item := range v {
			if id := ids.PrimarySequenceID(String(item)); id != "" {
				return id
			}
		}
		return ""
	default:
		return ids.PrimarySequenceID(String(v))
	}
}

// embeddedShots 把场景内嵌的镜头展开；缺失ID时按场景内序号生成
func embeddedShots(sceneID string, items []any, decode func(map[string]any) models.Shot) []models.Shot {
	shots := make([]models.Shot, 0, len(items))
	for i, item := range items {
		shot := decode(AsMap(item))
		if shot.ID == "" {
			shot.ID = fmt.Sprintf("%s.%02d", sceneID, i+1)
		}
		if shot.SceneID == "" {
			shot.SceneID = sceneID
		}
		shots = append(shots, shot)
	}
	return shots
}

// Backfill 补全镜头的 scene_id 与场景的 shot_ids，可重复执行
func Backfill(doc *models.ProductionDocument) {
	if doc == nil {
		return
	}
	for i := range doc.Breakdown.Shots {
		shot := &doc.Breakdown.Shots[i]
		if shot.SceneID == "" {
			shot.SceneID = ids.SceneIDFromShotID(shot.ID)
		}
	}

	byScene := make(map[string][]string, len(doc.Breakdown.Scenes))
	for _, shot := range doc.Breakdown.Shots {
		if shot.SceneID != "" && shot.ID != "" {
			byScene[shot.SceneID] = append(byScene[shot.SceneID], shot.ID)
		}
	}
	for i := range doc.Breakdown.Scenes {
		scene := &doc.Breakdown.Scenes[i]
		scene.ShotIDs = merge.AppendUnique(scene.ShotIDs, byScene[scene.ID]...)
	}
}
