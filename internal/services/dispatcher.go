// internal/services/dispatcher.go
package services

import (
	"fmt"
	"strconv"

	"github.com/Corphon/ShotPipelineMCP/internal/classify"
	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/ids"
	"github.com/Corphon/ShotPipelineMCP/internal/merge"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/normalize"
)

// ConfirmFunc 完整备份恢复前的是/否确认
type ConfirmFunc func(models.BackupSummary) bool

// MergeOutcome 一次合并的结果；Document/Caches 是新的副本
type MergeOutcome struct {
	Document             *models.ProductionDocument
	Caches               *models.StageCaches
	MergedCount          int
	Total                int
	MissingReferences    []string
	SlotFallbacks        []string
	RequiresConfirmation bool
	Summary              *models.BackupSummary
}

// missing 记录未匹配的引用，同一ID只记一次
func (o *MergeOutcome) missing(id string) {
	o.MissingReferences = merge.AppendUnique(o.MissingReferences, id)
}

// Refused 未执行合并（等待确认）
func (o *MergeOutcome) Refused() bool {
	return o.RequiresConfirmation
}

// Dispatcher 按阶段把片段合并进文档，并检查各阶段的前置条件
type Dispatcher struct {
	ImageTools []string
}

// NewDispatcher 创建调度器
func NewDispatcher(imageTools []string) *Dispatcher {
	if len(imageTools) == 0 {
		imageTools = merge.DefaultImageTools
	}
	return &Dispatcher{ImageTools: imageTools}
}

// Apply 在副本上合并片段。前置条件不满足时返回 PreconditionNotMet，原文档与缓存不受影响。
func (d *Dispatcher) Apply(doc *models.ProductionDocument, caches *models.StageCaches, frag classify.Fragment, confirm ConfirmFunc) (*MergeOutcome, error) {
	if doc == nil {
		doc = models.NewProductionDocument()
	}
	if caches == nil {
		caches = models.NewStageCaches()
	}
	if err := d.checkPrecondition(doc, frag); err != nil {
		return nil, err
	}

	work, err := doc.Clone()
	if err != nil {
		return nil, apperrors.NewProcessingError("复制文档失败", err)
	}
	out := &MergeOutcome{Document: work, Caches: cloneCaches(caches)}

	switch f := frag.(type) {
	case *classify.CompleteLoadFragment:
		d.replace(out, f.Document)
	case *classify.BackupFragment:
		if f.Type == models.BackupFull {
			summary := f.Summary()
			out.Summary = &summary
			if confirm == nil || !confirm(summary) {
				out.Document = doc
				out.Caches = caches
				out.RequiresConfirmation = true
				return out, nil
			}
			d.replace(out, f.Document)
		} else {
			d.applyURLBackup(out, f)
		}
	case *classify.NarrativeFragment:
		d.applyNarrative(out, f)
	case *classify.BreakdownFragment:
		d.applyBreakdown(out, f)
	case *classify.ScenePatchFragment:
		d.applyScenePatch(out, f)
	case *classify.ImagePromptFragment:
		d.applyImagePrompts(out, f)
	case *classify.VideoPromptFragment:
		d.applyVideoPrompts(out, f)
	case *classify.AudioFragment:
		d.applyAudio(out, f)
	default:
		return nil, apperrors.NewUnrecognizedShapeError(fmt.Sprintf("没有对应的合并规则: %T", frag))
	}
	return out, nil
}

// checkPrecondition 叙事结构无要求；分镜需要骨架；其余补丁需要骨架且至少一个镜头
func (d *Dispatcher) checkPrecondition(doc *models.ProductionDocument, frag classify.Fragment) error {
	stage := string(frag.Stage())
	switch f := frag.(type) {
	case *classify.NarrativeFragment, *classify.CompleteLoadFragment:
		return nil
	case *classify.BackupFragment:
		if f.Type == models.BackupFull {
			return nil
		}
	case *classify.BreakdownFragment:
		if !doc.HasBackbone() {
			return apperrors.NewPreconditionError(stage, "请先载入序列/场景结构")
		}
		return nil
	}
	if !doc.HasBackbone() || !doc.HasShots() {
		return apperrors.NewPreconditionError(stage, "请先载入结构骨架和分镜")
	}
	return nil
}

// replace 整体替换文档，重新补全并填充默认结构
func (d *Dispatcher) replace(out *MergeOutcome, incoming *models.ProductionDocument) {
	doc, err := incoming.Clone()
	if err != nil || doc == nil {
		doc = models.NewProductionDocument()
	}
	normalize.Backfill(doc)
	merge.DocumentDefaults(doc, d.ImageTools)
	if len(doc.Breakdown.Scenes) > 0 {
		doc.HasStructuralBackbone = true
	}
	if doc.Metadata.SchemaVersion == "" {
		doc.Metadata.SchemaVersion = models.CanonicalSchemaVersion
	}

	out.Document = doc
	out.Caches = CachesFromDocument(doc)
	out.MergedCount = len(doc.Breakdown.Shots)
	out.Total = len(doc.Breakdown.Shots)
}

func (d *Dispatcher) applyNarrative(out *MergeOutcome, f *classify.NarrativeFragment) {
	doc := out.Document
	doc.Metadata = merge.Metadata(doc.Metadata, f.Metadata)
	out.Total = len(f.Sequences) + len(f.Scenes)

	for _, seq := range f.Sequences {
		if seq.ID == "" {
			continue
		}
		if idx := doc.SequenceIndex(seq.ID); idx >= 0 {
			doc.Breakdown.Sequences[idx] = merge.Sequence(doc.Breakdown.Sequences[idx], seq)
		} else {
			doc.Breakdown.Sequences = append(doc.Breakdown.Sequences, seq)
		}
		out.MergedCount++
	}

	for _, scene := range f.Scenes {
		if scene.ID == "" {
			continue
		}
		// 镜头归属只由分镜阶段建立
		scene.ShotIDs = nil
		if idx := doc.SceneIndex(scene.ID); idx >= 0 {
			doc.Breakdown.Scenes[idx] = merge.Scene(doc.Breakdown.Scenes[idx], scene)
			out.MergedCount++
			continue
		}
		if scene.SequenceID != "" && len(doc.Breakdown.Sequences) > 0 && doc.SequenceIndex(scene.SequenceID) < 0 {
			out.missing(scene.SequenceID)
			continue
		}
		scene.ShotIDs = []string{}
		doc.Breakdown.Scenes = append(doc.Breakdown.Scenes, scene)
		out.MergedCount++
	}

	if len(doc.Breakdown.Scenes) > 0 {
		doc.HasStructuralBackbone = true
	}
}

// findScene 先精确匹配，再按规范化场景ID匹配
func findScene(doc *models.ProductionDocument, id string) int {
	if id == "" {
		return -1
	}
	if idx := doc.SceneIndex(id); idx >= 0 {
		return idx
	}
	canonical := ids.CanonicalSceneID(id)
	for i := range doc.Breakdown.Scenes {
		if ids.CanonicalSceneID(doc.Breakdown.Scenes[i].ID) == canonical {
			return i
		}
	}
	return -1
}

// upsertShot 合并已有镜头，或在已存在的场景下追加新镜头；返回是否成功
func (d *Dispatcher) upsertShot(doc *models.ProductionDocument, lookup *ids.ShotLookup, shot models.Shot) bool {
	if idx := lookup.Find(shot.ID); idx >= 0 {
		doc.Breakdown.Shots[idx] = merge.Shot(doc.Breakdown.Shots[idx], shot)
		return true
	}

	sceneID := shot.SceneID
	if sceneID == "" {
		sceneID = ids.SceneIDFromShotID(shot.ID)
	}
	sceneIdx := findScene(doc, sceneID)
	if sceneIdx < 0 {
		return false
	}

	scene := &doc.Breakdown.Scenes[sceneIdx]
	shot.SceneID = scene.ID
	doc.Breakdown.Shots = append(doc.Breakdown.Shots, merge.ShotDefaults(shot, d.ImageTools))
	lookup.Add(shot.ID, len(doc.Breakdown.Shots)-1)
	scene.ShotIDs = merge.AppendUnique(scene.ShotIDs, shot.ID)
	return true
}

func (d *Dispatcher) applyBreakdown(out *MergeOutcome, f *classify.BreakdownFragment) {
	doc := out.Document
	lookup := ids.NewShotLookup(doc.Breakdown.Shots)
	out.Total = len(f.Shots)

	for _, shot := range f.Shots {
		if d.upsertShot(doc, lookup, shot) {
			out.MergedCount++
		} else {
			out.missing(shot.ID)
		}
	}
	normalize.Backfill(doc)
}

func (d *Dispatcher) applyScenePatch(out *MergeOutcome, f *classify.ScenePatchFragment) {
	doc := out.Document
	out.Total = len(f.Shots)

	sceneIdx := findScene(doc, f.SceneID)
	if sceneIdx < 0 {
		out.missing(f.SceneID)
		return
	}
	if f.Scene != nil {
		patch := *f.Scene
		patch.ID = doc.Breakdown.Scenes[sceneIdx].ID
		doc.Breakdown.Scenes[sceneIdx] = merge.Scene(doc.Breakdown.Scenes[sceneIdx], patch)
	}

	lookup := ids.NewShotLookup(doc.Breakdown.Shots)
	for _, shot := range f.Shots {
		if shot.SceneID == "" || findScene(doc, shot.SceneID) < 0 {
			shot.SceneID = doc.Breakdown.Scenes[sceneIdx].ID
		}
		if d.upsertShot(doc, lookup, shot) {
			out.MergedCount++
		} else {
			out.missing(shot.ID)
		}
	}
	normalize.Backfill(doc)
}

func (d *Dispatcher) applyImagePrompts(out *MergeOutcome, f *classify.ImagePromptFragment) {
	doc := out.Document
	lookup := ids.NewShotLookup(doc.Breakdown.Shots)
	out.Total = len(f.Records)

	for _, rec := range f.Records {
		idx := lookup.Find(rec.ShotID)
		if idx < 0 {
			out.missing(rec.ShotID)
			continue
		}

		shot := merge.Shot(doc.Breakdown.Shots[idx], rec.Shot)

		for _, g := range rec.Generated {
			tool := g.Tool
			if tool == "" {
				tool = "universal"
			}
			res := ids.ResolveSlot(g.ImageID)
			if res.Fallback {
				out.SlotFallbacks = append(out.SlotFallbacks, shot.ID+":"+g.ImageID)
			}
			shot.ImageDesign.AIGeneratedImages[tool] = merge.WriteSlot(
				shot.ImageDesign.AIGeneratedImages[tool], res.Index,
				models.ImageSlot{URL: g.URL, Description: g.Description})
			if g.ImageID != "" {
				shot.Images = merge.Images(shot.Images, []models.ShotImage{{
					ImageID: g.ImageID, Tool: tool, URL: g.URL, Description: g.Description,
				}})
			}
			if g.URL != "" {
				cacheURL(out.Caches, shot.ID, tool+"_"+strconv.Itoa(res.Index), g.URL)
			}
		}

		doc.Breakdown.Shots[idx] = shot
		for tool := range rec.Shot.ImagePrompts {
			cachePrompt(out.Caches, shot.ID, tool, shot.ImagePrompts[tool])
		}
		for key := range rec.Shot.VideoPrompts {
			cacheVideo(out.Caches, shot.ID, key, shot.VideoPrompts[key])
		}
		for key, url := range rec.Shot.VideoURLs {
			cacheURL(out.Caches, shot.ID, key, url)
		}
		out.MergedCount++
	}
}

func (d *Dispatcher) applyVideoPrompts(out *MergeOutcome, f *classify.VideoPromptFragment) {
	doc := out.Document
	lookup := ids.NewShotLookup(doc.Breakdown.Shots)
	out.Total = len(f.Entries)

	for _, e := range f.Entries {
		idx := lookup.Find(e.ShotID)
		if idx < 0 {
			out.missing(e.ShotID)
			continue
		}
		incoming := models.Shot{VideoPrompts: map[string]models.VideoPrompt{e.Key: e.Prompt}}
		if e.URL != "" {
			incoming.VideoURLs = map[string]string{e.Key: e.URL}
		}
		shot := merge.Shot(doc.Breakdown.Shots[idx], incoming)
		doc.Breakdown.Shots[idx] = shot

		cacheVideo(out.Caches, shot.ID, e.Key, shot.VideoPrompts[e.Key])
		if e.URL != "" {
			cacheURL(out.Caches, shot.ID, e.Key, e.URL)
		}
		out.MergedCount++
	}
}

func (d *Dispatcher) applyAudio(out *MergeOutcome, f *classify.AudioFragment) {
	doc := out.Document
	lookup := ids.NewShotLookup(doc.Breakdown.Shots)
	out.Total = len(f.Records)

	for _, rec := range f.Records {
		idx := lookup.Find(rec.ShotID)
		if idx < 0 {
			out.missing(rec.ShotID)
			continue
		}
		doc.Breakdown.Shots[idx] = merge.Shot(doc.Breakdown.Shots[idx], models.Shot{Content: rec.Content})
		out.MergedCount++
	}
}

func (d *Dispatcher) applyURLBackup(out *MergeOutcome, f *classify.BackupFragment) {
	doc := out.Document
	lookup := ids.NewShotLookup(doc.Breakdown.Shots)
	out.Total = len(f.URLs)

	for _, shotID := range sortedKeys(f.URLs) {
		data := f.URLs[shotID]
		idx := lookup.Find(shotID)
		if idx < 0 {
			out.missing(shotID)
			continue
		}
		incoming := models.Shot{
			ImageDesign:     models.ImageDesign{AIGeneratedImages: data.AIGeneratedImages},
			VideoURLs:       data.VideoURLs,
			Images:          data.Images,
			ReferenceImages: data.ReferenceImages,
			MainImages:      data.MainImages,
		}
		if data.AudioURLs != nil {
			incoming.Content.AudioURLs = *data.AudioURLs
		}
		shot := merge.Shot(doc.Breakdown.Shots[idx], incoming)
		doc.Breakdown.Shots[idx] = shot

		for tool, slots := range data.AIGeneratedImages {
			for i, slot := range slots {
				if slot.URL != "" {
					cacheURL(out.Caches, shot.ID, tool+"_"+strconv.Itoa(i), slot.URL)
				}
			}
		}
		for key, url := range data.VideoURLs {
			cacheURL(out.Caches, shot.ID, key, url)
		}
		out.MergedCount++
	}
}
