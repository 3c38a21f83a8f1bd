// internal/classify/classify.go
package classify

import (
	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/ids"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/normalize"
)

// Input 分类器的输入：原始解析值及其规范化结果（可能为 nil）
type Input struct {
	Raw        map[string]any
	Normalized *models.ProductionDocument
	Shape      normalize.Shape
}

// NewInput 对解析值做规范化并组装分类输入
func NewInput(value any) Input {
	doc, shape := normalize.Normalize(value)
	return Input{Raw: normalize.AsMap(value), Normalized: doc, Shape: shape}
}

// Rule 一条分类规则；Match 只看结构，Build 生成对应片段
type Rule struct {
	Tag   models.StageTag
	Match func(Input) bool
	Build func(Input) (Fragment, error)
}

// Rules 按优先级排列，第一条命中的规则生效。多个阶段的载荷字段有重叠，顺序不可调换。
var Rules = []Rule{
	{Tag: models.StageCompleteLoad, Match: isCompleteLoad, Build: buildCompleteLoad},
	{Tag: models.StageScenePatch, Match: isScenePatch, Build: buildScenePatch},
	{Tag: models.StageNarrativeStructure, Match: isNarrative, Build: buildNarrative},
	{Tag: models.StageImagePromptPatch, Match: isImagePromptPatch, Build: buildImagePromptPatch},
	{Tag: models.StageVideoPromptPatch, Match: isVideoPromptPatch, Build: buildVideoPromptPatch},
	{Tag: models.StageAudioPatch, Match: isAudioPatch, Build: buildAudioPatch},
	{Tag: models.StageBackupRestore, Match: isBackup, Build: buildBackup},
	{Tag: models.StageShotBreakdown, Match: isShotBreakdown, Build: buildShotBreakdown},
}

// Classify 依次尝试规则表
func Classify(in Input) (Fragment, error) {
	return ClassifyWith(Rules, in)
}

// ClassifyWith 使用指定规则表分类
func ClassifyWith(rules []Rule, in Input) (Fragment, error) {
	if in.Raw == nil && in.Normalized == nil {
		return nil, apperrors.NewUnrecognizedShapeError("片段不是JSON对象")
	}
	for _, rule := range rules {
		if rule.Match(in) {
			return rule.Build(in)
		}
	}
	return nil, apperrors.NewUnrecognizedShapeError("无法识别的片段结构")
}

// Tag 只返回阶段标签
func Tag(in Input) models.StageTag {
	for _, rule := range Rules {
		if rule.Match(in) {
			return rule.Tag
		}
	}
	return models.StageUnknown
}

// shotRecords 片段中的镜头记录：顶层 shots 或 breakdown_data.shots
func shotRecords(raw map[string]any) []map[string]any {
	items := normalize.AsSlice(raw["shots"])
	if items == nil {
		items = normalize.AsSlice(normalize.AsMap(raw["breakdown_data"])["shots"])
	}
	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m := normalize.AsMap(item); m != nil {
			records = append(records, m)
		}
	}
	return records
}

func shotID(record map[string]any) string {
	return normalize.FirstString(record, "shot_id", "id", "shotId")
}

func hasShotArrays(raw map[string]any) bool {
	if len(shotRecords(raw)) > 0 {
		return true
	}
	for _, s := range normalize.AsSlice(raw["scenes"]) {
		if len(normalize.AsSlice(normalize.AsMap(s)["shots"])) > 0 {
			return true
		}
	}
	return false
}

func narrativeSource(raw map[string]any) map[string]any {
	for _, key := range []string{"narrative_structure", "treatment"} {
		if m := normalize.AsMap(raw[key]); m != nil {
			return m
		}
	}
	return nil
}

func isCompleteLoad(in Input) bool {
	doc := in.Normalized
	return doc != nil &&
		len(doc.Breakdown.Sequences) > 0 &&
		len(doc.Breakdown.Scenes) > 0 &&
		len(doc.Breakdown.Shots) > 0
}

func buildCompleteLoad(in Input) (Fragment, error) {
	return &CompleteLoadFragment{Document: in.Normalized, Shape: in.Shape}, nil
}

func isScenePatch(in Input) bool {
	if in.Raw == nil || in.Raw["current_scene"] == nil {
		return false
	}
	return len(shotRecords(in.Raw)) > 0 || normalize.IsArray(normalize.AsMap(in.Raw["scene"]), "shots")
}

func buildScenePatch(in Input) (Fragment, error) {
	raw := in.Raw
	frag := &ScenePatchFragment{}

	sceneMap := normalize.AsMap(raw["scene"])
	switch current := raw["current_scene"].(type) {
	case map[string]any:
		frag.SceneID = normalize.FirstString(current, "id", "scene_id")
		if sceneMap == nil {
			sceneMap = current
		}
	default:
		frag.SceneID = normalize.String(current)
	}
	if sceneMap != nil {
		scene := normalize.DecodeScene(sceneMap)
		if scene.ID == "" {
			scene.ID = frag.SceneID
		}
		if frag.SceneID == "" {
			frag.SceneID = scene.ID
		}
		frag.Scene = &scene
	}

	records := shotRecords(raw)
	if len(records) == 0 {
		for _, item := range normalize.AsSlice(sceneMap["shots"]) {
			if m := normalize.AsMap(item); m != nil {
				records = append(records, m)
			}
		}
	}
	for _, record := range records {
		shot := normalize.DecodeShot(record)
		if shot.ID == "" {
			continue
		}
		if shot.SceneID == "" {
			shot.SceneID = frag.SceneID
		}
		frag.Shots = append(frag.Shots, shot)
	}
	return frag, nil
}

func isNarrative(in Input) bool {
	if in.Raw != nil && hasShotArrays(in.Raw) {
		return false
	}
	if src := narrativeSource(in.Raw); src != nil {
		return normalize.NonEmptyArray(src, "sequences") || normalize.NonEmptyArray(src, "scenes")
	}
	doc := in.Normalized
	return doc != nil && len(doc.Breakdown.Shots) == 0 &&
		(len(doc.Breakdown.Sequences) > 0 || len(doc.Breakdown.Scenes) > 0)
}

func buildNarrative(in Input) (Fragment, error) {
	frag := &NarrativeFragment{}

	if src := narrativeSource(in.Raw); src != nil {
		meta := normalize.AsMap(normalize.FirstValue(in.Raw, "film_metadata", "metadata"))
		if meta == nil {
			meta = normalize.AsMap(normalize.FirstValue(src, "film_metadata", "metadata"))
		}
		frag.Metadata = normalize.DecodeMetadata(meta)
		for _, s := range normalize.AsSlice(src["sequences"]) {
			frag.Sequences = append(frag.Sequences, normalize.DecodeSequence(normalize.AsMap(s)))
		}
		for _, s := range normalize.AsSlice(src["scenes"]) {
			frag.Scenes = append(frag.Scenes, normalize.DecodeScene(normalize.AsMap(s)))
		}
		return frag, nil
	}

	doc := in.Normalized
	frag.Metadata = doc.Metadata
	frag.Sequences = append(frag.Sequences, doc.Breakdown.Sequences...)
	frag.Scenes = append(frag.Scenes, doc.Breakdown.Scenes...)
	return frag, nil
}

func isImagePromptPatch(in Input) bool {
	for _, record := range shotRecords(in.Raw) {
		if normalize.AsMap(normalize.FirstValue(record, "image_prompts", "prompts")) != nil {
			return true
		}
		if normalize.IsArray(record, "generated_images") {
			return true
		}
	}
	return false
}

func buildImagePromptPatch(in Input) (Fragment, error) {
	frag := &ImagePromptFragment{}
	for _, record := range shotRecords(in.Raw) {
		id := shotID(record)
		if id == "" {
			continue
		}
		shot := normalize.DecodeShot(record)
		shot.ID, shot.SceneID = "", ""
		rec := ImagePromptRecord{ShotID: id, Shot: shot}
		for _, item := range normalize.AsSlice(record["generated_images"]) {
			m := normalize.AsMap(item)
			rec.Generated = append(rec.Generated, GeneratedImage{
				Tool:        normalize.FirstString(m, "tool"),
				ImageID:     normalize.FirstString(m, "image_id", "imageId", "id"),
				URL:         normalize.FirstString(m, "url", "image_url"),
				Description: normalize.FirstString(m, "description"),
			})
		}
		frag.Records = append(frag.Records, rec)
	}
	return frag, nil
}

func isVideoPromptPatch(in Input) bool {
	switch in.Raw["video_prompts"].(type) {
	case map[string]any, []any:
		return true
	}
	for _, record := range shotRecords(in.Raw) {
		if normalize.AsMap(record["video_prompts"]) != nil {
			return true
		}
	}
	return false
}

func buildVideoPromptPatch(in Input) (Fragment, error) {
	frag := &VideoPromptFragment{}

	switch v := in.Raw["video_prompts"].(type) {
	case []any:
		for _, item := range v {
			m := normalize.AsMap(item)
			prompt, ok := normalize.DecodeVideoPrompt(m)
			if !ok {
				continue
			}
			frag.add(shotID(m), normalize.FirstString(m, "key"), prompt, normalize.FirstString(m, "url", "video_url"))
		}
	case map[string]any:
		for shot, entries := range v {
			for key, p := range normalize.AsMap(entries) {
				prompt, ok := normalize.DecodeVideoPrompt(p)
				if !ok {
					continue
				}
				frag.add(shot, key, prompt, normalize.FirstString(normalize.AsMap(p), "url", "video_url"))
			}
		}
	}

	for _, record := range shotRecords(in.Raw) {
		id := shotID(record)
		urls := normalize.AsMap(record["video_urls"])
		for key, p := range normalize.AsMap(record["video_prompts"]) {
			prompt, ok := normalize.DecodeVideoPrompt(p)
			if !ok {
				continue
			}
			frag.add(id, key, prompt, normalize.String(urls[key]))
		}
	}
	return frag, nil
}

// add 补齐 key 与 tool/image_id 之间互相缺失的部分
func (f *VideoPromptFragment) add(shot, key string, prompt models.VideoPrompt, url string) {
	if shot == "" {
		return
	}
	if key == "" {
		if prompt.Tool == "" || prompt.ImageID == "" {
			return
		}
		key = ids.VideoKey(prompt.Tool, prompt.ImageID)
	}
	tool, imageID := ids.SplitVideoKey(key)
	if prompt.Tool == "" {
		prompt.Tool = tool
	}
	if prompt.ImageID == "" {
		prompt.ImageID = imageID
	}
	f.Entries = append(f.Entries, VideoPromptEntry{ShotID: shot, Key: key, Prompt: prompt, URL: url})
}

func isAudioPatch(in Input) bool {
	return normalize.IsArray(normalize.AsMap(in.Raw["audio_data"]), "shots")
}

func buildAudioPatch(in Input) (Fragment, error) {
	frag := &AudioFragment{}
	for _, item := range normalize.AsSlice(normalize.AsMap(in.Raw["audio_data"])["shots"]) {
		record := normalize.AsMap(item)
		id := shotID(record)
		if id == "" {
			continue
		}
		source := normalize.AsMap(record["content"])
		if source == nil {
			source = record
		}
		frag.Records = append(frag.Records, AudioRecord{ShotID: id, Content: normalize.DecodeContent(source)})
	}
	return frag, nil
}

func isBackup(in Input) bool {
	switch models.BackupType(normalize.FirstString(in.Raw, "type")) {
	case models.BackupFull, models.BackupURLs:
		return true
	}
	return false
}

func buildBackup(in Input) (Fragment, error) {
	raw := in.Raw
	frag := &BackupFragment{
		Type:        models.BackupType(normalize.FirstString(raw, "type")),
		Version:     normalize.FirstString(raw, "version"),
		ExportedAt:  normalize.FirstString(raw, "exported_at", "exportedAt"),
		ProjectName: normalize.FirstString(raw, "project_name", "projectName"),
	}

	if frag.Type == models.BackupFull {
		doc, _ := normalize.Normalize(raw["data"])
		if doc == nil {
			return nil, apperrors.NewUnrecognizedShapeError("完整备份中的 data 不是可识别的制作文档")
		}
		frag.Document = doc
		return frag, nil
	}

	frag.URLs = make(map[string]models.ShotURLData)
	for id, v := range normalize.AsMap(raw["shots"]) {
		frag.URLs[id] = decodeShotURLs(normalize.AsMap(v))
	}
	return frag, nil
}

func decodeShotURLs(m map[string]any) models.ShotURLData {
	data := models.ShotURLData{
		AIGeneratedImages: map[string][]models.ImageSlot{},
		VideoURLs:         map[string]string{},
		ReferenceImages:   normalize.DecodeReferenceImages(normalize.AsSlice(m["reference_images"])),
		MainImages:        normalize.DecodeReferenceImages(normalize.AsSlice(m["main_images"])),
		Images:            normalize.DecodeImages(normalize.AsSlice(m["images"])),
	}

	generated := normalize.AsMap(normalize.AsMap(m["image_design"])["ai_generated_images"])
	if generated == nil {
		generated = normalize.AsMap(m["ai_generated_images"])
	}
	for tool, v := range generated {
		data.AIGeneratedImages[tool] = normalize.DecodeImageSlots(normalize.AsSlice(v))
	}
	for key, v := range normalize.AsMap(m["video_urls"]) {
		if s := normalize.String(v); s != "" {
			data.VideoURLs[key] = s
		}
	}

	audio := normalize.AsMap(normalize.AsMap(m["content"])["audio_urls"])
	if audio == nil {
		audio = normalize.AsMap(m["audio_urls"])
	}
	if audio != nil {
		urls := normalize.DecodeAudioURLs(audio)
		data.AudioURLs = &urls
	}
	return data
}

func isShotBreakdown(in Input) bool {
	for _, record := range shotRecords(in.Raw) {
		if shotID(record) != "" {
			return true
		}
	}
	return false
}

func buildShotBreakdown(in Input) (Fragment, error) {
	frag := &BreakdownFragment{}
	for _, record := range shotRecords(in.Raw) {
		shot := normalize.DecodeShot(record)
		if shot.ID == "" {
			continue
		}
		frag.Shots = append(frag.Shots, shot)
	}
	return frag, nil
}
