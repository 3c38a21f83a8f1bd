// internal/normalize/legacy.go
package normalize

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Corphon/ShotPipelineMCP/internal/ids"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

//go:embed legacy_seed.yaml
var legacySeedYAML []byte

// SeedSequence 旧版场景前缀对应的序列信息
type SeedSequence struct {
	Prefix   string `yaml:"prefix"`
	Title    string `yaml:"title"`
	Function string `yaml:"function"`
}

// Seed 旧版项目的种子数据
type Seed struct {
	Sequences []SeedSequence `yaml:"sequences"`
}

// Lookup 按前缀查找
func (s *Seed) Lookup(prefix string) (SeedSequence, bool) {
	if s == nil {
		return SeedSequence{}, false
	}
	for _, seq := range s.Sequences {
		if seq.Prefix == prefix {
			return seq, true
		}
	}
	return SeedSequence{}, false
}

// ParseSeed 解析种子表YAML
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("解析旧版序列种子表失败: %w", err)
	}
	return &seed, nil
}

var (
	seedOnce   sync.Once
	seedLoaded *Seed
)

func defaultSeed() *Seed {
	seedOnce.Do(func() {
		seed, err := ParseSeed(legacySeedYAML)
		if err != nil {
			utils.GetLogger().Error("内置种子表无效，使用空表", map[string]interface{}{"error": err.Error()})
			seed = &Seed{}
		}
		seedLoaded = seed
	})
	return seedLoaded
}

// legacyMetadata 旧版 project/global_defaults 字段对照
func legacyMetadata(project, defaults map[string]any) models.FilmMetadata {
	style := FirstString(project, "style")
	if style == "" {
		style = FirstString(defaults, "style", "visual_style")
	}
	return models.FilmMetadata{
		Title:       FirstString(project, "name", "title"),
		Genre:       FirstString(project, "genre", "type"),
		Logline:     FirstString(project, "logline", "concept"),
		Duration:    FirstString(project, "duration"),
		VisualStyle: style,
		AspectRatio: FirstString(defaults, "aspect_ratio"),
		Client:      FirstString(project, "client", "brand"),
		Language:    FirstString(project, "language"),
		CreatedAt:   FirstString(project, "created_at"),
	}
}

// fromLegacy 旧版扁平结构：每个不同的场景前缀合成一个序列
func fromLegacy(root map[string]any, seed *Seed) *models.ProductionDocument {
	doc := models.NewProductionDocument()
	defaults := AsMap(root["global_defaults"])
	doc.Metadata = legacyMetadata(AsMap(root["project"]), defaults)

	prefixToSequence := map[string]string{}

	for i, s := range AsSlice(root["scenes"]) {
		sceneMap := AsMap(s)
		sceneID := FirstString(sceneMap, "scene_id", "id", "scene_number")
		if sceneID == "" {
			sceneID = fmt.Sprintf("S%02d", i+1)
		}

		prefix := ids.ScenePrefix(sceneID)
		seqID, ok := prefixToSequence[prefix]
		if !ok {
			seqID = fmt.Sprintf("SEQ%02d", len(prefixToSequence)+1)
			prefixToSequence[prefix] = seqID

			seq := models.Sequence{ID: seqID, Title: "Sequence " + prefix}
			if known, found := seed.Lookup(prefix); found {
				seq.Title = known.Title
				seq.Function = known.Function
			}
			doc.Breakdown.Sequences = append(doc.Breakdown.Sequences, seq)
		}

		scene := models.Scene{
			ID:           sceneID,
			SequenceID:   seqID,
			Title:        FirstString(sceneMap, "title", "scene_title", "name"),
			Description:  FirstString(sceneMap, "description", "summary"),
			Location:     FirstString(sceneMap, "location"),
			TimeOfDay:    FirstString(sceneMap, "time_of_day", "time"),
			OriginalText: FirstString(sceneMap, "original_text", "script"),
			ShotIDs:      []string{},
		}

		doc.Breakdown.Shots = append(doc.Breakdown.Shots,
			embeddedShots(sceneID, AsSlice(sceneMap["shots"]), legacyShot(defaults))...)
		doc.Breakdown.Scenes = append(doc.Breakdown.Scenes, scene)
	}

	doc.HasStructuralBackbone = true
	return doc
}

// legacyShot 旧版镜头字段改名：camera/sound/image_plan 等
func legacyShot(defaults map[string]any) func(map[string]any) models.Shot {
	return func(m map[string]any) models.Shot {
		shot := DecodeShot(m)
		if shot.Duration == "" {
			shot.Duration = FirstString(defaults, "shot_duration", "duration")
		}
		if dialogue := m["dialogue"]; dialogue != nil && len(shot.Content.Dialogue) == 0 {
			shot.Content.Dialogue = DecodeDialogue(dialogue)
		}
		if shot.Content.Narration == "" {
			shot.Content.Narration = FirstString(m, "narration", "voiceover")
		}
		return shot
	}
}
