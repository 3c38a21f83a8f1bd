// internal/ids/ids.go
package ids

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

// SlotRule 命中的槽位解析规则
type SlotRule string

const (
	RulePlanTagged    SlotRule = "plan_tagged"    // A-01 / B-02 / C-03
	RulePrefixed      SlotRule = "prefixed"       // IMG_001
	RuleTrailingDigit SlotRule = "trailing_digit" // 1 / img3 / shot-2
	RuleFallback      SlotRule = "fallback"
)

// Resolution 槽位解析结果
type Resolution struct {
	Index    int
	Rule     SlotRule
	Fallback bool
}

var (
	planTaggedPattern = regexp.MustCompile(`^[A-Ca-c]-(\d{2})$`)
	prefixedPattern   = regexp.MustCompile(`^(?i:IMG)[_\-]?(\d+)$`)
	trailingPattern   = regexp.MustCompile(`(\d+)\D*$`)
	shotIDPattern     = regexp.MustCompile(`^[Ss](\d+)[._\- ](\d+)([A-Za-z]?)$`)
	sceneIDPattern    = regexp.MustCompile(`^[Ss](\d+)$`)
)

// ResolveSlotIndex 把图片标识解析为 [0,2] 范围内的槽位
func ResolveSlotIndex(imageID string) int {
	return ResolveSlot(imageID).Index
}

// ResolveSlot 按固定顺序匹配规则；都不匹配时返回槽位0并标记 Fallback
func ResolveSlot(imageID string) Resolution {
	id := strings.TrimSpace(imageID)

	if m := planTaggedPattern.FindStringSubmatch(id); m != nil {
		if idx, ok := ordinalToSlot(m[1]); ok {
			return Resolution{Index: idx, Rule: RulePlanTagged}
		}
	}

	if m := prefixedPattern.FindStringSubmatch(id); m != nil {
		if idx, ok := ordinalToSlot(m[1]); ok {
			return Resolution{Index: idx, Rule: RulePrefixed}
		}
	}

	if m := trailingPattern.FindStringSubmatch(id); m != nil {
		if idx, ok := ordinalToSlot(m[1]); ok {
			return Resolution{Index: idx, Rule: RuleTrailingDigit}
		}
	}

	return Resolution{Index: 0, Rule: RuleFallback, Fallback: true}
}

// ordinalToSlot 序号1..3映射到0..2，0保持为0
func ordinalToSlot(digits string) (int, bool) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	switch {
	case n == 0:
		return 0, true
	case n >= 1 && n <= models.SlotCount:
		return n - 1, true
	default:
		return 0, false
	}
}

// CanonicalShotID 统一镜头ID写法：s1-2 / S01_02 / S1.2 → S01.02，其他写法原样去空格返回
func CanonicalShotID(id string) string {
	trimmed := strings.TrimSpace(id)
	m := shotIDPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return trimmed
	}
	scene, _ := strconv.Atoi(m[1])
	shot, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("S%02d.%02d%s", scene, shot, strings.ToLower(m[3]))
}

// CanonicalSceneID 统一场景ID写法：s1 / S001 → S01
func CanonicalSceneID(id string) string {
	trimmed := strings.TrimSpace(id)
	m := sceneIDPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return trimmed
	}
	n, _ := strconv.Atoi(m[1])
	return fmt.Sprintf("S%02d", n)
}

// SceneIDFromShotID 用第一个分隔符（. - _）之前的部分作为场景ID
func SceneIDFromShotID(shotID string) string {
	id := strings.TrimSpace(shotID)
	if idx := strings.IndexAny(id, ".-_"); idx > 0 {
		return id[:idx]
	}
	return ""
}

// PrimarySequenceID 场景列出多个序列时取第一个
func PrimarySequenceID(raw string) string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '/', '|', '，', '、', ' ', '\t', '\n':
			return true
		}
		return false
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ScenePrefix 旧版场景ID的前缀（用于合成序列），如 "S03" → "S"，"INT2" → "INT"
func ScenePrefix(sceneID string) string {
	id := strings.TrimSpace(sceneID)
	if idx := strings.IndexAny(id, ".-_"); idx > 0 {
		return id[:idx]
	}
	end := len(id)
	for end > 0 && id[end-1] >= '0' && id[end-1] <= '9' {
		end--
	}
	if end == 0 {
		return id
	}
	return id[:end]
}

// VideoKey 视频提示词/地址的复合键
func VideoKey(tool, imageID string) string {
	return tool + "_" + imageID
}

// SplitVideoKey 在第一个下划线处拆分复合键
func SplitVideoKey(key string) (tool, imageID string) {
	idx := strings.Index(key, "_")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// ShotLookup 先精确匹配，再按规范化ID匹配
type ShotLookup struct {
	exact     map[string]int
	canonical map[string]int
}

// NewShotLookup 为文档的镜头建立索引
func NewShotLookup(shots []models.Shot) *ShotLookup {
	l := &ShotLookup{
		exact:     make(map[string]int, len(shots)),
		canonical: make(map[string]int, len(shots)),
	}
	for i, s := range shots {
		l.Add(s.ID, i)
	}
	return l
}

// Add 登记一个镜头下标
func (l *ShotLookup) Add(id string, index int) {
	if _, ok := l.exact[id]; !ok {
		l.exact[id] = index
	}
	c := CanonicalShotID(id)
	if _, ok := l.canonical[c]; !ok {
		l.canonical[c] = index
	}
}

// Find 返回镜头下标，找不到返回 -1
func (l *ShotLookup) Find(id string) int {
	if idx, ok := l.exact[id]; ok {
		return idx
	}
	if idx, ok := l.exact[strings.TrimSpace(id)]; ok {
		return idx
	}
	if idx, ok := l.canonical[CanonicalShotID(id)]; ok {
		return idx
	}
	return -1
}
