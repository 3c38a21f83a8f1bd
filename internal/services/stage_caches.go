// internal/services/stage_caches.go
package services

import (
	"sort"
	"strconv"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

// CachesFromDocument 从文档重建三种阶段缓存（整体载入或完整备份恢复后使用）
func CachesFromDocument(doc *models.ProductionDocument) *models.StageCaches {
	caches := models.NewStageCaches()
	if doc == nil {
		return caches
	}
	for _, shot := range doc.Breakdown.Shots {
		for tool, prompt := range shot.ImagePrompts {
			if prompt != (models.ToolPrompt{}) {
				cachePrompt(caches, shot.ID, tool, prompt)
			}
		}
		for key, prompt := range shot.VideoPrompts {
			cacheVideo(caches, shot.ID, key, prompt)
		}
		for tool, slots := range shot.ImageDesign.AIGeneratedImages {
			for i, slot := range slots {
				if slot.URL != "" {
					cacheURL(caches, shot.ID, tool+"_"+strconv.Itoa(i), slot.URL)
				}
			}
		}
		for key, url := range shot.VideoURLs {
			if url != "" {
				cacheURL(caches, shot.ID, key, url)
			}
		}
	}
	return caches
}

func cloneCaches(c *models.StageCaches) *models.StageCaches {
	out := models.NewStageCaches()
	for shot, prompts := range c.ImagePrompts {
		for tool, p := range prompts {
			cachePrompt(out, shot, tool, p)
		}
	}
	for shot, prompts := range c.VideoPrompts {
		for key, p := range prompts {
			cacheVideo(out, shot, key, p)
		}
	}
	for shot, urls := range c.ResolvedURLs {
		for key, u := range urls {
			cacheURL(out, shot, key, u)
		}
	}
	return out
}

func cachePrompt(c *models.StageCaches, shotID, tool string, prompt models.ToolPrompt) {
	if c.ImagePrompts[shotID] == nil {
		c.ImagePrompts[shotID] = make(map[string]models.ToolPrompt)
	}
	c.ImagePrompts[shotID][tool] = prompt
}

func cacheVideo(c *models.StageCaches, shotID, key string, prompt models.VideoPrompt) {
	if c.VideoPrompts[shotID] == nil {
		c.VideoPrompts[shotID] = make(map[string]models.VideoPrompt)
	}
	c.VideoPrompts[shotID][key] = prompt
}

func cacheURL(c *models.StageCaches, shotID, key, url string) {
	if c.ResolvedURLs[shotID] == nil {
		c.ResolvedURLs[shotID] = make(map[string]string)
	}
	c.ResolvedURLs[shotID][key] = url
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
