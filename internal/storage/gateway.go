// internal/storage/gateway.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("storage: key not found")

// DefaultProject 项目名与标题都为空时使用的项目标识
const DefaultProject = "default"

// Backend 键值存储后端（文件、SQLite、Redis）
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get 键不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix 删除所有以 prefix 开头的键，返回删除数量
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Keys 按字典序列出以 prefix 开头的键
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Stamp 键当前内容的版本标记，内容变化后标记必然变化；键不存在时返回 ErrNotFound
	Stamp(ctx context.Context, key string) (string, error)
	// Usage 当前占用字节数，不计 excludeKeys
	Usage(ctx context.Context, excludeKeys ...string) (int64, error)
	Close() error
}

// Gateway 持久化网关：序列化、配额检查、按项目命名键
type Gateway struct {
	backend Backend
	quota   int64 // <=0 不限制
	cache   *DocumentCache
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewGateway 创建持久化网关
func NewGateway(backend Backend, quota int64) *Gateway {
	return &Gateway{
		backend: backend,
		quota:   quota,
		cache:   NewDocumentCache(100, 0),
		logger:  utils.GetLogger(),
		metrics: utils.GetMetricsCollector(),
	}
}

// WithMetrics 替换指标收集器
func (g *Gateway) WithMetrics(m *utils.MetricsCollector) *Gateway {
	g.metrics = m
	return g
}

// Backend 返回底层存储
func (g *Gateway) Backend() Backend {
	return g.backend
}

// Slug 把项目名转换为键中使用的标识：小写，非字母数字折叠为 '-'
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return DefaultProject
	}
	return slug
}

// ProjectOf 文档所属项目：project_name，其次 title，最后 default
func ProjectOf(doc *models.ProductionDocument) string {
	if doc == nil {
		return DefaultProject
	}
	if name := strings.TrimSpace(doc.Metadata.ProjectName); name != "" {
		return name
	}
	if title := strings.TrimSpace(doc.Metadata.Title); title != "" {
		return title
	}
	return DefaultProject
}

// ProjectPrefix 项目下所有键的公共前缀
func ProjectPrefix(project string) string {
	return "project:" + Slug(project) + ":"
}

// DocumentKey 制作文档的存储键
func DocumentKey(project string) string {
	return ProjectPrefix(project) + "document"
}

// CacheKey 阶段缓存的存储键
func CacheKey(project string, kind models.CacheKind) string {
	return ProjectPrefix(project) + "cache:" + string(kind)
}

// Save 按文档自身的项目名保存
func (g *Gateway) Save(ctx context.Context, doc *models.ProductionDocument) error {
	return g.SaveProject(ctx, ProjectOf(doc), doc)
}

// SaveProject 保存到指定项目；超出配额时返回 CapacityExceeded 且不写入任何内容
func (g *Gateway) SaveProject(ctx context.Context, project string, doc *models.ProductionDocument) error {
	return g.SaveState(ctx, project, doc, nil)
}

// SaveState 一并保存文档与阶段缓存（caches 可为 nil）。配额按全部内容一次检查，
// 放不下时返回 CapacityExceeded，文档与缓存都不写入。
func (g *Gateway) SaveState(ctx context.Context, project string, doc *models.ProductionDocument, caches *models.StageCaches) error {
	if doc == nil {
		return apperrors.NewValidationError("文档为空", nil)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewProcessingError("序列化文档失败", err)
	}
	entries := []entry{{key: DocumentKey(project), data: data}}

	cacheList, err := cacheEntries(project, caches)
	if err != nil {
		return err
	}
	if err := g.putAll(ctx, append(entries, cacheList...)); err != nil {
		return err
	}

	g.metrics.SetPersistedBytes(Slug(project), len(data))
	g.logger.Debug("文档已保存", map[string]interface{}{
		"key":    DocumentKey(project),
		"bytes":  len(data),
		"caches": len(cacheList),
	})
	return nil
}

// Load 读取项目文档；不存在时返回 nil, nil
func (g *Gateway) Load(ctx context.Context, project string) (*models.ProductionDocument, error) {
	data, err := g.get(ctx, DocumentKey(project))
	if err != nil || data == nil {
		return nil, err
	}
	var doc models.ProductionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewProcessingError("解析已保存的文档失败", err)
	}
	return &doc, nil
}

// SaveCache 保存一种阶段缓存
func (g *Gateway) SaveCache(ctx context.Context, project string, kind models.CacheKind, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewProcessingError(fmt.Sprintf("序列化缓存 %s 失败", kind), err)
	}
	return g.putAll(ctx, []entry{{key: CacheKey(project, kind), data: data}})
}

// LoadCache 读取阶段缓存到 target；不存在时返回 false
func (g *Gateway) LoadCache(ctx context.Context, project string, kind models.CacheKind, target any) (bool, error) {
	data, err := g.get(ctx, CacheKey(project, kind))
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, apperrors.NewProcessingError(fmt.Sprintf("解析缓存 %s 失败", kind), err)
	}
	return true, nil
}

// SaveCaches 保存全部三种阶段缓存，配额一次检查
func (g *Gateway) SaveCaches(ctx context.Context, project string, caches *models.StageCaches) error {
	entries, err := cacheEntries(project, caches)
	if err != nil || len(entries) == 0 {
		return err
	}
	return g.putAll(ctx, entries)
}

type entry struct {
	key  string
	data []byte
}

func cacheEntries(project string, caches *models.StageCaches) ([]entry, error) {
	if caches == nil {
		return nil, nil
	}
	values := map[models.CacheKind]any{
		models.CacheImagePrompts: caches.ImagePrompts,
		models.CacheVideoPrompts: caches.VideoPrompts,
		models.CacheResolvedURLs: caches.ResolvedURLs,
	}
	entries := make([]entry, 0, len(models.AllCacheKinds))
	for _, kind := range models.AllCacheKinds {
		data, err := json.Marshal(values[kind])
		if err != nil {
			return nil, apperrors.NewProcessingError(fmt.Sprintf("序列化缓存 %s 失败", kind), err)
		}
		entries = append(entries, entry{key: CacheKey(project, kind), data: data})
	}
	return entries, nil
}

// LoadCaches 读取全部阶段缓存，缺失的保持为空
func (g *Gateway) LoadCaches(ctx context.Context, project string) (*models.StageCaches, error) {
	caches := models.NewStageCaches()
	targets := map[models.CacheKind]any{
		models.CacheImagePrompts: &caches.ImagePrompts,
		models.CacheVideoPrompts: &caches.VideoPrompts,
		models.CacheResolvedURLs: &caches.ResolvedURLs,
	}
	for _, kind := range models.AllCacheKinds {
		if _, err := g.LoadCache(ctx, project, kind, targets[kind]); err != nil {
			return nil, err
		}
	}
	if caches.ImagePrompts == nil || caches.VideoPrompts == nil || caches.ResolvedURLs == nil {
		fresh := models.NewStageCaches()
		if caches.ImagePrompts == nil {
			caches.ImagePrompts = fresh.ImagePrompts
		}
		if caches.VideoPrompts == nil {
			caches.VideoPrompts = fresh.VideoPrompts
		}
		if caches.ResolvedURLs == nil {
			caches.ResolvedURLs = fresh.ResolvedURLs
		}
	}
	return caches, nil
}

// Reset 删除项目下的文档与全部缓存
func (g *Gateway) Reset(ctx context.Context, project string) (int, error) {
	prefix := ProjectPrefix(project)
	g.cache.DeletePrefix(prefix)
	n, err := g.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		return 0, apperrors.NewProcessingError("重置项目失败", err)
	}
	g.logger.Info("项目已重置", map[string]interface{}{
		"prefix":  prefix,
		"deleted": n,
	})
	return n, nil
}

// Projects 列出已保存文档的项目标识
func (g *Gateway) Projects(ctx context.Context) ([]string, error) {
	keys, err := g.backend.Keys(ctx, "project:")
	if err != nil {
		return nil, apperrors.NewProcessingError("列出项目失败", err)
	}
	projects := []string{}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, "project:")
		if slug, ok := strings.CutSuffix(rest, ":document"); ok && !strings.Contains(slug, ":") {
			projects = append(projects, slug)
		}
	}
	return projects, nil
}

// Close 关闭底层存储
func (g *Gateway) Close() error {
	return g.backend.Close()
}

// putAll 先按全部条目检查配额，再依次写入
func (g *Gateway) putAll(ctx context.Context, entries []entry) error {
	if g.quota > 0 {
		keys := make([]string, len(entries))
		var size int64
		for i, e := range entries {
			keys[i] = e.key
			size += int64(len(e.data))
		}
		used, err := g.backend.Usage(ctx, keys...)
		if err != nil {
			return apperrors.NewProcessingError("统计存储占用失败", err)
		}
		if required := used + size; required > g.quota {
			return apperrors.NewCapacityExceededError(required, g.quota).WithDetail("keys", keys)
		}
	}
	for _, e := range entries {
		// 写入后的版本标记由下一次读取获取，这里不回填
		g.cache.Delete(e.key)
		if err := g.backend.Put(ctx, e.key, e.data); err != nil {
			return apperrors.NewProcessingError("写入存储失败", err)
		}
	}
	return nil
}

// get 先取后端版本标记，标记一致时才使用缓存内容
func (g *Gateway) get(ctx context.Context, key string) ([]byte, error) {
	stamp, err := g.backend.Stamp(ctx, key)
	if errors.Is(err, ErrNotFound) {
		g.cache.Delete(key)
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取存储失败", err)
	}
	if data, ok := g.cache.Get(key, stamp); ok {
		return data, nil
	}

	data, err := g.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		g.cache.Delete(key)
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取存储失败", err)
	}
	g.cache.Set(key, stamp, data)
	return data, nil
}
