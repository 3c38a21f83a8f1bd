// internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ShotPipelineMCP/internal/config"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/services"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// maxIngestBytes 单次摄取请求体上限
const maxIngestBytes = 8 << 20

// Handler 处理API请求
type Handler struct {
	Pipeline *services.PipelineService // 摄取管线
	Export   *services.ExportService   // 备份导出
	Stats    *services.StatsService    // 项目统计
	Hub      *WebSocketManager         // 诊断推送
	Response *ResponseHelper           // 响应助手

	logger *utils.Logger
}

// NewHandler 创建API处理器；hub 与 stats 需已注册为管线的诊断接收方
func NewHandler(pipeline *services.PipelineService, export *services.ExportService, stats *services.StatsService, hub *WebSocketManager) *Handler {
	return &Handler{
		Pipeline: pipeline,
		Export:   export,
		Stats:    stats,
		Hub:      hub,
		Response: NewResponseHelper(),
		logger:   utils.GetLogger(),
	}
}

// IngestText 摄取请求体中的原始文本（通常是模型输出）
func (h *Handler) IngestText(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.readFailed(c, err)
		return
	}
	h.ingest(c, string(body), "http")
}

// IngestFile 摄取 multipart 上传的文件（字段名 file）
func (h *Handler) IngestFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBytes+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		h.readFailed(c, err)
		return
	}

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".json", ".txt", ".md", "":
	default:
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid,
			fmt.Sprintf("不支持的文件类型: %s", header.Filename))
		return
	}
	if header.Size > maxIngestBytes {
		h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorPayloadTooLarge, "文件过大")
		return
	}

	file, err := header.Open()
	if err != nil {
		h.Response.InternalError(c, "读取上传文件失败", err.Error())
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxIngestBytes))
	if err != nil {
		h.Response.InternalError(c, "读取上传文件失败", err.Error())
		return
	}
	h.ingest(c, string(body), "http_file")
}

func (h *Handler) readFailed(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorPayloadTooLarge,
			fmt.Sprintf("请求体超过 %d 字节", tooLarge.Limit))
		return
	}
	h.Response.BadRequest(c, "无法读取请求内容", err.Error())
}

// ingest 调用管线并把诊断结果写回；?confirm=true 确认完整备份替换
func (h *Handler) ingest(c *gin.Context, text, source string) {
	confirmed := c.Query("confirm") == "true"
	opts := services.IngestOptions{
		Source: source,
		Confirm: func(models.BackupSummary) bool {
			return confirmed
		},
	}

	result, err := h.Pipeline.Ingest(c.Request.Context(), c.Param("project"), text, opts)
	if err != nil {
		h.Response.FromError(c, err, result)
		return
	}
	if result.RequiresConfirmation {
		h.Response.ErrorWithData(c, http.StatusConflict, ErrorConfirmationRequired, result.Message, result,
			"使用 ?confirm=true 重新提交以替换当前项目")
		return
	}
	h.Response.Success(c, result, result.Message)
}

// GetDocument 获取项目文档
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.Pipeline.Document(c.Request.Context(), c.Param("project"))
	if err != nil {
		h.Response.FromError(c, err, nil)
		return
	}
	if doc.IsEmpty() {
		h.Response.NotFound(c, "项目", storage.Slug(c.Param("project")))
		return
	}
	h.Response.Success(c, doc)
}

// GetCaches 获取阶段缓存；带 :kind 时只返回该类缓存
func (h *Handler) GetCaches(c *gin.Context) {
	caches, err := h.Pipeline.Caches(c.Request.Context(), c.Param("project"))
	if err != nil {
		h.Response.FromError(c, err, nil)
		return
	}

	kind := models.CacheKind(c.Param("kind"))
	switch kind {
	case "":
		h.Response.Success(c, caches)
	case models.CacheImagePrompts:
		h.Response.Success(c, caches.ImagePrompts)
	case models.CacheVideoPrompts:
		h.Response.Success(c, caches.VideoPrompts)
	case models.CacheResolvedURLs:
		h.Response.Success(c, caches.ResolvedURLs)
	default:
		h.Response.NotFound(c, "缓存", string(kind))
	}
}

// ExportProject 以附件形式导出备份；?type=full|urls
func (h *Handler) ExportProject(c *gin.Context) {
	backupType := c.DefaultQuery("type", "full")
	envelope, err := h.Export.Export(c.Request.Context(), c.Param("project"), backupType)
	if err != nil {
		h.Response.FromError(c, err, nil)
		return
	}

	filename := fmt.Sprintf("%s_%s_%s.json",
		storage.Slug(c.Param("project")), envelope.Type, time.Now().Format("20060102_150405"))
	h.Response.DownloadResponse(c, envelope, filename)
}

// ResetProject 删除项目文档及全部缓存
func (h *Handler) ResetProject(c *gin.Context) {
	removed, err := h.Pipeline.Reset(c.Request.Context(), c.Param("project"))
	if err != nil {
		h.Response.FromError(c, err, nil)
		return
	}
	h.Stats.Forget(c.Param("project"))
	h.Response.Success(c, gin.H{
		"project":      storage.Slug(c.Param("project")),
		"removed_keys": removed,
	}, "项目已重置")
}

// GetProjectStats 获取项目完成度统计
func (h *Handler) GetProjectStats(c *gin.Context) {
	stats, err := h.Stats.ProjectStats(c.Request.Context(), c.Param("project"))
	if err != nil {
		h.Response.FromError(c, err, nil)
		return
	}
	h.Response.Success(c, stats)
}

// ListProjects 列出已有文档的项目
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.Pipeline.Gateway.Projects(c.Request.Context())
	if err != nil {
		h.Response.FromError(c, err, nil)
		return
	}
	h.Response.Success(c, gin.H{
		"projects": projects,
		"count":    len(projects),
	})
}

// GetSettings 获取当前配置（不含密钥）
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, config.GetCurrentConfig())
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
