// internal/services/pipeline_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/ShotPipelineMCP/internal/classify"
	apperrors "github.com/Corphon/ShotPipelineMCP/internal/errors"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/parser"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// Notifier 接收每次摄取的诊断结果（展示层）
type Notifier interface {
	Publish(result *models.IngestResult)
}

// IngestOptions 单次摄取的调用参数
type IngestOptions struct {
	Confirm ConfirmFunc
	Source  string // http / inbox / cli
}

// PipelineService 解析 → 规范化 → 分类 → 合并 → 持久化
type PipelineService struct {
	Gateway    *storage.Gateway
	Dispatcher *Dispatcher

	locks     *LockManager
	notifiers []Notifier
	logger    *utils.Logger
	metrics   *utils.MetricsCollector
}

// NewPipelineService 创建管线服务
func NewPipelineService(gateway *storage.Gateway, imageTools []string) *PipelineService {
	return &PipelineService{
		Gateway:    gateway,
		Dispatcher: NewDispatcher(imageTools),
		locks:      NewLockManager(),
		logger:     utils.GetLogger(),
		metrics:    utils.GetMetricsCollector(),
	}
}

// AddNotifier 增加诊断结果的接收方；须在开始摄取前调用
func (s *PipelineService) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// SetMetrics 替换指标收集器
func (s *PipelineService) SetMetrics(m *utils.MetricsCollector) {
	s.metrics = m
}

// Close 停止锁清理协程
func (s *PipelineService) Close() {
	s.locks.Close()
}

// Ingest 摄取一段完整文本。返回的结果总是非 nil；失败时 error 为对应的 AppError，
// 且已保存的文档保持不变。
func (s *PipelineService) Ingest(ctx context.Context, project, text string, opts IngestOptions) (*models.IngestResult, error) {
	start := time.Now()
	result := &models.IngestResult{
		IngestID:          uuid.NewString(),
		Project:           storage.Slug(project),
		Status:            models.IngestSuccess,
		MissingReferences: []string{},
		ProcessedAt:       start,
	}

	err := s.ingest(ctx, project, text, opts, result)
	if err != nil {
		s.fail(result, err)
	}

	s.metrics.RecordIngest(string(result.StageTag), string(result.Status), time.Since(start).Seconds())
	s.metrics.RecordMissingReferences(string(result.StageTag), len(result.MissingReferences))

	fields := map[string]interface{}{
		"ingest_id": result.IngestID,
		"project":   result.Project,
		"stage":     result.StageTag,
		"status":    result.Status,
		"merged":    result.MergedCount,
		"source":    opts.Source,
	}
	switch result.Status {
	case models.IngestError:
		fields["error"] = err.Error()
		s.logger.Warn("摄取失败", fields)
	case models.IngestRefused:
		s.logger.Info("摄取被拒绝", fields)
	default:
		s.logger.Info("摄取完成", fields)
	}

	for _, n := range s.notifiers {
		n.Publish(result)
	}
	return result, err
}

func (s *PipelineService) ingest(ctx context.Context, project, text string, opts IngestOptions, result *models.IngestResult) error {
	parsed, err := parser.Parse(text)
	if err != nil {
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			return apperrors.NewSyntaxError(perr.Line, perr.Column, perr.Offset, perr.Err)
		}
		return apperrors.NewSyntaxError(1, 1, 0, err)
	}
	result.WasFixed = parsed.WasFixed
	for _, kind := range parsed.Repairs {
		result.Repairs = append(result.Repairs, string(kind))
		s.metrics.RecordRepair(string(kind))
	}

	frag, err := classify.Classify(classify.NewInput(parsed.Value))
	if err != nil {
		return err
	}
	result.StageTag = frag.Stage()

	return s.locks.ExecuteWithProjectLock(storage.Slug(project), func() error {
		doc, caches, err := s.load(ctx, project)
		if err != nil {
			return err
		}

		outcome, err := s.Dispatcher.Apply(doc, caches, frag, opts.Confirm)
		if err != nil {
			return err
		}
		if outcome.RequiresConfirmation {
			result.Status = models.IngestRefused
			result.RequiresConfirmation = true
			result.Message = fmt.Sprintf("完整备份将替换当前项目（%d 个序列, %d 个场景, %d 个镜头），需要确认",
				outcome.Summary.SequenceCount, outcome.Summary.SceneCount, outcome.Summary.ShotCount)
			return nil
		}

		if err := s.Gateway.SaveState(ctx, project, outcome.Document, outcome.Caches); err != nil {
			return err
		}

		result.MergedCount = outcome.MergedCount
		result.MissingReferences = append(result.MissingReferences, outcome.MissingReferences...)
		result.SlotFallbacks = outcome.SlotFallbacks
		for range outcome.SlotFallbacks {
			s.metrics.RecordSlotFallback()
		}
		if len(outcome.MissingReferences) > 0 {
			result.Message = apperrors.NewReferenceMismatchError(outcome.MissingReferences, outcome.Total).Message
		}
		return nil
	})
}

// fail 把错误写入诊断结果；前置条件未满足视为拒绝，其余为错误
func (s *PipelineService) fail(result *models.IngestResult, err error) {
	result.Status = models.IngestError
	if apperrors.IsPreconditionError(err) {
		result.Status = models.IngestRefused
	}

	ie := &models.IngestFailure{
		Type:    string(apperrors.TypeOf(err)),
		Message: err.Error(),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		ie.Code = appErr.Code
		ie.Message = appErr.Message
		if line, ok := appErr.Details["line"].(int); ok {
			ie.Line = line
		}
		if column, ok := appErr.Details["column"].(int); ok {
			ie.Column = column
		}
	}
	result.Error = ie
	result.Message = ie.Message
}

func (s *PipelineService) load(ctx context.Context, project string) (*models.ProductionDocument, *models.StageCaches, error) {
	doc, err := s.Gateway.Load(ctx, project)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		doc = models.NewProductionDocument()
	}
	caches, err := s.Gateway.LoadCaches(ctx, project)
	if err != nil {
		return nil, nil, err
	}
	return doc, caches, nil
}

// Document 读取项目文档；不存在时返回空文档
func (s *PipelineService) Document(ctx context.Context, project string) (*models.ProductionDocument, error) {
	var doc *models.ProductionDocument
	err := s.locks.ExecuteWithProjectLock(storage.Slug(project), func() error {
		var err error
		doc, _, err = s.load(ctx, project)
		return err
	})
	return doc, err
}

// Caches 读取项目的阶段缓存
func (s *PipelineService) Caches(ctx context.Context, project string) (*models.StageCaches, error) {
	return s.Gateway.LoadCaches(ctx, project)
}

// Reset 删除项目文档和全部缓存
func (s *PipelineService) Reset(ctx context.Context, project string) (int, error) {
	var n int
	err := s.locks.ExecuteWithProjectLock(storage.Slug(project), func() error {
		var err error
		n, err = s.Gateway.Reset(ctx, project)
		return err
	})
	return n, err
}
