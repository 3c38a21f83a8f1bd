// internal/inbox/watcher.go
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/services"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// 归档子目录
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// confirmSuffix 以此结尾的文件视为已确认的完整备份
const confirmSuffix = ".confirmed.json"

// Ingester 摄取一段文本
type Ingester interface {
	Ingest(ctx context.Context, project, text string, opts services.IngestOptions) (*models.IngestResult, error)
}

// Stats 监听器运行统计
type Stats struct {
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Errors    int       `json:"errors"`
	LastPath  string    `json:"last_path,omitempty"`
	LastEvent time.Time `json:"last_event,omitempty"`
}

// Watcher 监听 <dir>/<project>/*.json，摄取后把文件移入 processed/ 或 failed/，
// 并在旁边写入 .result.json 诊断
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	ingester    Ingester
	dir         string
	pending     map[string]time.Time
	debounceDur time.Duration
	logger      *utils.Logger
	stats       Stats

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher 创建收件箱监听器
func NewWatcher(dir string, ingester Ingester) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	return &Watcher{
		watcher:     fw,
		ingester:    ingester,
		dir:         filepath.Clean(dir),
		pending:     make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
		logger:      utils.GetLogger(),
	}, nil
}

// SetDebounce 修改写入稳定等待时间
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDur = d
}

// Start 非阻塞地开始监听；重复调用无效
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	if err := w.prepare(); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	go w.loop(ctx)
	return nil
}

// Run 阻塞监听直到 ctx 取消，然后释放监听器
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-w.doneCh:
	}
	w.Stop()
	return nil
}

// Stop 停止监听并等待事件循环退出
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("关闭收件箱监听器失败", map[string]interface{}{"error": err.Error()})
	}
}

// Stats 返回统计快照
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// prepare 建立根目录与已有项目目录的监听，并把遗留文件排入队列
func (w *Watcher) prepare() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("创建收件箱目录失败: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("监听收件箱目录失败: %w", err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("读取收件箱目录失败: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.watchProject(filepath.Join(w.dir, entry.Name()))
		}
	}

	w.logger.Info("收件箱监听已启动", map[string]interface{}{"dir": w.dir})
	return nil
}

// watchProject 监听项目目录并排入其中已有的文件
func (w *Watcher) watchProject(projectDir string) {
	if err := w.watcher.Add(projectDir); err != nil {
		w.logger.Warn("监听项目目录失败", map[string]interface{}{
			"dir":   projectDir,
			"error": err.Error(),
		})
		return
	}

	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return
	}
	// 遗留文件立即可处理
	ready := time.Now().Add(-time.Hour)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range entries {
		path := filepath.Join(projectDir, entry.Name())
		if !entry.IsDir() && w.isInboxFile(path) {
			w.pending[path] = ready
		}
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("收件箱监听错误", map[string]interface{}{"error": err.Error()})
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case now := <-ticker.C:
			w.processReady(ctx, now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// 根目录下新建的子目录即新项目
	if filepath.Dir(event.Name) == w.dir {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchProject(event.Name)
		}
		return
	}

	if !w.isInboxFile(event.Name) {
		return
	}
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.stats.LastPath = event.Name
	w.stats.LastEvent = time.Now()
	w.mu.Unlock()
}

// isInboxFile 只接受 <dir>/<project>/*.json，排除诊断文件
func (w *Watcher) isInboxFile(path string) bool {
	if filepath.Dir(filepath.Dir(path)) != w.dir {
		return false
	}
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".result.json") && !strings.HasPrefix(name, ".")
}

// processReady 处理写入已稳定的文件，按路径顺序逐个摄取
func (w *Watcher) processReady(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		w.processFile(ctx, path)
	}
}

// processFile 摄取单个文件并归档
func (w *Watcher) processFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("读取收件箱文件失败", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return
	}

	project := filepath.Base(filepath.Dir(path))
	confirmed := strings.HasSuffix(filepath.Base(path), confirmSuffix)
	result, ingestErr := w.ingester.Ingest(ctx, project, string(data), services.IngestOptions{
		Source: "inbox",
		Confirm: func(models.BackupSummary) bool {
			return confirmed
		},
	})

	target := FailedDir
	if ingestErr == nil && result != nil && result.Status == models.IngestSuccess {
		target = ProcessedDir
	}

	if err := w.archive(path, target, result); err != nil {
		w.logger.Error("归档收件箱文件失败", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	if target == ProcessedDir {
		w.stats.Processed++
	} else {
		w.stats.Failed++
	}
	w.mu.Unlock()
}

// archive 把文件移入归档目录，并写入同名 .result.json
func (w *Watcher) archive(path, target string, result *models.IngestResult) error {
	dir := filepath.Join(filepath.Dir(path), target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	name := filepath.Base(path)
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		// 同名文件已归档过，加时间戳区分
		name = fmt.Sprintf("%s_%s.json", strings.TrimSuffix(name, ".json"), time.Now().Format("20060102_150405.000"))
		dest = filepath.Join(dir, name)
	}
	if err := os.Rename(path, dest); err != nil {
		return err
	}

	if result == nil {
		return nil
	}
	diag, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(strings.TrimSuffix(dest, ".json")+".result.json", diag, 0644)
}
