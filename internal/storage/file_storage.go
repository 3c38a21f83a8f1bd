// internal/storage/file_storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/crc64"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

const fileExt = ".json"

var crcTable = crc64.MakeTable(crc64.ECMA)

// FileStorage 文件后端：键 "project:<slug>:document" 对应 <BaseDir>/project/<slug>/document.json
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex

	sweepInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
	closeOnce     sync.Once
}

// NewFileStorage 创建文件存储并启动临时文件清理
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	s := &FileStorage{
		BaseDir:       filepath.Clean(baseDir),
		sweepInterval: 2 * time.Minute,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.sweepLoop()
	return s, nil
}

// 获取文件锁
func (s *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := s.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// keyPath 把冒号分隔的键映射到 BaseDir 下的路径
func (s *FileStorage) keyPath(key string) (string, error) {
	segments := strings.Split(strings.TrimSuffix(key, ":"), ":")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("非法的存储键: %q", key)
		}
	}
	return filepath.Join(append([]string{s.BaseDir}, segments...)...), nil
}

// Put 原子写入：先写临时文件再重命名
func (s *FileStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base, err := s.keyPath(key)
	if err != nil {
		return err
	}
	fullPath := base + fileExt

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, value, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			utils.GetLogger().Warn("清理临时文件失败", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr.Error(),
			})
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}

// Get 读取键对应的文件
func (s *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	fullPath := base + fileExt

	lock := s.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// Delete 删除单个键，不存在时不报错
func (s *FileStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base, err := s.keyPath(key)
	if err != nil {
		return err
	}
	fullPath := base + fileExt

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	return nil
}

// DeletePrefix 前缀必须落在段边界上（以 ':' 结尾），对应删除整个目录
func (s *FileStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !strings.HasSuffix(prefix, ":") {
		return 0, fmt.Errorf("文件存储只支持按段删除前缀: %q", prefix)
	}
	dir, err := s.keyPath(prefix)
	if err != nil {
		return 0, err
	}

	lock := s.getFileLock(dir)
	lock.Lock()
	defer lock.Unlock()

	count := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, fileExt) {
			count++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("遍历目录失败: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("删除目录失败: %w", err)
	}
	return count, nil
}

// Stamp 内容的 CRC64 加长度；文件可能被其他进程改写，mtime 精度不足以区分连续写入
func (s *FileStorage) Stamp(ctx context.Context, key string) (string, error) {
	content, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%x", len(content), crc64.Checksum(content, crcTable)), nil
}

// Usage 统计所有已存键的字节数，不计 excludeKeys
func (s *FileStorage) Usage(ctx context.Context, excludeKeys ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	exclude := make(map[string]bool, len(excludeKeys))
	for _, key := range excludeKeys {
		base, err := s.keyPath(key)
		if err != nil {
			return 0, err
		}
		exclude[base+fileExt] = true
	}

	var total int64
	err := filepath.WalkDir(s.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fileExt) || exclude[path] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("统计存储占用失败: %w", err)
	}
	return total, nil
}

// Keys 列出以 prefix 开头的全部键
func (s *FileStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != fileExt {
			return nil
		}
		rel, err := filepath.Rel(s.BaseDir, strings.TrimSuffix(path, fileExt))
		if err != nil {
			return nil
		}
		key := strings.Join(strings.Split(filepath.ToSlash(rel), "/"), ":")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("列出存储键失败: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close 停止后台清理
func (s *FileStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

func (s *FileStorage) sweepLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepTempFiles(s.sweepInterval)
		}
	}
}

// sweepTempFiles 删除重命名失败后遗留的临时文件
func (s *FileStorage) sweepTempFiles(olderThan time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-olderThan)
	_ = filepath.WalkDir(s.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	if removed > 0 {
		utils.GetLogger().Info("清理遗留临时文件", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed
}
