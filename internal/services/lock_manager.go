// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按项目串行化摄取，同一项目的两次合并不会交错
type LockManager struct {
	projectLocks map[string]*LockInfo
	globalLock   sync.Mutex
	lockTTL      time.Duration
	maxLocks     int

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex          sync.Mutex
	LastUsed       time.Time
	ReferenceCount int32 // 等待或持有该锁的调用数，大于0时不会被清理
}

// NewLockManager 创建锁管理器并启动清理
func NewLockManager() *LockManager {
	lm := &LockManager{
		projectLocks: make(map[string]*LockInfo),
		lockTTL:      30 * time.Minute,
		maxLocks:     200,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go lm.cleanupLoop(5 * time.Minute)
	return lm
}

func (lm *LockManager) acquire(project string) *LockInfo {
	lm.globalLock.Lock()
	info, exists := lm.projectLocks[project]
	if !exists {
		info = &LockInfo{}
		lm.projectLocks[project] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()

	info.Mutex.Lock()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	info.Mutex.Unlock()

	lm.globalLock.Lock()
	info.ReferenceCount--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithProjectLock 在项目锁保护下执行操作
func (lm *LockManager) ExecuteWithProjectLock(project string, fn func() error) error {
	info := lm.acquire(project)
	defer lm.release(info)
	return fn()
}

// Len 当前登记的锁数量
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.projectLocks)
}

// Close 停止清理协程
func (lm *LockManager) Close() {
	lm.closeOnce.Do(func() {
		close(lm.stopCh)
		<-lm.doneCh
	})
}

// 定期清理未使用的锁
func (lm *LockManager) cleanupLoop(interval time.Duration) {
	defer close(lm.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopCh:
			return
		case <-ticker.C:
			lm.cleanupUnusedLocks(time.Now())
		}
	}
}

func (lm *LockManager) cleanupUnusedLocks(now time.Time) int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 只有在锁数量过多时才清理
	if len(lm.projectLocks) <= lm.maxLocks {
		return 0
	}

	removed := 0
	for project, info := range lm.projectLocks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.projectLocks, project)
			removed++
		}
	}
	return removed
}
