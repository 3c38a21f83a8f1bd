// internal/storage/file_cache.go
package storage

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DocumentCache 网关层的序列化内容缓存。条目带后端版本标记，标记不一致即失效，
// 其他进程写入同一后端后不会读到旧内容
type DocumentCache struct {
	cache      map[string]*DocumentCacheEntry
	mutex      sync.RWMutex
	maxSize    int           // 最大缓存条目数
	expiration time.Duration // 缓存过期时间
}

// DocumentCacheEntry 缓存条目
type DocumentCacheEntry struct {
	Stamp     string
	Data      []byte
	CreatedAt time.Time
	LastRead  time.Time
}

// NewDocumentCache 创建缓存
func NewDocumentCache(maxSize int, expiration time.Duration) *DocumentCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	return &DocumentCache{
		cache:      make(map[string]*DocumentCacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
	}
}

// Get 返回缓存内容的副本；stamp 与条目不符或已过期时视为未命中
func (c *DocumentCache) Get(key, stamp string) ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if entry.Stamp != stamp || time.Since(entry.CreatedAt) > c.expiration {
		delete(c.cache, key)
		return nil, false
	}
	entry.LastRead = time.Now()
	return append([]byte(nil), entry.Data...), true
}

// Set 写入缓存，超出容量时清理最少使用的条目
func (c *DocumentCache) Set(key, stamp string, data []byte) {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &DocumentCacheEntry{
		Stamp:     stamp,
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
		LastRead:  now,
	}
	if len(c.cache) > c.maxSize {
		c.cleanupLRU(max(1, c.maxSize/5))
	}
}

// Delete 删除单个条目
func (c *DocumentCache) Delete(key string) {
	c.mutex.Lock()
	delete(c.cache, key)
	c.mutex.Unlock()
}

// DeletePrefix 删除前缀下的全部条目
func (c *DocumentCache) DeletePrefix(prefix string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
		}
	}
}

// Len 当前条目数
func (c *DocumentCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// 清理最少使用的条目，调用方持有写锁
func (c *DocumentCache) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.LastRead})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.cache, entries[i].key)
	}
}
