// internal/storage/redis_store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// 辅助哈希：sizesKey 记录每个键的字节数用于配额统计；versionsKey 记录写入次数用于缓存校验，
// 删除键时保留计数，重新写入后版本不会回到旧值
const (
	sizesKey    = "shotpipeline:sizes"
	versionsKey = "shotpipeline:versions"
)

// RedisStore Redis 后端
type RedisStore struct {
	client *redis.Client
	logger *utils.Logger
}

// RedisOptions 连接参数
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedisStore 连接 Redis，带重试的 Ping
func OpenRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("缺少 Redis 地址")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	logger := utils.GetLogger()
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err = client.Ping(pingCtx).Result()
		cancel()
		if err == nil {
			logger.Info("已连接 Redis", map[string]interface{}{
				"addr":    opts.Addr,
				"db":      opts.DB,
				"attempt": attempt,
			})
			return &RedisStore{client: client, logger: logger}, nil
		}
		logger.Warn("连接 Redis 失败，准备重试", map[string]interface{}{
			"addr":    opts.Addr,
			"attempt": attempt,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("连接 Redis 失败: %w", err)
}

// NewRedisStore 包装已有客户端
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, logger: utils.GetLogger()}
}

// Put 写入值并记录大小，两步在同一事务里执行
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, value, 0)
	pipe.HSet(ctx, sizesKey, key, len(value))
	pipe.HIncrBy(ctx, versionsKey, key, 1)
	_, err := pipe.Exec(ctx)
	return err
}

// Get 读取值
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete 删除单个键
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HDel(ctx, sizesKey, key)
	_, err := pipe.Exec(ctx)
	return err
}

// Keys 用 SCAN 列出前缀下的键
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		if key := iter.Val(); key != sizesKey && key != versionsKey {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// DeletePrefix 找出前缀下的键再批量删除
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.HDel(ctx, sizesKey, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(del.Val()), nil
}

// Stamp 返回键的写入次数
func (s *RedisStore) Stamp(ctx context.Context, key string) (string, error) {
	pipe := s.client.Pipeline()
	exists := pipe.Exists(ctx, key)
	version := pipe.HGet(ctx, versionsKey, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if exists.Val() == 0 {
		return "", ErrNotFound
	}
	return version.Val(), nil
}

// Usage 汇总大小哈希，不计 excludeKeys
func (s *RedisStore) Usage(ctx context.Context, excludeKeys ...string) (int64, error) {
	sizes, err := s.client.HGetAll(ctx, sizesKey).Result()
	if err != nil {
		return 0, err
	}
	exclude := make(map[string]bool, len(excludeKeys))
	for _, key := range excludeKeys {
		exclude[key] = true
	}
	var total int64
	for key, v := range sizes {
		if exclude[key] {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			s.logger.Warn("忽略无法解析的大小记录", map[string]interface{}{
				"key":   key,
				"value": v,
			})
			continue
		}
		total += n
	}
	return total, nil
}

// Close 关闭客户端
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob 转义 SCAN MATCH 模式中的特殊字符
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
