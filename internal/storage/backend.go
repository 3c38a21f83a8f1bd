// internal/storage/backend.go
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// 后端类型
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options 选择并配置存储后端
type Options struct {
	Backend    string
	DataDir    string
	SQLitePath string
	Redis      RedisOptions
}

// OpenBackend 按配置打开后端，未知类型返回错误
func OpenBackend(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStorage(filepath.Join(opts.DataDir, "store"))
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.DataDir, "pipeline.db")
		}
		return OpenSQLiteStore(path)
	case BackendRedis:
		return OpenRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", opts.Backend)
	}
}
