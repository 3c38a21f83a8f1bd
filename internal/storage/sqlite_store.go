// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore 单文件 SQLite 后端，所有键存在一张表里
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore 打开（必要时创建）数据库并迁移表结构
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("缺少 SQLite 路径")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// 单进程写入，保持一个连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 2

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if v < 1 {
		if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS kv_entries (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL,
  size INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
`); err != nil {
			return err
		}
	}
	if v < 2 {
		// version 取自全局写入序号，删除后重新写入也不会与旧版本相同
		for _, stmt := range []string{
			`ALTER TABLE kv_entries ADD COLUMN version INTEGER NOT NULL DEFAULT 0;`,
			`CREATE TABLE IF NOT EXISTS kv_meta (name TEXT PRIMARY KEY, value INTEGER NOT NULL);`,
			`INSERT OR IGNORE INTO kv_meta (name, value) VALUES ('write_seq', 0);`,
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Put 插入或覆盖，同一事务内推进写入序号
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE kv_meta SET value = value + 1 WHERE name = 'write_seq'`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO kv_entries (key, value, size, updated_at_unix_ms, version)
VALUES (?, ?, ?, ?, (SELECT value FROM kv_meta WHERE name = 'write_seq'))
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  size = excluded.size,
  updated_at_unix_ms = excluded.updated_at_unix_ms,
  version = excluded.version
`, key, value, len(value), time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// Get 读取值
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete 删除单个键
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
	return err
}

// DeletePrefix 按前缀删除；用 substr 比较避免 LIKE 通配符转义
func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE substr(key, 1, ?) = ?`, len([]rune(prefix)), prefix)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Keys 按前缀列出键
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE substr(key, 1, ?) = ? ORDER BY key`, len([]rune(prefix)), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Stamp 返回键的写入版本号
func (s *SQLiteStore) Stamp(ctx context.Context, key string) (string, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM kv_entries WHERE key = ?`, key).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(version, 10), nil
}

// Usage 统计值的总字节数，不计 excludeKeys
func (s *SQLiteStore) Usage(ctx context.Context, excludeKeys ...string) (int64, error) {
	query := `SELECT SUM(size) FROM kv_entries`
	args := make([]any, 0, len(excludeKeys))
	if len(excludeKeys) > 0 {
		query += ` WHERE key NOT IN (?` + strings.Repeat(`, ?`, len(excludeKeys)-1) + `)`
		for _, key := range excludeKeys {
			args = append(args, key)
		}
	}

	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
