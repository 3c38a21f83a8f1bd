// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	InboxDir  string `json:"inbox_dir,omitempty"`
	DebugMode bool   `json:"debug_mode"`

	// 存储配置
	StorageBackend    string `json:"storage_backend"`
	StorageQuotaBytes int64  `json:"storage_quota_bytes"`
	SQLitePath        string `json:"sqlite_path,omitempty"`
	RedisAddr         string `json:"redis_addr,omitempty"`
	RedisPassword     string `json:"-"`
	RedisDB           int    `json:"redis_db"`

	// 管线配置
	ImageTools []string `json:"image_tools"`

	// 认证配置
	AuthRequired  bool   `json:"auth_required"`
	AuthSecretKey string `json:"-"`
}

// Config 从环境变量读取的配置
type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	DataDir   string `envconfig:"DATA_DIR" default:"data"`
	LogDir    string `envconfig:"LOG_DIR" default:"logs"`
	InboxDir  string `envconfig:"INBOX_DIR"`
	DebugMode bool   `envconfig:"DEBUG_MODE" default:"true"`

	StorageBackend    string `envconfig:"STORAGE_BACKEND" default:"file"`
	StorageQuotaBytes int64  `envconfig:"STORAGE_QUOTA_BYTES" default:"5242880"`
	SQLitePath        string `envconfig:"SQLITE_PATH"`
	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0"`

	ImageTools []string `envconfig:"IMAGE_TOOLS" default:"universal,nanobana,midjourney,seedream"`

	AuthRequired  bool   `envconfig:"AUTH_REQUIRED" default:"false"`
	AuthSecretKey string `envconfig:"AUTH_SECRET_KEY"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("加载环境配置失败: %w", err)
	}

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch cfg.StorageBackend {
	case "file", "sqlite":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("STORAGE_BACKEND=redis 需要设置 REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.StorageBackend)
	}

	cfg.ImageTools = cleanList(cfg.ImageTools)
	ensureDir(cfg.DataDir)
	ensureDir(cfg.LogDir)
	if cfg.InboxDir != "" {
		ensureDir(cfg.InboxDir)
	}
	return &cfg, nil
}

// ensureDir 确保目录存在
func ensureDir(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func fromEnv(base *Config) *AppConfig {
	return &AppConfig{
		Port:              base.Port,
		DataDir:           base.DataDir,
		LogDir:            base.LogDir,
		InboxDir:          base.InboxDir,
		DebugMode:         base.DebugMode,
		StorageBackend:    base.StorageBackend,
		StorageQuotaBytes: base.StorageQuotaBytes,
		SQLitePath:        base.SQLitePath,
		RedisAddr:         base.RedisAddr,
		RedisPassword:     base.RedisPassword,
		RedisDB:           base.RedisDB,
		ImageTools:        base.ImageTools,
		AuthRequired:      base.AuthRequired,
		AuthSecretKey:     base.AuthSecretKey,
	}
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = fromEnv(baseConfig)

	// 未通过环境变量指定时，沿用上次保存的图像工具列表
	if _, set := os.LookupEnv("IMAGE_TOOLS"); !set {
		if data, err := os.ReadFile(configFile); err == nil {
			var saved AppConfig
			if json.Unmarshal(data, &saved) == nil && len(saved.ImageTools) > 0 {
				currentConfig.ImageTools = cleanList(saved.ImageTools)
			}
		}
	}

	// 保存初始配置到文件
	return saveLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 未初始化时直接使用环境配置
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: "8080", DataDir: "data", LogDir: "logs", StorageBackend: "file"}
		}
		return fromEnv(baseConfig)
	}

	// 返回配置的副本
	configCopy := *currentConfig
	configCopy.ImageTools = append([]string(nil), currentConfig.ImageTools...)
	return &configCopy
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	// 序列化并保存
	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
