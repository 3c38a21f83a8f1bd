package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) string {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "file", cfg.StorageBackend)
	assert.EqualValues(t, 5242880, cfg.StorageQuotaBytes)
	assert.Equal(t, []string{"universal", "nanobana", "midjourney", "seedream"}, cfg.ImageTools)
	assert.False(t, cfg.AuthRequired)
	assert.DirExists(t, cfg.DataDir)
	assert.DirExists(t, cfg.LogDir)
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("STORAGE_QUOTA_BYTES", "1024")
	t.Setenv("IMAGE_TOOLS", "universal, flux ,")
	t.Setenv("AUTH_REQUIRED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.EqualValues(t, 1024, cfg.StorageQuotaBytes)
	assert.Equal(t, []string{"universal", "flux"}, cfg.ImageTools)
	assert.True(t, cfg.AuthRequired)
}

func TestLoadRejectsBadBackend(t *testing.T) {
	setBaseEnv(t)

	t.Setenv("STORAGE_BACKEND", "mongo")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")
	_, err = Load()
	assert.ErrorContains(t, err, "REDIS_ADDR")
}

func TestInitConfigPersistsWithoutSecrets(t *testing.T) {
	dir := setBaseEnv(t)
	t.Setenv("AUTH_SECRET_KEY", "super-secret")

	require.NoError(t, InitConfig(dir))
	cfg := GetCurrentConfig()
	assert.Equal(t, "super-secret", cfg.AuthSecretKey)

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")

	cfg.ImageTools[0] = "changed"
	assert.NotEqual(t, "changed", GetCurrentConfig().ImageTools[0])
}

func TestInitConfigKeepsSavedImageTools(t *testing.T) {
	dir := setBaseEnv(t)
	data, err := json.Marshal(AppConfig{ImageTools: []string{"flux", "universal"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0644))

	require.NoError(t, InitConfig(dir))
	assert.Equal(t, []string{"flux", "universal"}, GetCurrentConfig().ImageTools)

	t.Setenv("IMAGE_TOOLS", "seedream")
	require.NoError(t, InitConfig(dir))
	assert.Equal(t, []string{"seedream"}, GetCurrentConfig().ImageTools)
}
