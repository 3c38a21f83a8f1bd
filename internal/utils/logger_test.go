package utils

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(buf, INFO)

	logger.Info("merge finished", map[string]interface{}{"project": "demo", "merged": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "merge finished", entry["message"])
	assert.Equal(t, "demo", entry["project"])
	assert.EqualValues(t, 3, entry["merged"])
	assert.True(t, strings.Contains(entry["caller"].(string), "logger_test.go"))
}

func TestLoggerRespectsLevelAndEnable(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(buf, WARNING)

	logger.Infof("skipped %d", 1)
	assert.Zero(t, buf.Len())

	logger.Warnf("kept %d", 2)
	assert.NotZero(t, buf.Len())

	buf.Reset()
	logger.Enable(false)
	logger.Error("silenced", nil)
	assert.Zero(t, buf.Len())
}

func TestInitLoggerCreatesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "pipeline.log")
	require.NoError(t, InitLogger(logFile))
	t.Cleanup(func() { _ = GetLogger().Close() })

	GetLogger().SetOutput(&bytes.Buffer{})
	GetLogger().Info("to file", nil)
	assert.FileExists(t, logFile)
}
