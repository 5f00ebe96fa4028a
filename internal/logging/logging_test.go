package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, level, err := New(Config{Level: "info", File: path, MaxSize: 1})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("detection finished", zap.Int("alerts_detected", 2))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"detection finished"`)
	assert.Contains(t, string(data), `"alerts_detected":2`)
	assert.NotContains(t, string(data), "hidden")

	level.SetLevel(zapcore.DebugLevel)
	logger.Debug("now visible")
	_ = logger.Sync()
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "now visible")
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	_, _, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	logger, level, err := New(Config{Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}
