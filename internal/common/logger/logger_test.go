package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestZapAdapter_FieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core))

	log.WithFields(map[string]interface{}{"component": "lifecycle"}).
		Warn("notification emission failed", map[string]interface{}{
			"applicationId": "app-1",
			"error":         errors.New("redis down"),
		})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "notification emission failed", entries[0].Message)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "lifecycle", ctx["component"])
	assert.Equal(t, "app-1", ctx["applicationId"])
	assert.Equal(t, "redis down", ctx["error"])
}

func TestNewWithOutput_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.log")

	l := NewWithOutput("info", "json", path)
	l.Info("hello")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNoOpLogger(t *testing.T) {
	log := NewNoOpLogger()
	assert.NotPanics(t, func() {
		log.WithError(errors.New("x")).With(map[string]interface{}{"k": 1}).Error("ignored", nil)
	})
}
