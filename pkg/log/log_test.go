package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewConfig(t *testing.T) {
	cfg := newConfig("debug", "console", "")
	assert.Equal(t, "console", cfg.Encoding)
	assert.Equal(t, zap.DebugLevel, cfg.Level.Level())
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)

	cfg = newConfig("not-a-level", "json", "")
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, zap.InfoLevel, cfg.Level.Level())
}

func TestInit_WritesFileSink(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })

	dir := filepath.Join(t.TempDir(), "logs")
	Init("info", "json", dir)
	Infow("[Log] hello", "tenant", "t1")
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tenant":"t1"`)
}
