package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/vloop/internal/config"
)

func TestWriterConfig(t *testing.T) {
	lc := config.LoggingConfig{Format: "text", MaxSizeMB: 3, MaxBackups: 2}
	wc := writerConfig(lc, models.LogWriterTypeFile, "/tmp/vloop.log")
	assert.Equal(t, models.LogWriterTypeFile, wc.Type)
	assert.Equal(t, "/tmp/vloop.log", wc.FileName)
	assert.Equal(t, models.OutputFormatLogfmt, wc.OutputType)
	assert.Equal(t, "15:04:05.000", wc.TimeFormat)
	assert.Equal(t, int64(3<<20), wc.MaxSize)
	assert.Equal(t, 2, wc.MaxBackups)

	wc = writerConfig(config.LoggingConfig{Format: "json"}, models.LogWriterTypeConsole, "")
	assert.Equal(t, models.OutputFormatJSON, wc.OutputType)
}

func TestSetupLogger_InstallsProcessLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Service.DataDir = t.TempDir()
	cfg.Logging.Output = []string{"file"}

	l := SetupLogger(cfg)
	assert.NotNil(t, l)
	assert.NotNil(t, GetLogger())
	assert.DirExists(t, filepath.Dir(cfg.LogPath()))
}
