// Package logger owns the process-wide arbor logger used by the vloop
// service and CLI.
package logger

import (
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/vloop/internal/config"
	"github.com/ternarybob/vloop/internal/fileutil"
)

var (
	mu     sync.Mutex
	global arbor.ILogger
)

// GetLogger returns the process logger. Before SetupLogger or SetupConsole
// has run it lazily builds a console logger from the default settings.
func GetLogger() arbor.ILogger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = arbor.NewLogger().
			WithConsoleWriter(writerConfig(config.DefaultConfig().Logging, models.LogWriterTypeConsole, ""))
	}
	return global
}

func install(l arbor.ILogger) arbor.ILogger {
	mu.Lock()
	global = l
	mu.Unlock()
	return l
}

// SetupLogger builds the service logger from the sinks cfg resolves to and
// installs it as the process logger. A log directory that cannot be created
// drops the file sink and is reported once the other sinks are attached.
func SetupLogger(cfg *config.Config) arbor.ILogger {
	l := arbor.NewLogger()
	var dirErr error

	for _, sink := range cfg.LogSinks() {
		switch sink.Kind {
		case "file":
			if err := fileutil.EnsureDir(filepath.Dir(sink.Path)); err != nil {
				dirErr = err
				continue
			}
			l = l.WithFileWriter(writerConfig(cfg.Logging, models.LogWriterTypeFile, sink.Path))
		case "console":
			l = l.WithConsoleWriter(writerConfig(cfg.Logging, models.LogWriterTypeConsole, ""))
		case "memory":
			l = l.WithMemoryWriter(writerConfig(cfg.Logging, models.LogWriterTypeMemory, ""))
		}
	}
	l = l.WithLevelFromString(cfg.Logging.Level)

	if dirErr != nil {
		l.Warn().Err(dirErr).Str("path", cfg.LogPath()).Msg("File logging disabled")
	}
	return install(l)
}

// SetupConsole installs a logfmt console logger for one-shot commands.
func SetupConsole(level string) arbor.ILogger {
	lc := config.DefaultConfig().Logging
	lc.Format = "text"
	return install(arbor.NewLogger().
		WithConsoleWriter(writerConfig(lc, models.LogWriterTypeConsole, "")).
		WithLevelFromString(level))
}

func writerConfig(lc config.LoggingConfig, kind models.LogWriterType, path string) models.WriterConfiguration {
	out := models.OutputFormatJSON
	if lc.Logfmt() {
		out = models.OutputFormatLogfmt
	}
	maxBytes, backups := lc.Rotation()
	return models.WriterConfiguration{
		Type:       kind,
		FileName:   path,
		TimeFormat: lc.Layout(),
		OutputType: out,
		MaxSize:    maxBytes,
		MaxBackups: backups,
	}
}

// Stop flushes buffered context logs. Safe to call more than once.
func Stop() {
	arborcommon.Stop()
}
