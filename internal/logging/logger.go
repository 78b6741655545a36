package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"staybook/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. Empty fields mean JSON, info level, stdout.
// For file output the returned closer flushes the rotating writer.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}

	output := io.Writer(os.Stdout)
	var closer io.Closer

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		output = os.Stderr
	case "file", "both":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=%s requires logging.file_path", cfg.Output)
		}
		rotator := newRotator(cfg)
		closer = rotator
		output = rotator
		if strings.EqualFold(strings.TrimSpace(cfg.Output), "both") {
			output = zerolog.MultiLevelWriter(os.Stdout, rotator)
		}
	}

	if strings.ToLower(strings.TrimSpace(cfg.Format)) == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Logger()

	return &base, closer, nil
}

func newRotator(cfg config.LoggingConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// Component returns a child logger tagged with the component name.
func Component(log *zerolog.Logger, name string) *zerolog.Logger {
	if log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	child := log.With().Str("component", name).Logger()
	return &child
}
